package stack

import (
	"context"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// RestartPolicy bounds how aggressively a dead tick loop is revived.
type RestartPolicy struct {
	MaxRestarts int
	Backoff     time.Duration
}

// DefaultRestartPolicy allows three revivals, five seconds apart.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxRestarts: 3, Backoff: 5 * time.Second}
}

// Supervise runs a stack until ctx ends: it starts the stack, watches
// the tick loop, revives it with backoff if it dies while the stack is
// still meant to be running, and stops the stack cleanly on ctx
// cancellation. It blocks until the stack is down, returning nil on a
// clean shutdown and an error once the restart budget is spent.
func Supervise(ctx context.Context, s *Stack, policy RestartPolicy) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	restarts := 0
	for {
		s.mu.Lock()
		loopDone := s.done
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return shutdown(s)
		case <-loopDone:
		}
		if ctx.Err() != nil {
			// The loop exited because the context ended underneath it.
			return shutdown(s)
		}
		if s.State() != StateRunning {
			// Someone stopped the stack deliberately; supervision ends
			// with it.
			return nil
		}

		// The loop died out from under a running stack: revive it.
		if restarts >= policy.MaxRestarts {
			return buckyerr.Newf(buckyerr.CodeErrorState, "stack: tick loop died %d times, giving up", restarts)
		}
		restarts++
		select {
		case <-ctx.Done():
			return shutdown(s)
		case <-time.After(policy.Backoff):
		}

		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
}

// shutdown stops the stack with a bounded grace period, tolerating a
// stack that already stopped itself.
func shutdown(s *Stack) error {
	if s.State() != StateRunning {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}
