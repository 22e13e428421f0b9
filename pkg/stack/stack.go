// Package stack owns the process-wide singletons — keystore, device
// cache, named-object cache, tunnel manager, stream manager, resolvers,
// router — and their lifecycle: construction in dependency order, a
// shutdown that ends the shared tick loop and closes the device cache,
// and a supervised restart loop for the tick loop.
package stack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/internal/devicecache"
	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/identity"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/ndn"
	"github.com/cyfs-go/cyfscore/pkg/noc"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
	"github.com/cyfs-go/cyfscore/pkg/resolver/name"
	"github.com/cyfs-go/cyfscore/pkg/resolver/ood"
	"github.com/cyfs-go/cyfscore/pkg/router"
	"github.com/cyfs-go/cyfscore/pkg/stream"
	"github.com/cyfs-go/cyfscore/pkg/tunnel"
)

// State is the stack's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Config carries bring-up parameters.
type Config struct {
	// Identity is the local device identity; required.
	Identity *identity.Identity

	// NameQuery is the upstream (meta-chain) name lookup; nil disables
	// name resolution.
	NameQuery name.Query

	// TickInterval drives the shared time-escape clock. Zero means one
	// second.
	TickInterval time.Duration
}

// Stack holds the singletons. All of them live exactly as long as the
// stack; of them, only the device cache has a teardown step (see Stop).
type Stack struct {
	mu    sync.Mutex
	state State

	config Config

	Keystore      *keyring.Keystore
	DeviceCache   *devicecache.Cache
	Noc           *noc.Noc
	Router        *router.Router
	TunnelManager *tunnel.Manager
	StreamManager *stream.Manager
	Dispatcher    *tunnel.Dispatcher
	NameResolver  *name.Resolver
	OodResolver   *ood.Resolver
	MissingCache  *ndn.MissingCache

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// tickables are the per-component OnTimeEscape sinks driven by the
	// shared clock. Components register at bring-up.
	tickMu    sync.Mutex
	tickables []func(now time.Time)
}

// New constructs a stack's singletons without starting the loops.
func New(config Config) (*Stack, error) {
	if config.Identity == nil {
		return nil, buckyerr.New(buckyerr.CodeInvalidParam, "stack: identity required")
	}
	if config.TickInterval == 0 {
		config.TickInterval = time.Second
	}

	s := &Stack{config: config, state: StateIdle}

	// Leaves first: keystore and device cache have no dependencies.
	s.Keystore = keyring.NewKeystore()
	s.DeviceCache = devicecache.New(constants.DeviceCacheTTL)

	// Caches and pipelines.
	s.Noc = noc.New(noc.NewMemStorage())
	s.Router = router.New(nil)
	s.MissingCache = ndn.NewMissingCache()

	// Transports: tunnel manager, then the session layers over it.
	s.Dispatcher = tunnel.NewDispatcher()
	s.TunnelManager = tunnel.NewManager(nil)
	s.StreamManager = stream.NewManager(func(remoteId string) (stream.Sender, error) {
		return s.TunnelManager.GetOrCreate(remoteId), nil
	})

	// Resolvers last: they read through the caches above.
	if config.NameQuery != nil {
		s.NameResolver = name.NewResolver(config.NameQuery)
	}
	s.OodResolver = ood.NewResolver(nocSource{s.Noc})

	return s, nil
}

// nocSource adapts the NOC to the OOD resolver's object source.
type nocSource struct {
	noc *noc.Noc
}

func (s nocSource) GetObject(id objectid.ObjectId) (*objectcodec.Object, error) {
	row, err := s.noc.GetObject(id)
	if err != nil {
		return nil, err
	}
	return objectcodec.FromBytes(row.Raw)
}

// Identity returns the local device identity.
func (s *Stack) Identity() *identity.Identity {
	return s.config.Identity
}

// State returns the lifecycle state.
func (s *Stack) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RegisterTickable subscribes a component to the shared time-escape
// clock.
func (s *Stack) RegisterTickable(f func(now time.Time)) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.tickables = append(s.tickables, f)
}

// Start brings the loops up.
func (s *Stack) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateStopped {
		return buckyerr.Newf(buckyerr.CodeErrorState, "stack: start in state %v", s.state)
	}
	s.state = StateStarting
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run()
	s.state = StateRunning
	return nil
}

// run drives the shared tick until the stack stops.
func (s *Stack) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tickMu.Lock()
			sinks := append([]func(time.Time){}, s.tickables...)
			s.tickMu.Unlock()
			for _, f := range sinks {
				f(now)
			}
			s.StreamManager.Reap()
		}
	}
}

// Stop ends the shared tick loop, waits for it to exit, and then closes
// the device cache. Nothing else is torn down: the handler chain, stream
// sessions and tunnels are left as they are.
func (s *Stack) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return buckyerr.Newf(buckyerr.CodeErrorState, "stack: stop in state %v", s.state)
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("stack: timeout waiting for tick loop: %w", ctx.Err())
	}

	s.DeviceCache.Close()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}
