package noiseik

import (
	"sync"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// ReplayGuard rejects replayed handshake hellos. Each device's hello
// carries a strictly increasing sequence number; the guard remembers the
// highest accepted value per device and refuses anything at or below it.
// Idle devices are forgotten after the retention window, which is safe
// because the freshness check already rejects hellos older than the
// clock-skew bound.
type ReplayGuard struct {
	mu        sync.Mutex
	retention time.Duration
	seen      map[string]*guardEntry
}

type guardEntry struct {
	highSeq  uint32
	lastSeen time.Time
}

// NewReplayGuard creates a guard. A zero retention falls back to twice
// the hello skew window.
func NewReplayGuard(retention time.Duration) *ReplayGuard {
	if retention == 0 {
		retention = 2 * maxHelloSkew
	}
	return &ReplayGuard{
		retention: retention,
		seen:      make(map[string]*guardEntry),
	}
}

// Check accepts seq for device if it is strictly above the highest seen,
// recording it. Replays and reorderings at or below the watermark fail.
func (g *ReplayGuard) Check(device string, seq uint32) error {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reapLocked(now)
	entry, ok := g.seen[device]
	if !ok {
		g.seen[device] = &guardEntry{highSeq: seq, lastSeen: now}
		return nil
	}
	if seq <= entry.highSeq {
		return buckyerr.Newf(buckyerr.CodeInvalidData, "noiseik: replayed hello seq %d from %s (high water %d)", seq, device, entry.highSeq)
	}
	entry.highSeq = seq
	entry.lastSeen = now
	return nil
}

func (g *ReplayGuard) reapLocked(now time.Time) {
	for device, entry := range g.seen {
		if now.Sub(entry.lastSeen) > g.retention {
			delete(g.seen, device)
		}
	}
}

// Len reports how many devices the guard currently tracks.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
