package stream

import (
	"time"

	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// Congestion updates cwnd on ACK: an additive-increase/
// multiplicative-decrease controller operating on the block-list
// SendQueue's byte-accounted flight instead of a ring buffer of
// sequence numbers.
type Congestion struct {
	cwnd    int
	ssthresh int
}

// NewCongestion creates a controller starting in slow-start.
func NewCongestion() *Congestion {
	return &Congestion{cwnd: constants.StreamInitialCwnd, ssthresh: constants.StreamMaxCwnd / 2}
}

// Cwnd returns the current congestion window in bytes.
func (c *Congestion) Cwnd() int { return c.cwnd }

// OnAck grows the window: slow-start doubles per round, congestion
// avoidance grows by one MSS per round, capped at StreamMaxCwnd.
func (c *Congestion) OnAck(ackedBytes int) {
	if c.cwnd < c.ssthresh {
		c.cwnd += ackedBytes // slow start: exponential
	} else {
		c.cwnd += constants.StreamMSS * ackedBytes / c.cwnd // congestion avoidance
	}
	if c.cwnd > constants.StreamMaxCwnd {
		c.cwnd = constants.StreamMaxCwnd
	}
}

// OnLoss halves the window and drops ssthresh, the MD half of AIMD.
func (c *Congestion) OnLoss() {
	c.ssthresh = c.cwnd / 2
	if c.ssthresh < constants.StreamMSS {
		c.ssthresh = constants.StreamMSS
	}
	c.cwnd = c.ssthresh
}

// Pacer rate-limits egress by enforcing a minimum inter-packet delay.
type Pacer struct {
	minGap time.Duration
	last   time.Time
}

// NewPacer creates a pacer with the default minimum inter-packet gap.
func NewPacer() *Pacer {
	return &Pacer{minGap: constants.StreamPacerMinGap}
}

// Allow reports whether a packet may be sent now, and if not, how long to
// wait. Callers that get false should retry after the returned duration
// rather than sending immediately.
func (p *Pacer) Allow(now time.Time) (bool, time.Duration) {
	if p.last.IsZero() || now.Sub(p.last) >= p.minGap {
		return true, 0
	}
	return false, p.minGap - now.Sub(p.last)
}

// MarkSent records that a packet was just emitted, advancing the pacer's
// clock.
func (p *Pacer) MarkSent(now time.Time) { p.last = now }
