// Package tunnel implements the per-remote-device TunnelContainer state
// machine: Connecting/Active/Dead transitions, best-tunnel
// package send, and build-on-demand endpoint discovery.
package tunnel

import "fmt"

// State is a TunnelContainer's lifecycle state's transition
// diagram: Connecting --(first ack/pong)--> Active --(N failed
// sends)--> Dead --(build_send)--> Connecting.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MaxSendFailures is the number of consecutive failed sends that moves an
// Active tunnel to Dead.
const MaxSendFailures = 3
