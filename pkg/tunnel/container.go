package tunnel

import (
	"fmt"
	"net"
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// Proto identifies which physical interface a Tunnel rides on.
type Proto int

const (
	ProtoUDP Proto = iota
	ProtoTCP
	// ProtoQUIC is the optional substitute transport; its senders fill
	// the same container slots as TCP tunnels.
	ProtoQUIC
)

// Sender is the minimal interface a physical tunnel (UDP socket, TCP
// connection, or the optional QUIC substitute) exposes to a Container.
type Sender interface {
	Send(pkg []byte) error
	RemoteAddr() net.Addr
	Proto() Proto
}

// Container is the per-remote TunnelContainer: a default UDP
// tunnel plus zero or more TCP tunnels, the failure-tracked state machine,
// and a pending-package queue drained once a tunnel becomes reachable.
type Container struct {
	mu sync.Mutex

	RemoteId string
	state    State

	defaultUDP Sender
	tcpTunnels []Sender

	consecutiveFailures int
	pending             [][]byte

	// discover is invoked by BuildSend when no tunnel is reachable; it
	// looks up the device cache for remote endpoints and, if still
	// unreachable, issues an SN call. Nil until wired by
	// the owning Manager.
	discover func(remoteId string) (Sender, error)
}

// NewContainer creates a Container in the Connecting state's
// lifecycle rule that tunnels are created on first message to a remote.
func NewContainer(remoteId string, discover func(string) (Sender, error)) *Container {
	return &Container{RemoteId: remoteId, state: StateConnecting, discover: discover}
}

// State returns the container's current lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnReachable installs the resolved default UDP tunnel and moves the
// container to Active (Connecting -> Active on first ack/pong).
func (c *Container) OnReachable(udp Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultUDP = udp
	c.state = StateActive
	c.consecutiveFailures = 0
}

// AddTCPTunnel registers a fallback TCP tunnel for this remote.
func (c *Container) AddTCPTunnel(t Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tcpTunnels = append(c.tcpTunnels, t)
	if c.state == StateDead {
		c.state = StateConnecting
	}
}

// bestTunnelLocked returns the tunnel send_package should prefer: the
// default UDP tunnel if set, else the first TCP fallback.
func (c *Container) bestTunnelLocked() Sender {
	if c.defaultUDP != nil {
		return c.defaultUDP
	}
	if len(c.tcpTunnels) > 0 {
		return c.tcpTunnels[0]
	}
	return nil
}

// SendPackage implements send_package(dyn_pkg): pick the best
// tunnel (prefer Active UDP, fall back to TCP); if only Dead, schedule a
// build via BuildSend instead of sending directly.
func (c *Container) SendPackage(pkg []byte) error {
	c.mu.Lock()
	if c.state == StateDead {
		c.mu.Unlock()
		return c.BuildSend(pkg)
	}
	t := c.bestTunnelLocked()
	c.mu.Unlock()

	if t == nil {
		return c.BuildSend(pkg)
	}

	if err := t.Send(pkg); err != nil {
		c.onSendFailure()
		return fmt.Errorf("tunnel: send to %s: %w", c.RemoteId, err)
	}
	return nil
}

func (c *Container) onSendFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
	if c.consecutiveFailures >= MaxSendFailures {
		c.state = StateDead
		c.defaultUDP = nil
	}
}

// BuildSend implements build_send(pkg, params): enqueue the
// package, begin endpoint discovery, and on completion flush the queue.
// It moves a Dead container back to Connecting.
func (c *Container) BuildSend(pkg []byte) error {
	c.mu.Lock()
	c.pending = append(c.pending, pkg)
	if c.state == StateDead {
		c.state = StateConnecting
	}
	discover := c.discover
	c.mu.Unlock()

	if discover == nil {
		return buckyerr.New(buckyerr.CodeNotConnected, "tunnel: no discovery configured")
	}

	t, err := discover(c.RemoteId)
	if err != nil {
		return fmt.Errorf("%w: %v", buckyerr.New(buckyerr.CodeNotConnected, "tunnel: build failed"), err)
	}
	c.OnReachable(t)
	return c.flush()
}

// flush drains the pending queue over the now-reachable default tunnel.
func (c *Container) flush() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	t := c.bestTunnelLocked()
	c.mu.Unlock()

	if t == nil {
		return buckyerr.New(buckyerr.CodeNotConnected, "tunnel: flush with no reachable tunnel")
	}
	for _, pkg := range pending {
		if err := t.Send(pkg); err != nil {
			c.onSendFailure()
			return err
		}
	}
	return nil
}
