// Package datagram implements the BDT datagram transport: a per-vport
// bounded FIFO of Datagram values riding atop pkg/tunnel. On overflow
// the oldest entry is dropped, keeping the freshest traffic.
package datagram

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// Datagram is the wire form: to/from vports, the optional sequence,
// send_time, create_time and author_id fields, an inner type tag, and
// the payload.
type Datagram struct {
	ToVPort    uint16
	FromVPort  uint16
	Sequence   *uint32
	SendTime   *uint64
	CreateTime *uint64
	AuthorId   string
	InnerType  uint8
	Data       []byte
}

// presence bits for the optional-field header, in the order listed
const (
	hasSequence = 1 << iota
	hasSendTime
	hasCreateTime
	hasAuthorId
)

// Encode serializes a Datagram: little-endian fixed fields and a
// presence-flag byte for the optional ones.
func (d *Datagram) Encode() []byte {
	var flags uint8
	if d.Sequence != nil {
		flags |= hasSequence
	}
	if d.SendTime != nil {
		flags |= hasSendTime
	}
	if d.CreateTime != nil {
		flags |= hasCreateTime
	}
	if d.AuthorId != "" {
		flags |= hasAuthorId
	}

	size := 2 + 2 + 1 + 1 + len(d.Data)
	if d.Sequence != nil {
		size += 4
	}
	if d.SendTime != nil {
		size += 8
	}
	if d.CreateTime != nil {
		size += 8
	}
	if d.AuthorId != "" {
		size += 1 + len(d.AuthorId)
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], d.ToVPort)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], d.FromVPort)
	off += 2
	buf[off] = flags
	off++
	buf[off] = d.InnerType
	off++
	if d.Sequence != nil {
		binary.LittleEndian.PutUint32(buf[off:], *d.Sequence)
		off += 4
	}
	if d.SendTime != nil {
		binary.LittleEndian.PutUint64(buf[off:], *d.SendTime)
		off += 8
	}
	if d.CreateTime != nil {
		binary.LittleEndian.PutUint64(buf[off:], *d.CreateTime)
		off += 8
	}
	if d.AuthorId != "" {
		buf[off] = uint8(len(d.AuthorId))
		off++
		off += copy(buf[off:], d.AuthorId)
	}
	off += copy(buf[off:], d.Data)
	return buf[:off]
}

// Decode parses a Datagram from raw tunnel payload.
func Decode(buf []byte) (*Datagram, error) {
	if len(buf) < 6 {
		return nil, buckyerr.New(buckyerr.CodeOutOfLimit, "datagram: header truncated")
	}
	d := &Datagram{}
	off := 0
	d.ToVPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	d.FromVPort = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	flags := buf[off]
	off++
	d.InnerType = buf[off]
	off++

	need := func(n int) error {
		if len(buf)-off < n {
			return buckyerr.New(buckyerr.CodeInvalidData, "datagram: truncated optional field")
		}
		return nil
	}
	if flags&hasSequence != 0 {
		if err := need(4); err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint32(buf[off:])
		d.Sequence = &v
		off += 4
	}
	if flags&hasSendTime != 0 {
		if err := need(8); err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint64(buf[off:])
		d.SendTime = &v
		off += 8
	}
	if flags&hasCreateTime != 0 {
		if err := need(8); err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint64(buf[off:])
		d.CreateTime = &v
		off += 8
	}
	if flags&hasAuthorId != 0 {
		if err := need(1); err != nil {
			return nil, err
		}
		n := int(buf[off])
		off++
		if err := need(n); err != nil {
			return nil, err
		}
		d.AuthorId = string(buf[off : off+n])
		off += n
	}
	d.Data = append([]byte(nil), buf[off:]...)
	return d, nil
}

// Sender is the minimal egress a DatagramTunnel needs; pkg/tunnel.Container
// satisfies it, mirroring pkg/stream.Sender.
type Sender interface {
	SendPackage(pkg []byte) error
}

// TunnelState mirrors pkg/tunnel.State's Dead classification closely
// enough for send_to's NotConnected branch, without importing pkg/tunnel
// directly (datagram stays decoupled, wired at the call site).
type TunnelState int

const (
	TunnelReachable TunnelState = iota
	TunnelDead
)

// Tunnel is the per-bound-vport DatagramTunnel: a bounded FIFO
// receive queue plus the send path over a Sender resolved lazily.
type Tunnel struct {
	mu sync.Mutex

	vport uint16
	queue []*Datagram
	cap   int

	resolve func() (Sender, TunnelState)
	buildTunnel func()
}

// NewTunnel creates a datagram tunnel bound to vport, with the given
// receive-queue capacity (defaults to DatagramQueueCapacity). resolve
// returns the current Sender for this remote and whether its tunnel is
// Dead; buildTunnel is invoked (once, asynchronously by the caller) to
// kick off a background tunnel build on NotConnected.
func NewTunnel(vport uint16, capacity int, resolve func() (Sender, TunnelState), buildTunnel func()) *Tunnel {
	if capacity <= 0 {
		capacity = constants.DatagramQueueCapacity
	}
	return &Tunnel{vport: vport, cap: capacity, resolve: resolve, buildTunnel: buildTunnel}
}

// SendTo implements send_to(buf, options, remote, vport): builds a
// Datagram and hands it to the tunnel layer. If the tunnel is Dead,
// returns NotConnected and triggers a background build.
func (t *Tunnel) SendTo(data []byte, remoteVPort uint16, innerType uint8) error {
	sender, state := t.resolve()
	if state == TunnelDead || sender == nil {
		if t.buildTunnel != nil {
			go t.buildTunnel()
		}
		return buckyerr.New(buckyerr.CodeNotConnected, "datagram: tunnel not connected")
	}
	d := &Datagram{ToVPort: remoteVPort, FromVPort: t.vport, InnerType: innerType, Data: data}
	if err := sender.SendPackage(d.Encode()); err != nil {
		return fmt.Errorf("datagram: send: %w", err)
	}
	return nil
}

// OnDatagram enqueues an inbound Datagram. When the bounded FIFO is
// full the oldest datagram is dropped, not the newest.
func (t *Tunnel) OnDatagram(d *Datagram) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) >= t.cap {
		t.queue = t.queue[1:]
	}
	t.queue = append(t.queue, d)
}

// RecvV implements recv_v(): yields the entire buffer atomically
// and clears it.
func (t *Tunnel) RecvV() []*Datagram {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queue
	t.queue = nil
	return out
}

// Len reports the number of datagrams currently queued (for tests/control
// surface observation).
func (t *Tunnel) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
