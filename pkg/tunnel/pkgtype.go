package tunnel

import (
	"encoding/binary"
	"sync"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
)

// PkgType is the 1-byte type code leading every package inside a
// PackageBox. Codes are wire protocol: never renumber.
type PkgType uint8

const (
	PkgExchange PkgType = iota
	PkgSynTunnel
	PkgAckTunnel
	PkgPing
	PkgPingResp
	PkgSnCall
	PkgSnCallResp
	PkgDatagram
	PkgSessionData
	PkgInterest
	PkgPieceData
	PkgPieceControl
)

func (t PkgType) String() string {
	switch t {
	case PkgExchange:
		return "exchange"
	case PkgSynTunnel:
		return "syn-tunnel"
	case PkgAckTunnel:
		return "ack-tunnel"
	case PkgPing:
		return "ping"
	case PkgPingResp:
		return "ping-resp"
	case PkgSnCall:
		return "sn-call"
	case PkgSnCallResp:
		return "sn-call-resp"
	case PkgDatagram:
		return "datagram"
	case PkgSessionData:
		return "session-data"
	case PkgInterest:
		return "interest"
	case PkgPieceData:
		return "piece-data"
	case PkgPieceControl:
		return "piece-control"
	default:
		return "invalid"
	}
}

// EncodePackage frames one package: the type code, a u32 body length,
// then the body.
func EncodePackage(t PkgType, body []byte) []byte {
	buf := make([]byte, 1+4+len(body))
	buf[0] = byte(t)
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(body)))
	copy(buf[5:], body)
	return buf
}

// DecodePackage splits a framed package into its type and body.
func DecodePackage(pkg []byte) (PkgType, []byte, error) {
	if len(pkg) < 5 {
		return 0, nil, buckyerr.New(buckyerr.CodeOutOfLimit, "tunnel: package header truncated")
	}
	t := PkgType(pkg[0])
	if t > PkgPieceControl {
		return 0, nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "tunnel: unknown package type %d", pkg[0])
	}
	n := binary.LittleEndian.Uint32(pkg[1:5])
	if len(pkg)-5 < int(n) {
		return 0, nil, buckyerr.New(buckyerr.CodeInvalidData, "tunnel: package body truncated")
	}
	return t, pkg[5 : 5+n], nil
}

// PackageHandler consumes one decoded package's body. remoteId names the
// tunnel the package arrived on.
type PackageHandler func(remoteId string, body []byte)

// Dispatcher routes decoded packages to the session layer that owns each
// type: stream, datagram, ndn channel, or sn client. Handlers register a
// capability set rather than subclassing a session base.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[PkgType]PackageHandler

	// droppedPackets counts packages that failed to decode or had no
	// registered handler. A decode failure is fatal to that package
	// only; the box's remaining packages still dispatch.
	droppedPackets uint64
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[PkgType]PackageHandler)}
}

// Register installs the handler for one package type, replacing any
// previous one.
func (d *Dispatcher) Register(t PkgType, h PackageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// DispatchBox decodes every package in a box and routes each to its
// handler. It returns the number of packages delivered.
func (d *Dispatcher) DispatchBox(remoteId string, box *PackageBox) int {
	delivered := 0
	for _, pkg := range box.Packages {
		t, body, err := DecodePackage(pkg)
		if err != nil {
			d.mu.Lock()
			d.droppedPackets++
			d.mu.Unlock()
			continue
		}
		d.mu.RLock()
		h := d.handlers[t]
		d.mu.RUnlock()
		if h == nil {
			d.mu.Lock()
			d.droppedPackets++
			d.mu.Unlock()
			continue
		}
		h(remoteId, body)
		delivered++
	}
	return delivered
}

// Dropped returns how many packages were discarded undelivered.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.droppedPackets
}
