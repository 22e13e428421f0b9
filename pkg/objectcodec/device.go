package objectcodec

import (
	"fmt"
	"net"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// EndpointProto is the transport protocol an endpoint listens on.
type EndpointProto uint8

const (
	EndpointUDP EndpointProto = 0
	EndpointTCP EndpointProto = 1
)

// Endpoint is one reachable address a Device object advertises in its
// descriptor.
type Endpoint struct {
	Proto EndpointProto
	IP    net.IP // stored as a 16-byte (v4-mapped or native v6) address
	Port  uint16
}

func (e Endpoint) measure() int { return 1 + 16 + 2 }

func (e Endpoint) encode(buf []byte) []byte {
	buf = putUint8(buf, uint8(e.Proto))
	ip16 := e.IP.To16()
	if ip16 == nil {
		ip16 = make(net.IP, 16)
	}
	n := copy(buf, ip16)
	buf = buf[n:]
	buf = putUint16(buf, e.Port)
	return buf
}

func decodeEndpoint(buf []byte) (Endpoint, []byte, error) {
	var e Endpoint
	proto, rest, err := getUint8(buf)
	if err != nil {
		return e, buf, err
	}
	e.Proto = EndpointProto(proto)
	if err := outOfLimit(rest, 16); err != nil {
		return e, buf, err
	}
	e.IP = append(net.IP(nil), rest[:16]...)
	rest = rest[16:]
	e.Port, rest, err = getUint16(rest)
	if err != nil {
		return e, buf, err
	}
	return e, rest, nil
}

// DeviceDescContent is the Device object's immutable content: the endpoint
// list. The public key sub-descriptor lives in the generic Desc.PublicKey
// field rather than here, since every Device carries exactly one signing
// key and the generic codec already has a slot for it.
type DeviceDescContent struct {
	Endpoints []Endpoint
}

// Encode renders the content bytes to install as a Desc's Content field.
func (d *DeviceDescContent) Encode() []byte {
	n := 1
	for _, e := range d.Endpoints {
		n += e.measure()
	}
	buf := make([]byte, n)
	out := putUint8(buf, uint8(len(d.Endpoints)))
	for _, e := range d.Endpoints {
		out = e.encode(out)
	}
	return buf
}

// DecodeDeviceDescContent parses a Desc's Content bytes as a
// DeviceDescContent.
func DecodeDeviceDescContent(content []byte) (*DeviceDescContent, error) {
	count, rest, err := getUint8(content)
	if err != nil {
		return nil, err
	}
	out := &DeviceDescContent{Endpoints: make([]Endpoint, 0, count)}
	for i := 0; i < int(count); i++ {
		var e Endpoint
		e, rest, err = decodeEndpoint(rest)
		if err != nil {
			return nil, err
		}
		out.Endpoints = append(out.Endpoints, e)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in device desc content", ErrInvalidData)
	}
	return out, nil
}

// NewDeviceDesc builds a Desc for a Device object: type Device, the given
// owner (a Device's owning People/Zone), signing key, and endpoint list.
func NewDeviceDesc(owner *objectid.ObjectId, pub *keyring.PublicKey, endpoints []Endpoint) *Desc {
	content := (&DeviceDescContent{Endpoints: endpoints}).Encode()
	return &Desc{
		ObjType:   objectid.ObjTypeDevice,
		Owner:     owner,
		PublicKey: pub,
		Content:   content,
	}
}
