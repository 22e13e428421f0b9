package snclient

import (
	"time"

	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/envelope"
)

// The SN protocol's messages ride the shared signed envelope; only the
// kind-specific bodies are defined here.

// SnPingBody is the wire body of an SnPing. peer_info and contract_id
// carry a CBOR-encoded Device object and are omitted when nil; the
// envelope's seq/from fields carry the sequence and sender id.
type SnPingBody struct {
	FromPeerId string `cbor:"from_peer_id"`
	SnPeerId   string `cbor:"sn_peer_id"`
	PeerInfo   []byte `cbor:"peer_info,omitempty"`
	SendTime   uint64 `cbor:"send_time"`
	ContractId []byte `cbor:"contract_id,omitempty"`
	Receipt    []byte `cbor:"receipt,omitempty"`
}

// SnPingRespBody is the wire body of an SnPingResp: the 16-bit
// BuckyError result code plus the SN's view of the sender's endpoints.
type SnPingRespBody struct {
	Result    uint16   `cbor:"result"`
	Endpoints []string `cbor:"end_point_array"`
}

// SnCallBody is the wire body of an SnCall forwarded by the SN to the
// callee's Call session.
type SnCallBody struct {
	FromPeerId string `cbor:"from_peer_id"`
	ToPeerId   string `cbor:"to_peer_id"`
	SnPeerId   string `cbor:"sn_peer_id"`
	SendTime   uint64 `cbor:"send_time"`
}

// SnCallRespBody is the callee's answer, relayed back through the SN. An
// empty Endpoints list signals both sides should hole-punch toward
// SNObserved.
type SnCallRespBody struct {
	Result     uint16   `cbor:"result"`
	Endpoints  []string `cbor:"end_point_array"`
	SNObserved string   `cbor:"sn_observed,omitempty"`
}

// NewSnPingFrame builds an SnPing envelope ready to sign.
func NewSnPingFrame(fromPeerId, snPeerId string, seq uint32, peerInfo []byte) (*envelope.Envelope, error) {
	return envelope.New(constants.KindSnPing, fromPeerId, seq, &SnPingBody{
		FromPeerId: fromPeerId,
		SnPeerId:   snPeerId,
		PeerInfo:   peerInfo,
		SendTime:   uint64(time.Now().UnixMicro()),
	})
}

// NewSnPingRespFrame builds the SN's reply to an SnPing.
func NewSnPingRespFrame(from string, seq uint32, result uint16, endpoints []string) (*envelope.Envelope, error) {
	return envelope.New(constants.KindSnPingResp, from, seq, &SnPingRespBody{
		Result:    result,
		Endpoints: endpoints,
	})
}

// NewSnCallFrame builds the SN's forwarded SnCall to the callee.
func NewSnCallFrame(fromPeerId, toPeerId, snPeerId string, seq uint32) (*envelope.Envelope, error) {
	return envelope.New(constants.KindSnCall, snPeerId, seq, &SnCallBody{
		FromPeerId: fromPeerId,
		ToPeerId:   toPeerId,
		SnPeerId:   snPeerId,
		SendTime:   uint64(time.Now().UnixMicro()),
	})
}

// NewSnCallRespFrame builds the callee's (or SN's relayed) answer.
func NewSnCallRespFrame(from string, seq uint32, result uint16, endpoints []string, snObserved string) (*envelope.Envelope, error) {
	return envelope.New(constants.KindSnCallResp, from, seq, &SnCallRespBody{
		Result:     result,
		Endpoints:  endpoints,
		SNObserved: snObserved,
	})
}
