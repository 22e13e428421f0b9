// Package envelope implements the signed control envelope shared by the
// SN client and the tunnel handshake: a canonical-CBOR structure whose
// signature covers an explicit array of its fields, so signing bytes are
// deterministic by construction rather than by re-encoding the envelope
// with fields stripped.
package envelope

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
)

// encMode is the canonical encoding every envelope (and its signing
// bytes) uses: deterministic map key order, shortest-form integers.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("envelope: canonical enc mode: %v", err))
	}
}

// Envelope is one signed control message. Body holds the kind-specific
// payload, already canonically encoded, so that the bytes the signature
// covers and the bytes on the wire can never disagree.
type Envelope struct {
	V    uint16          `cbor:"v"`
	Kind uint16          `cbor:"kind"`
	From string          `cbor:"from"`
	Seq  uint32          `cbor:"seq"`
	TS   uint64          `cbor:"ts"`
	Body cbor.RawMessage `cbor:"body"`
	Sig  []byte          `cbor:"sig,omitempty"`
}

// New builds an unsigned envelope around body, stamping the current
// time.
func New(kind uint16, from string, seq uint32, body interface{}) (*Envelope, error) {
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "envelope: encode body: %v", err)
	}
	return &Envelope{
		V:    constants.ProtocolVersion,
		Kind: kind,
		From: from,
		Seq:  seq,
		TS:   uint64(time.Now().UnixMilli()),
		Body: raw,
	}, nil
}

// Seal builds and signs in one step.
func Seal(kind uint16, from string, seq uint32, body interface{}, priv ed25519.PrivateKey) (*Envelope, error) {
	e, err := New(kind, from, seq, body)
	if err != nil {
		return nil, err
	}
	if err := e.Sign(priv); err != nil {
		return nil, err
	}
	return e, nil
}

// signingBytes is the canonical CBOR of the fixed six-element array
// [v, kind, from, seq, ts, body]. The signature never covers itself and
// never depends on struct-tag ordering.
func (e *Envelope) signingBytes() ([]byte, error) {
	arr := []interface{}{e.V, e.Kind, e.From, e.Seq, e.TS, e.Body}
	data, err := encMode.Marshal(arr)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "envelope: encode signing bytes: %v", err)
	}
	return data, nil
}

// Sign signs the envelope with the sender's Ed25519 envelope key.
func (e *Envelope) Sign(priv ed25519.PrivateKey) error {
	data, err := e.signingBytes()
	if err != nil {
		return err
	}
	e.Sig = ed25519.Sign(priv, data)
	return nil
}

// Verify checks the signature against the sender's public key.
func (e *Envelope) Verify(pub ed25519.PublicKey) error {
	if len(e.Sig) == 0 {
		return buckyerr.New(buckyerr.CodeInvalidSignature, "envelope: unsigned")
	}
	data, err := e.signingBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, data, e.Sig) {
		return buckyerr.New(buckyerr.CodeInvalidSignature, "envelope: signature mismatch")
	}
	return nil
}

// CheckFresh rejects envelopes whose version is unknown or whose
// timestamp falls outside the tolerated clock skew.
func (e *Envelope) CheckFresh(now time.Time, maxSkew time.Duration) error {
	if e.V != constants.ProtocolVersion {
		return buckyerr.Newf(buckyerr.CodeUnSupport, "envelope: protocol version %d", e.V)
	}
	ts := time.UnixMilli(int64(e.TS))
	if ts.After(now.Add(maxSkew)) || ts.Before(now.Add(-maxSkew)) {
		return buckyerr.Newf(buckyerr.CodeInvalidData, "envelope: timestamp %v outside skew window", ts)
	}
	return nil
}

// Encode renders the envelope's canonical wire bytes.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := encMode.Marshal(e)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "envelope: encode: %v", err)
	}
	return data, nil
}

// Decode parses an envelope from wire bytes.
func Decode(data []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := cbor.Unmarshal(data, e); err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidFormat, "envelope: decode: %v", err)
	}
	return e, nil
}

// DecodeBody parses the kind-specific payload into out.
func (e *Envelope) DecodeBody(out interface{}) error {
	if err := cbor.Unmarshal(e.Body, out); err != nil {
		return buckyerr.Newf(buckyerr.CodeInvalidFormat, "envelope: decode body: %v", err)
	}
	return nil
}
