package envelope

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/cyfs-go/cyfscore/pkg/constants"
)

type testBody struct {
	Zebra string `cbor:"zebra"`
	Alpha uint32 `cbor:"alpha"`
}

func TestSealVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	e, err := Seal(7, "device-1", 42, &testBody{Zebra: "z", Alpha: 9}, priv)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	wire, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.Verify(pub); err != nil {
		t.Fatalf("verify: %v", err)
	}
	var body testBody
	if err := decoded.DecodeBody(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Zebra != "z" || body.Alpha != 9 {
		t.Fatalf("body %+v", body)
	}
}

func TestTamperedFieldsFailVerification(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	e, err := Seal(7, "device-1", 1, &testBody{Alpha: 1}, priv)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	// Every signed field, including the body bytes, is covered.
	cases := []func(*Envelope){
		func(e *Envelope) { e.Kind++ },
		func(e *Envelope) { e.From = "device-2" },
		func(e *Envelope) { e.Seq++ },
		func(e *Envelope) { e.TS++ },
		func(e *Envelope) { e.Body = append([]byte(nil), e.Body...); e.Body[0] ^= 1 },
	}
	for i, mutate := range cases {
		mutated := *e
		mutate(&mutated)
		if err := mutated.Verify(pub); err == nil {
			t.Fatalf("mutation %d must break the signature", i)
		}
	}
	if err := e.Verify(pub); err != nil {
		t.Fatalf("untouched envelope must verify: %v", err)
	}
}

func TestUnsignedEnvelopeRejected(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	e, err := New(1, "device-1", 1, &testBody{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.Verify(pub); err == nil {
		t.Fatalf("unsigned envelope must not verify")
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	// Map bodies canonicalize: two insertion orders, one encoding.
	a, err := New(3, "d", 5, map[string]interface{}{"b": uint32(2), "a": uint32(1)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, err := New(3, "d", 5, map[string]interface{}{"a": uint32(1), "b": uint32(2)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !bytes.Equal(a.Body, b.Body) {
		t.Fatalf("canonical body encodings differ")
	}
	b.TS = a.TS
	if err := a.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := b.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !bytes.Equal(a.Sig, b.Sig) {
		t.Fatalf("signatures over identical canonical content differ")
	}
}

func TestCheckFresh(t *testing.T) {
	e, err := New(1, "d", 1, &testBody{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.UnixMilli(int64(e.TS))
	if err := e.CheckFresh(now, time.Minute); err != nil {
		t.Fatalf("fresh envelope rejected: %v", err)
	}
	if err := e.CheckFresh(now.Add(2*time.Minute), time.Minute); err == nil {
		t.Fatalf("stale envelope must be rejected")
	}
	if err := e.CheckFresh(now.Add(-2*time.Minute), time.Minute); err == nil {
		t.Fatalf("future envelope must be rejected")
	}
	e.V = constants.ProtocolVersion + 1
	if err := e.CheckFresh(now, time.Minute); err == nil {
		t.Fatalf("unknown version must be rejected")
	}
}
