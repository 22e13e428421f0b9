// Package noiseik implements the tunnel key exchange: a two-message
// Noise IK handshake between devices, zone-bound through the prologue,
// whose hello payloads are signed envelopes. A completed handshake
// yields the session key the tunnel keystore confirms for the remote.
package noiseik

import (
	"bytes"
	"crypto/ed25519"
	"time"

	"github.com/flynn/noise"
	"lukechampine.com/blake3"

	"github.com/cyfs-go/cyfscore/pkg/buckyerr"
	"github.com/cyfs-go/cyfscore/pkg/constants"
	"github.com/cyfs-go/cyfscore/pkg/envelope"
	"github.com/cyfs-go/cyfscore/pkg/identity"
	"github.com/cyfs-go/cyfscore/pkg/keyring"
)

// prologuePrefix binds both sides to the protocol and, appended with the
// zone id, to the zone: peers in different zones fail the handshake
// before any payload is read.
const prologuePrefix = "cyfs-bdt-noise-ik/1\x00"

// maxHelloSkew bounds how stale a hello's envelope timestamp may be.
const maxHelloSkew = 2 * time.Minute

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// helloBody is the signed payload carried inside each handshake message:
// who is speaking, in which zone, under which keys.
type helloBody struct {
	Zone        string   `cbor:"zone"`
	Device      string   `cbor:"device"`
	SigningKey  []byte   `cbor:"signing_key"`
	NoiseStatic []byte   `cbor:"noise_static"`
	Caps        []string `cbor:"caps,omitempty"`
}

// Handshake is one side of an IK exchange. Initiators must already know
// the responder's static key (from its Device object); responders learn
// the initiator's identity from message one.
type Handshake struct {
	id   *identity.Identity
	zone string
	hs   *noise.HandshakeState

	initiator bool
	seq       uint32
	guard     *ReplayGuard

	remoteDevice  string
	remoteSigning ed25519.PublicKey

	sessionKey keyring.SessionKey
	complete   bool
}

func newState(id *identity.Identity, zone string, initiator bool, peerStatic []byte) (*noise.HandshakeState, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeIK,
		Initiator:   initiator,
		Prologue:    []byte(prologuePrefix + zone),
		StaticKeypair: noise.DHKey{
			Private: id.KeyAgreementPrivateKey[:],
			Public:  id.KeyAgreementPublicKey[:],
		},
		PeerStatic: peerStatic,
	})
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInternalError, "noiseik: handshake state: %v", err)
	}
	return hs, nil
}

// NewInitiator prepares the dialing side. remoteStatic is the
// responder's X25519 key, taken from its Device object.
func NewInitiator(id *identity.Identity, zone string, remoteStatic []byte, seq uint32) (*Handshake, error) {
	if len(remoteStatic) != 32 {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidParam, "noiseik: remote static key is %d bytes", len(remoteStatic))
	}
	hs, err := newState(id, zone, true, remoteStatic)
	if err != nil {
		return nil, err
	}
	return &Handshake{id: id, zone: zone, hs: hs, initiator: true, seq: seq}, nil
}

// NewResponder prepares the listening side. guard, when non-nil, rejects
// replayed initiator hellos; one guard is shared across every handshake
// the listener accepts.
func NewResponder(id *identity.Identity, zone string, guard *ReplayGuard) (*Handshake, error) {
	hs, err := newState(id, zone, false, nil)
	if err != nil {
		return nil, err
	}
	return &Handshake{id: id, zone: zone, hs: hs, guard: guard}, nil
}

func (h *Handshake) hello() (*envelope.Envelope, error) {
	return envelope.Seal(constants.KindTunnelHello, h.id.BID(), h.seq, &helloBody{
		Zone:        h.zone,
		Device:      h.id.BID(),
		SigningKey:  h.id.SigningPublicKey,
		NoiseStatic: h.id.KeyAgreementPublicKey[:],
		Caps:        []string{"stream/1", "datagram/1", "chunks/1", "sn/1"},
	}, h.id.SigningPrivateKey)
}

// checkHello verifies a received hello payload: envelope signature under
// its own claimed key, zone match, freshness, and — once the noise layer
// has authenticated the peer's static key — that the hello's claimed
// static matches it, binding the signing identity to the DH identity.
func (h *Handshake) checkHello(payload []byte, now time.Time) (*helloBody, error) {
	env, err := envelope.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err := env.CheckFresh(now, maxHelloSkew); err != nil {
		return nil, err
	}
	var body helloBody
	if err := env.DecodeBody(&body); err != nil {
		return nil, err
	}
	if body.Zone != h.zone {
		return nil, buckyerr.Newf(buckyerr.CodePermissionDenied, "noiseik: hello for zone %q, want %q", body.Zone, h.zone)
	}
	if len(body.SigningKey) != ed25519.PublicKeySize {
		return nil, buckyerr.New(buckyerr.CodeInvalidData, "noiseik: bad signing key length in hello")
	}
	if err := env.Verify(ed25519.PublicKey(body.SigningKey)); err != nil {
		return nil, err
	}
	if body.Device != env.From {
		return nil, buckyerr.New(buckyerr.CodeNotMatch, "noiseik: hello device does not match envelope sender")
	}
	if !bytes.Equal(body.NoiseStatic, h.hs.PeerStatic()) {
		return nil, buckyerr.New(buckyerr.CodeInvalidSignature, "noiseik: hello static key does not match handshake")
	}
	if h.guard != nil {
		if err := h.guard.Check(body.Device, env.Seq); err != nil {
			return nil, err
		}
	}
	h.remoteDevice = body.Device
	h.remoteSigning = ed25519.PublicKey(body.SigningKey)
	return &body, nil
}

// Initiate produces message one: the IK opener carrying the initiator's
// signed hello.
func (h *Handshake) Initiate() ([]byte, error) {
	if !h.initiator {
		return nil, buckyerr.New(buckyerr.CodeErrorState, "noiseik: responder cannot initiate")
	}
	hello, err := h.hello()
	if err != nil {
		return nil, err
	}
	payload, err := hello.Encode()
	if err != nil {
		return nil, err
	}
	msg, _, _, err := h.hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "noiseik: write message one: %v", err)
	}
	return msg, nil
}

// Respond consumes message one and produces message two, completing the
// responder's side.
func (h *Handshake) Respond(msg1 []byte) ([]byte, error) {
	if h.initiator {
		return nil, buckyerr.New(buckyerr.CodeErrorState, "noiseik: initiator cannot respond")
	}
	if h.complete {
		return nil, buckyerr.New(buckyerr.CodeErrorState, "noiseik: handshake already complete")
	}
	payload, _, _, err := h.hs.ReadMessage(nil, msg1)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidSignature, "noiseik: read message one: %v", err)
	}
	if _, err := h.checkHello(payload, time.Now()); err != nil {
		return nil, err
	}

	hello, err := h.hello()
	if err != nil {
		return nil, err
	}
	helloBytes, err := hello.Encode()
	if err != nil {
		return nil, err
	}
	msg2, cs1, cs2, err := h.hs.WriteMessage(nil, helloBytes)
	if err != nil {
		return nil, buckyerr.Newf(buckyerr.CodeInvalidData, "noiseik: write message two: %v", err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, buckyerr.New(buckyerr.CodeInternalError, "noiseik: handshake did not complete on message two")
	}
	h.deriveSessionKey()
	return msg2, nil
}

// Finish consumes message two, completing the initiator's side.
func (h *Handshake) Finish(msg2 []byte) error {
	if !h.initiator {
		return buckyerr.New(buckyerr.CodeErrorState, "noiseik: responder has no finish step")
	}
	if h.complete {
		return buckyerr.New(buckyerr.CodeErrorState, "noiseik: handshake already complete")
	}
	payload, cs1, cs2, err := h.hs.ReadMessage(nil, msg2)
	if err != nil {
		return buckyerr.Newf(buckyerr.CodeInvalidSignature, "noiseik: read message two: %v", err)
	}
	if cs1 == nil || cs2 == nil {
		return buckyerr.New(buckyerr.CodeInternalError, "noiseik: handshake did not complete on message two")
	}
	if _, err := h.checkHello(payload, time.Now()); err != nil {
		return err
	}
	h.deriveSessionKey()
	return nil
}

// deriveSessionKey turns the shared handshake hash into the AES-256
// session key the keystore stores. Both sides compute the same value;
// the hash already binds every handshake input including the prologue.
func (h *Handshake) deriveSessionKey() {
	h.sessionKey = keyring.SessionKey(blake3.Sum256(h.hs.ChannelBinding()))
	h.complete = true
}

// Complete reports whether the key exchange finished.
func (h *Handshake) Complete() bool {
	return h.complete
}

// SessionKey returns the derived key once the handshake is complete.
func (h *Handshake) SessionKey() (keyring.SessionKey, error) {
	if !h.complete {
		return keyring.SessionKey{}, buckyerr.New(buckyerr.CodeErrorState, "noiseik: handshake not complete")
	}
	return h.sessionKey, nil
}

// RemoteDevice returns the authenticated peer's device id, known once
// its hello has been verified.
func (h *Handshake) RemoteDevice() string {
	return h.remoteDevice
}

// RemoteSigningKey returns the authenticated peer's envelope key.
func (h *Handshake) RemoteSigningKey() ed25519.PublicKey {
	return h.remoteSigning
}
