package keyring

import (
	"fmt"
	"sync"
	"time"
)

// EntryState is a keystore entry's confirmation state: Unconfirmed
// until the exchange completes, Confirmed after.
type EntryState int

const (
	StateUnconfirmed EntryState = iota
	StateConfirmed
)

func (s EntryState) String() string {
	if s == StateConfirmed {
		return "confirmed"
	}
	return "unconfirmed"
}

// Entry is a single remote's session-key record.
type Entry struct {
	RemoteId   string
	SessionKey SessionKey
	State      EntryState
	UpdatedAt  time.Time
}

// Keystore is the process-wide singleton holding one entry per remote
// device.
type Keystore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewKeystore creates an empty keystore.
func NewKeystore() *Keystore {
	return &Keystore{entries: make(map[string]*Entry)}
}

// Lookup returns the current entry for a remote, if any.
func (ks *Keystore) Lookup(remoteId string) (*Entry, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	e, ok := ks.entries[remoteId]
	return e, ok
}

// PutUnconfirmed installs a session key as Unconfirmed, e.g. immediately
// after this side initiated an Exchange but before the initiator's proof
// has been verified.
func (ks *Keystore) PutUnconfirmed(remoteId string, key SessionKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.entries[remoteId] = &Entry{
		RemoteId:   remoteId,
		SessionKey: key,
		State:      StateUnconfirmed,
		UpdatedAt:  time.Now(),
	}
}

// Confirm promotes a remote's entry to Confirmed. Returns an error if no
// entry exists yet (Confirm follows a PutUnconfirmed).
func (ks *Keystore) Confirm(remoteId string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	e, ok := ks.entries[remoteId]
	if !ok {
		return fmt.Errorf("keyring: no keystore entry for %s", remoteId)
	}
	e.State = StateConfirmed
	e.UpdatedAt = time.Now()
	return nil
}

// Remove drops a remote's entry, e.g. when its owning tunnel goes Dead.
func (ks *Keystore) Remove(remoteId string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.entries, remoteId)
}

// Exchange is the handshake package that carries an encrypted session key
// plus the initiator's signed device description. ReceiverPromote
// (below) lets the receiver promote the entry to Confirmed after
// verifying the initiator's signature over the exchange payload.
type Exchange struct {
	InitiatorId      string
	EncryptedSessKey []byte // session key encrypted under the receiver's public key material
	DeviceDescBytes  []byte // canonical bytes of the initiator's Device descriptor
	Proof            SignData
}

// NewExchange builds and signs an Exchange package for the given plaintext
// session key, the initiator's encoded device descriptor, and the
// initiator's signing key.
func NewExchange(initiatorId string, sessKey SessionKey, deviceDescBytes []byte, sealFn func(SessionKey) ([]byte, error), signer *PrivateKey) (*Exchange, error) {
	encrypted, err := sealFn(sessKey)
	if err != nil {
		return nil, fmt.Errorf("keyring: seal session key: %w", err)
	}
	ex := &Exchange{
		InitiatorId:      initiatorId,
		EncryptedSessKey: encrypted,
		DeviceDescBytes:  deviceDescBytes,
	}
	proof, err := signer.Sign(ex.signingPayload())
	if err != nil {
		return nil, fmt.Errorf("keyring: sign exchange: %w", err)
	}
	ex.Proof = proof
	return ex, nil
}

func (ex *Exchange) signingPayload() []byte {
	payload := make([]byte, 0, len(ex.InitiatorId)+len(ex.EncryptedSessKey)+len(ex.DeviceDescBytes))
	payload = append(payload, []byte(ex.InitiatorId)...)
	payload = append(payload, ex.EncryptedSessKey...)
	payload = append(payload, ex.DeviceDescBytes...)
	return payload
}

// ReceiverPromote verifies the Exchange's proof against the initiator's
// public key and, on success, installs and confirms the session key in one
// step — the receiver never observes an Unconfirmed state for an inbound
// Exchange.
func (ks *Keystore) ReceiverPromote(ex *Exchange, initiatorPub *PublicKey, openFn func([]byte) (SessionKey, error)) error {
	if err := initiatorPub.Verify(ex.signingPayload(), ex.Proof); err != nil {
		return fmt.Errorf("keyring: exchange proof invalid: %w", err)
	}
	key, err := openFn(ex.EncryptedSessKey)
	if err != nil {
		return fmt.Errorf("keyring: decrypt exchange session key: %w", err)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.entries[ex.InitiatorId] = &Entry{
		RemoteId:   ex.InitiatorId,
		SessionKey: key,
		State:      StateConfirmed,
		UpdatedAt:  time.Now(),
	}
	return nil
}
