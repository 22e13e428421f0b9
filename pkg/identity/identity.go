// Package identity manages a device's local identity: the named-object
// key that signs its Device object, the Ed25519 key that signs control
// envelopes, and the X25519 key agreement pair used by the tunnel
// handshake. Identities persist to disk as JSON and are loaded once at
// stack bring-up.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/curve25519"

	"github.com/cyfs-go/cyfscore/pkg/keyring"
	"github.com/cyfs-go/cyfscore/pkg/objectcodec"
	"github.com/cyfs-go/cyfscore/pkg/objectid"
)

// Identity is a device's full key material plus its derived Device
// object.
type Identity struct {
	// DeviceKey signs the Device object and object-layer signatures.
	DeviceKey *keyring.PrivateKey

	// Ed25519 envelope-signing key pair for control frames.
	SigningPublicKey  ed25519.PublicKey
	SigningPrivateKey ed25519.PrivateKey

	// X25519 key agreement pair for the tunnel key exchange.
	KeyAgreementPublicKey  [32]byte
	KeyAgreementPrivateKey [32]byte

	// Endpoints advertised in the Device object.
	Endpoints []objectcodec.Endpoint

	// Cached values
	deviceObject *objectcodec.Object
	deviceId     objectid.ObjectId
}

// Generate creates a fresh identity with a device key of the given
// algorithm.
func Generate(algo keyring.Algorithm, endpoints []objectcodec.Endpoint) (*Identity, error) {
	var deviceKey *keyring.PrivateKey
	var err error
	switch algo {
	case keyring.AlgorithmRSA1024:
		deviceKey, err = keyring.GenerateRSA1024()
	case keyring.AlgorithmRSA2048:
		deviceKey, err = keyring.GenerateRSA2048()
	case keyring.AlgorithmSECP256K1:
		deviceKey, err = keyring.GenerateSECP256K1()
	default:
		return nil, fmt.Errorf("identity: unsupported device key algorithm %v", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("identity: generate device key: %w", err)
	}

	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: generate key agreement key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		DeviceKey:              deviceKey,
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
		Endpoints:              endpoints,
	}
	if err := id.build(); err != nil {
		return nil, err
	}
	return id, nil
}

// build derives the Device object and its id from the key material.
func (id *Identity) build() error {
	desc := objectcodec.NewDeviceDesc(nil, id.DeviceKey.Public(), id.Endpoints)
	obj := &objectcodec.Object{
		Desc:  desc,
		Body:  &objectcodec.Body{UpdateTime: 0},
		Signs: &objectcodec.ObjectSigns{},
	}
	oid, err := obj.CalculateID()
	if err != nil {
		return fmt.Errorf("identity: derive device id: %w", err)
	}
	id.deviceObject = obj
	id.deviceId = oid
	return nil
}

// DeviceObject returns the identity's Device object.
func (id *Identity) DeviceObject() *objectcodec.Object {
	return id.deviceObject
}

// DeviceId returns the device's object id.
func (id *Identity) DeviceId() objectid.ObjectId {
	return id.deviceId
}

// BID returns the device id's Base58 text form, the string every
// protocol layer uses to name this device.
func (id *Identity) BID() string {
	return id.deviceId.String()
}

// identityFile is the on-disk JSON form.
type identityFile struct {
	DeviceKeyAlgorithm uint8                 `json:"device_key_algorithm"`
	DeviceKey          []byte                `json:"device_key"`
	SigningPublicKey   []byte                `json:"signing_public_key"`
	SigningPrivateKey  []byte                `json:"signing_private_key"`
	KeyAgreementPublic []byte                `json:"key_agreement_public_key"`
	KeyAgreementSecret []byte                `json:"key_agreement_private_key"`
	Endpoints          []objectcodec.Endpoint `json:"endpoints,omitempty"`
}

// SaveToFile persists the identity as JSON with private-key file mode.
func (id *Identity) SaveToFile(filename string) error {
	keyBytes, err := marshalDeviceKey(id.DeviceKey)
	if err != nil {
		return err
	}
	file := identityFile{
		DeviceKeyAlgorithm: uint8(id.DeviceKey.Algorithm),
		DeviceKey:          keyBytes,
		SigningPublicKey:   id.SigningPublicKey,
		SigningPrivateKey:  id.SigningPrivateKey,
		KeyAgreementPublic: id.KeyAgreementPublicKey[:],
		KeyAgreementSecret: id.KeyAgreementPrivateKey[:],
		Endpoints:          id.Endpoints,
	}
	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("identity: create directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("identity: write %s: %w", filename, err)
	}
	return nil
}

// LoadFromFile reads an identity back from disk and re-derives the
// cached Device object.
func LoadFromFile(filename string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", filename, err)
	}
	var file identityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", filename, err)
	}
	deviceKey, err := unmarshalDeviceKey(keyring.Algorithm(file.DeviceKeyAlgorithm), file.DeviceKey)
	if err != nil {
		return nil, err
	}
	if len(file.SigningPrivateKey) != ed25519.PrivateKeySize || len(file.SigningPublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: bad signing key length in %s", filename)
	}
	id := &Identity{
		DeviceKey:         deviceKey,
		SigningPublicKey:  ed25519.PublicKey(file.SigningPublicKey),
		SigningPrivateKey: ed25519.PrivateKey(file.SigningPrivateKey),
		Endpoints:         file.Endpoints,
	}
	if copy(id.KeyAgreementPublicKey[:], file.KeyAgreementPublic) != 32 ||
		copy(id.KeyAgreementPrivateKey[:], file.KeyAgreementSecret) != 32 {
		return nil, fmt.Errorf("identity: bad key agreement key length in %s", filename)
	}
	if err := id.build(); err != nil {
		return nil, err
	}
	return id, nil
}

func marshalDeviceKey(key *keyring.PrivateKey) ([]byte, error) {
	switch key.Algorithm {
	case keyring.AlgorithmRSA1024, keyring.AlgorithmRSA2048:
		return x509.MarshalPKCS1PrivateKey(key.RSA), nil
	case keyring.AlgorithmSECP256K1:
		return key.Secp256k1.Serialize(), nil
	default:
		return nil, fmt.Errorf("identity: unsupported device key algorithm %v", key.Algorithm)
	}
}

func unmarshalDeviceKey(algo keyring.Algorithm, data []byte) (*keyring.PrivateKey, error) {
	switch algo {
	case keyring.AlgorithmRSA1024, keyring.AlgorithmRSA2048:
		rsaKey, err := x509.ParsePKCS1PrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("identity: parse rsa key: %w", err)
		}
		return &keyring.PrivateKey{Algorithm: algo, RSA: rsaKey}, nil
	case keyring.AlgorithmSECP256K1:
		return &keyring.PrivateKey{Algorithm: algo, Secp256k1: secp256k1.PrivKeyFromBytes(data)}, nil
	default:
		return nil, fmt.Errorf("identity: unsupported device key algorithm %v", algo)
	}
}
