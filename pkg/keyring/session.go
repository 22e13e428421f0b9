package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"lukechampine.com/blake3"
)

// SessionKeySize is the AES-256 key length used for BDT session encryption.
const SessionKeySize = 32

// MixHashSize is the length of the lightweight anti-spoof tag prepended to
// UDP payloads once session keying is active, the mix hash.
const MixHashSize = 16

// SessionKey is an AES-256 key shared with a single remote after a
// successful Exchange handshake.
type SessionKey [SessionKeySize]byte

// GenerateSessionKey creates a fresh random AES-256 session key.
func GenerateSessionKey() (SessionKey, error) {
	var k SessionKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("keyring: generate session key: %w", err)
	}
	return k, nil
}

// MixHash derives the 16-byte anti-spoof tag for a UDP payload by mixing the
// session key into a BLAKE3 digest of the payload, matching the glossary's
// mix-hash derivation from the session key.
func (k SessionKey) MixHash(payload []byte) [MixHashSize]byte {
	h := blake3.New(32, k[:])
	h.Write(payload)
	sum := h.Sum(nil)
	var out [MixHashSize]byte
	copy(out[:], sum[:MixHashSize])
	return out
}

// Seal encrypts plaintext with AES-256-GCM under this session key, returning
// nonce||ciphertext. Used by the tunnel layer to encrypt PackageBox bodies
// once a keystore entry is Confirmed.
func (k SessionKey) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("keyring: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyring: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keyring: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal-produced blob.
func (k SessionKey) Open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, fmt.Errorf("keyring: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyring: gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("keyring: sealed payload too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keyring: gcm open: %w", err)
	}
	return plaintext, nil
}
