// Package keyring implements the key-pair variants, signing discipline, and
// per-remote session-key keystore: RSA-1024/2048 and
// SECP256K1 signing keys, AES-256 session keys, and the MixHash anti-spoof
// tag derived from an active session key.
package keyring

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// SignatureSize returns the fixed signature length for an algorithm, as
// required by the signature sub-descriptor's fixed-width sign-bytes field
//: RSA-1024 and RSA-2048 signatures are exactly one modulus wide,
// and SECP256K1 signatures use the 64-byte BIP-340 Schnorr encoding rather
// than variable-length DER so the same fixed-width rule applies uniformly.
func (a Algorithm) SignatureSize() int {
	switch a {
	case AlgorithmRSA1024:
		return 128
	case AlgorithmRSA2048:
		return 256
	case AlgorithmSECP256K1:
		return 64
	default:
		return 0
	}
}

// Algorithm is the 1-byte signature-algorithm tag's signature
// encoding: RSA-1024 | RSA-2048 | SECP256K1.
type Algorithm uint8

const (
	AlgorithmRSA1024    Algorithm = 0
	AlgorithmRSA2048    Algorithm = 1
	AlgorithmSECP256K1  Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSA1024:
		return "rsa1024"
	case AlgorithmRSA2048:
		return "rsa2048"
	case AlgorithmSECP256K1:
		return "secp256k1"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// PrivateKey is the union of the key variants a device or person object may
// carry. Exactly one of RSA and Secp256k1 is non-nil; Algorithm says which.
type PrivateKey struct {
	Algorithm Algorithm
	RSA       *rsa.PrivateKey
	Secp256k1 *secp256k1.PrivateKey
}

// PublicKey mirrors PrivateKey for the public half, as stored in a Desc's
// public-key sub-descriptor.
type PublicKey struct {
	Algorithm Algorithm
	RSA       *rsa.PublicKey
	Secp256k1 *secp256k1.PublicKey
}

// GenerateRSA1024 generates a new RSA-1024 key pair.
func GenerateRSA1024() (*PrivateKey, error) {
	return generateRSA(1024, AlgorithmRSA1024)
}

// GenerateRSA2048 generates a new RSA-2048 key pair.
func GenerateRSA2048() (*PrivateKey, error) {
	return generateRSA(2048, AlgorithmRSA2048)
}

func generateRSA(bits int, algo Algorithm) (*PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate rsa-%d: %w", bits, err)
	}
	return &PrivateKey{Algorithm: algo, RSA: key}, nil
}

// GenerateSECP256K1 generates a new SECP256K1 key pair.
func GenerateSECP256K1() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keyring: generate secp256k1: %w", err)
	}
	return &PrivateKey{Algorithm: AlgorithmSECP256K1, Secp256k1: key}, nil
}

// Public returns the public half of a private key.
func (k *PrivateKey) Public() *PublicKey {
	switch k.Algorithm {
	case AlgorithmRSA1024, AlgorithmRSA2048:
		return &PublicKey{Algorithm: k.Algorithm, RSA: &k.RSA.PublicKey}
	case AlgorithmSECP256K1:
		return &PublicKey{Algorithm: k.Algorithm, Secp256k1: k.Secp256k1.PubKey()}
	default:
		return nil
	}
}

// Sign produces a SignData matching the key's algorithm
func (k *PrivateKey) Sign(data []byte) (SignData, error) {
	digest := sha256.Sum256(data)
	switch k.Algorithm {
	case AlgorithmRSA1024, AlgorithmRSA2048:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k.RSA, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("keyring: rsa sign: %w", err)
		}
		return sig, nil
	case AlgorithmSECP256K1:
		sig, err := schnorr.Sign(k.Secp256k1, digest[:])
		if err != nil {
			return nil, fmt.Errorf("keyring: secp256k1 sign: %w", err)
		}
		return sig.Serialize(), nil
	default:
		return nil, fmt.Errorf("keyring: unknown algorithm %v", k.Algorithm)
	}
}

// SignData is the raw, fixed-format signature bytes for a given algorithm.
type SignData []byte

// Verify checks a SignData against data using this public key.
func (p *PublicKey) Verify(data []byte, sig SignData) error {
	digest := sha256.Sum256(data)
	switch p.Algorithm {
	case AlgorithmRSA1024, AlgorithmRSA2048:
		if err := rsaVerify(p.RSA, digest[:], sig); err != nil {
			return fmt.Errorf("keyring: rsa verify: %w", err)
		}
		return nil
	case AlgorithmSECP256K1:
		parsed, err := schnorr.ParseSignature(sig)
		if err != nil {
			return fmt.Errorf("keyring: parse secp256k1 signature: %w", err)
		}
		if !parsed.Verify(digest[:], p.Secp256k1) {
			return fmt.Errorf("keyring: secp256k1 signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("keyring: unknown algorithm %v", p.Algorithm)
	}
}

func rsaVerify(pub *rsa.PublicKey, digest, sig []byte) error {
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig)
}
