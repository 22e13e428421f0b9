package keyring

import (
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// rsaPublicExponent is the fixed public exponent used for every RSA key
// this package generates (rsa.GenerateKey always produces E=65537), so the
// codec only needs to carry the modulus across the wire.
const rsaPublicExponent = 65537

// ParseRSAPublicKey reconstructs an RSA public key from its modulus bytes,
// the public-key sub-descriptor's wire form (embedded public-key
// value). The exponent is always rsaPublicExponent, matching every key this
// package ever generates.
func ParseRSAPublicKey(algo Algorithm, modulus []byte) (*PublicKey, error) {
	if algo != AlgorithmRSA1024 && algo != AlgorithmRSA2048 {
		return nil, fmt.Errorf("keyring: not an rsa algorithm: %v", algo)
	}
	if len(modulus) == 0 {
		return nil, fmt.Errorf("keyring: empty rsa modulus")
	}
	return &PublicKey{
		Algorithm: algo,
		RSA: &rsa.PublicKey{
			N: new(big.Int).SetBytes(modulus),
			E: rsaPublicExponent,
		},
	}, nil
}

// ParseSecp256k1PublicKey reconstructs a SECP256K1 public key from its
// 33-byte compressed form.
func ParseSecp256k1PublicKey(compressed []byte) (*PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("keyring: parse secp256k1 public key: %w", err)
	}
	return &PublicKey{Algorithm: AlgorithmSECP256K1, Secp256k1: pub}, nil
}
