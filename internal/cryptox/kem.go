// Package cryptox implements the cryptographic primitives the custody and
// recovery services are built on: a post-quantum key-encapsulation mechanism,
// an AEAD sealer keyed from KEM shared secrets, and threshold secret sharing.
//
// The services treat all three as black boxes behind interfaces so tests can
// substitute deterministic implementations.
package cryptox

import (
	"crypto/mlkem"
	"fmt"
)

// KEM is the key-encapsulation contract. Public keys, private keys and
// ciphertexts are fixed-size opaque byte blobs.
type KEM interface {
	// GenerateKeyPair returns a fresh (publicKey, privateKey) pair.
	GenerateKeyPair() (publicKey, privateKey []byte, err error)

	// Encapsulate derives a fresh shared secret for the holder of publicKey
	// and the ciphertext that transports it.
	Encapsulate(publicKey []byte) (sharedSecret, ciphertext []byte, err error)

	// Decapsulate recovers the shared secret from a ciphertext using the
	// private key matching the public key it was encapsulated to.
	Decapsulate(privateKey, ciphertext []byte) (sharedSecret []byte, err error)

	// PublicKeySize is the exact encapsulation-key length in bytes.
	PublicKeySize() int

	// CiphertextSize is the exact encapsulation ciphertext length in bytes.
	CiphertextSize() int
}

// MLKEM768 implements KEM over ML-KEM-768 (FIPS 203). Private keys are
// represented by their 64-byte generation seed.
type MLKEM768 struct{}

func NewMLKEM768() *MLKEM768 {
	return &MLKEM768{}
}

func (m *MLKEM768) GenerateKeyPair() ([]byte, []byte, error) {
	dk, err := mlkem.GenerateKey768()
	if err != nil {
		return nil, nil, fmt.Errorf("mlkem keygen: %w", err)
	}
	return dk.EncapsulationKey().Bytes(), dk.Bytes(), nil
}

func (m *MLKEM768) Encapsulate(publicKey []byte) ([]byte, []byte, error) {
	ek, err := mlkem.NewEncapsulationKey768(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("mlkem parse encapsulation key: %w", err)
	}
	sharedSecret, ciphertext := ek.Encapsulate()
	return sharedSecret, ciphertext, nil
}

func (m *MLKEM768) Decapsulate(privateKey, ciphertext []byte) ([]byte, error) {
	dk, err := mlkem.NewDecapsulationKey768(privateKey)
	if err != nil {
		return nil, fmt.Errorf("mlkem parse decapsulation key: %w", err)
	}
	sharedSecret, err := dk.Decapsulate(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("mlkem decapsulate: %w", err)
	}
	return sharedSecret, nil
}

func (m *MLKEM768) PublicKeySize() int {
	return mlkem.EncapsulationKeySize768
}

func (m *MLKEM768) CiphertextSize() int {
	return mlkem.CiphertextSize768
}
