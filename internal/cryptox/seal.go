package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/avolkov/quantvault/internal/common"
	"golang.org/x/crypto/hkdf"
)

// Domain-separation labels for HKDF. Using distinct labels per blob type keeps
// a device wrap from ever being accepted as a guardian share and vice versa.
const (
	InfoDeviceMasterKey = "quantvault/v1/device-master-key"
	InfoGuardianShare   = "quantvault/v1/guardian-share"
)

const (
	nonceSize      = 12
	sealingKeySize = 32
)

// Sealer wraps secrets for the holder of a KEM public key. The wrapped blob
// layout is kemCiphertext ‖ nonce ‖ AES-256-GCM ciphertext (tag included), so
// the recipient needs nothing beyond its private key and the blob itself.
type Sealer struct {
	kem KEM
}

func NewSealer(kem KEM) *Sealer {
	return &Sealer{kem: kem}
}

func deriveSealingKey(sharedSecret []byte, info string) ([]byte, error) {
	key := make([]byte, sealingKeySize)
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Wrap encapsulates against publicKey, derives a symmetric key from the shared
// secret and seals secret under it with a fresh random nonce. The shared
// secret and derived key are wiped before returning.
func (s *Sealer) Wrap(secret, publicKey []byte, info string) ([]byte, error) {
	sharedSecret, kemCiphertext, err := s.kem.Encapsulate(publicKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sharedSecret)

	key, err := deriveSealingKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(nonceSize)

	blob := make([]byte, 0, len(kemCiphertext)+nonceSize+len(secret)+aesgcm.Overhead())
	blob = append(blob, kemCiphertext...)
	blob = append(blob, nonce...)
	blob = aesgcm.Seal(blob, nonce, secret, nil)
	return blob, nil
}

// Unwrap reverses Wrap using the recipient's private key. It fails on
// truncated blobs, on decapsulation errors and on AEAD authentication
// failures.
func (s *Sealer) Unwrap(blob, privateKey []byte, info string) ([]byte, error) {
	ctSize := s.kem.CiphertextSize()
	if len(blob) < ctSize+nonceSize {
		return nil, fmt.Errorf("wrapped blob too short: %d bytes", len(blob))
	}

	kemCiphertext := blob[:ctSize]
	nonce := blob[ctSize : ctSize+nonceSize]
	sealed := blob[ctSize+nonceSize:]

	sharedSecret, err := s.kem.Decapsulate(privateKey, kemCiphertext)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(sharedSecret)

	key, err := deriveSealingKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	secret, err := aesgcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}
	return secret, nil
}
