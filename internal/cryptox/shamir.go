package cryptox

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// Splitter is the threshold secret sharing contract: any k of n shares
// reconstruct the secret, any fewer reveal nothing about it.
type Splitter interface {
	Split(secret []byte, n, k int) ([][]byte, error)
	Combine(shares [][]byte) ([]byte, error)
}

// ShamirSplitter implements Splitter with Shamir's Secret Sharing over
// GF(2^8). Each share is len(secret)+1 bytes; the trailing byte is the share's
// x-coordinate.
type ShamirSplitter struct{}

func NewShamirSplitter() *ShamirSplitter {
	return &ShamirSplitter{}
}

func (s *ShamirSplitter) Split(secret []byte, n, k int) ([][]byte, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("invalid threshold parameters: k=%d n=%d", k, n)
	}
	shares, err := shamir.Split(secret, n, k)
	if err != nil {
		return nil, fmt.Errorf("shamir split: %w", err)
	}
	return shares, nil
}

// Combine reconstructs the secret from the given shares. Note the underlying
// scheme cannot detect an insufficient or corrupted share set; with fewer than
// k genuine shares it yields a value unrelated to the original secret.
// Callers must validate the result (e.g. by expected length plus downstream
// authenticated decryption).
func (s *ShamirSplitter) Combine(shares [][]byte) ([]byte, error) {
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("shamir combine: %w", err)
	}
	return secret, nil
}
