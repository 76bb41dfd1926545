// Package secretbox wraps XChaCha20-Poly1305 sealing for vault payloads.
// Keys are supplied by the caller; this package never persists or logs
// them. Authentication failures are surfaced as ErrAuthentication so
// callers can tell tampering or a cross-scope replay apart from
// ordinary decoding problems.
package secretbox

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const KeySize = chacha20poly1305.KeySize

var (
	ErrKeySize        = errors.New("secretbox: key must be 32 bytes")
	ErrNonceSize      = errors.New("secretbox: bad nonce size")
	ErrAuthentication = errors.New("secretbox: authentication failed")
)

var nonceReader io.Reader = rand.Reader

// Box is one sealed payload. The Poly1305 tag is appended to Ciphertext.
type Box struct {
	Nonce      []byte
	Ciphertext []byte
}

// Seal encrypts plaintext under key, authenticating aad alongside it.
// A fresh random nonce is drawn for every call; nonces are never reused
// under the same key.
func Seal(plaintext, key, aad []byte) (Box, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return Box{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(nonceReader, nonce); err != nil {
		return Box{}, err
	}
	return Box{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, aad),
	}, nil
}

// Open decrypts box under key, verifying that aad matches the value the
// box was sealed with. Any mismatch returns ErrAuthentication.
func Open(box Box, key, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(box.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrNonceSize
	}
	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return chacha20poly1305.NewX(key)
}
