// Package secretbox seals enrollment secrets at rest with AES-256-GCM.
// The plaintext only exists in memory for the duration of one operation.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const NonceSize = 12

// ErrDecrypt is the uniform failure for any tamper or wrong-key condition.
var ErrDecrypt = errors.New("secretbox: decryption failed")

// Box encrypts and decrypts with a fixed process-level 32-byte key.
type Box struct {
	aead cipher.AEAD
}

func New(key []byte) (*Box, error) {
	if len(key) != 32 {
		return nil, errors.New("secretbox: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Seal returns ciphertext and the random nonce used. The two are stored in
// separate columns.
func (b *Box) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return b.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open reverses Seal. Every failure is ErrDecrypt.
func (b *Box) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}
	pt, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
