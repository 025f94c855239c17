// Package keyring derives the process keys from the single configured
// master key so that the token MAC key and the secret-box key are never the
// same bytes and never the raw configured value.
package keyring

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

type Keyring struct {
	TokenMAC  []byte // 32 bytes, HMAC-SHA256 key for session tokens
	SecretBox []byte // 32 bytes, AES-256-GCM key for enrollment secrets
}

// FromMasterKey expands a base64-encoded 32-byte master key with HKDF-SHA256.
func FromMasterKey(encoded string) (*Keyring, error) {
	master, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring: master key is not valid base64: %w", err)
	}
	if len(master) != 32 {
		return nil, fmt.Errorf("keyring: master key must be 32 bytes, got %d", len(master))
	}

	kr := &Keyring{}
	for _, d := range []struct {
		info string
		dst  *[]byte
	}{
		{"mfasrv/token-mac/v1", &kr.TokenMAC},
		{"mfasrv/secret-box/v1", &kr.SecretBox},
	} {
		r := hkdf.New(sha256.New, master, nil, []byte(d.info))
		key := make([]byte, 32)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("keyring: derive %s: %w", d.info, err)
		}
		*d.dst = key
	}
	return kr, nil
}
