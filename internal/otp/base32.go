package otp

import (
	"encoding/base32"
	"strings"
)

// Base32 handling for provisioning URIs. Encoding is unpadded upper-case
// RFC 4648; decoding is case-insensitive and tolerates padding, matching
// what authenticator apps emit back.

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeBase32 encodes raw secret bytes for an otpauth URI.
func EncodeBase32(src []byte) string {
	return b32.EncodeToString(src)
}

// DecodeBase32 decodes a base32 secret regardless of case or padding.
func DecodeBase32(s string) ([]byte, error) {
	s = strings.ToUpper(strings.TrimRight(strings.TrimSpace(s), "="))
	return b32.DecodeString(s)
}
