// Package token implements the compact signed session token.
//
// Wire layout (big-endian):
//
//	version   u8    = 1
//	session   16B   raw session id
//	uid_len   u16
//	uid       uid_len bytes
//	expires   i64   unix milliseconds
//	mac       32B   HMAC-SHA256 over all preceding bytes
//
// Tokens are binary; callers base64-url encode at the boundary. Verification
// returns a single uniform error for every failure class so callers cannot
// build an oracle out of the distinction.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

const (
	Version = 1

	sessionIDLen = 16
	macLen       = sha256.Size
	headerLen    = 1 + sessionIDLen + 2
	maxUserIDLen = 512
)

// ErrInvalidToken is the only error Verify returns.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the fields carried by a session token.
type Claims struct {
	SessionID [sessionIDLen]byte
	UserID    string
	Expires   time.Time
}

// Codec signs and verifies session tokens with a process-level MAC key.
type Codec struct {
	key []byte
}

// NewCodec requires a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, errors.New("token: MAC key must be 32 bytes")
	}
	k := make([]byte, 32)
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encode produces the raw token bytes for the given claims.
func (c *Codec) Encode(claims Claims) ([]byte, error) {
	if len(claims.UserID) == 0 || len(claims.UserID) > maxUserIDLen {
		return nil, errors.New("token: user id length out of range")
	}

	buf := make([]byte, 0, headerLen+len(claims.UserID)+8+macLen)
	buf = append(buf, Version)
	buf = append(buf, claims.SessionID[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(claims.UserID)))
	buf = append(buf, claims.UserID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(claims.Expires.UnixMilli()))

	mac := hmac.New(sha256.New, c.key)
	mac.Write(buf)
	return mac.Sum(buf), nil
}

// Verify checks structure and MAC and returns the embedded claims. It does
// not check expiry; the session lookup owns liveness so that the error
// surface stays uniform.
func (c *Codec) Verify(raw []byte) (Claims, error) {
	var claims Claims
	if len(raw) < headerLen+1+8+macLen || raw[0] != Version {
		return claims, ErrInvalidToken
	}

	body, tag := raw[:len(raw)-macLen], raw[len(raw)-macLen:]
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return claims, ErrInvalidToken
	}

	copy(claims.SessionID[:], raw[1:1+sessionIDLen])
	uidLen := int(binary.BigEndian.Uint16(raw[1+sessionIDLen : headerLen]))
	if uidLen == 0 || uidLen > maxUserIDLen || len(body) != headerLen+uidLen+8 {
		return claims, ErrInvalidToken
	}
	claims.UserID = string(raw[headerLen : headerLen+uidLen])
	ms := int64(binary.BigEndian.Uint64(raw[headerLen+uidLen : headerLen+uidLen+8]))
	claims.Expires = time.UnixMilli(ms).UTC()
	return claims, nil
}

// EncodeString is Encode plus base64-url.
func (c *Codec) EncodeString(claims Claims) (string, error) {
	raw, err := c.Encode(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeString undoes the boundary encoding without verifying.
func DecodeString(s string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return raw, nil
}

// Peek parses the structure without verifying the MAC. Agents use it to
// learn the session id and expiry of a token the center just minted; it
// must never gate an authentication decision.
func Peek(raw []byte) (Claims, error) {
	var claims Claims
	if len(raw) < headerLen+1+8+macLen || raw[0] != Version {
		return claims, ErrInvalidToken
	}
	body := raw[:len(raw)-macLen]
	copy(claims.SessionID[:], raw[1:1+sessionIDLen])
	uidLen := int(binary.BigEndian.Uint16(raw[1+sessionIDLen : headerLen]))
	if uidLen == 0 || uidLen > maxUserIDLen || len(body) != headerLen+uidLen+8 {
		return claims, ErrInvalidToken
	}
	claims.UserID = string(raw[headerLen : headerLen+uidLen])
	ms := int64(binary.BigEndian.Uint64(raw[headerLen+uidLen : headerLen+uidLen+8]))
	claims.Expires = time.UnixMilli(ms).UTC()
	return claims, nil
}

// Hash is the stored form of a token: sha256 over the raw bytes.
func Hash(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}
