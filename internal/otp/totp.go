// Package otp implements RFC 4226 HOTP and RFC 6238 TOTP with the secret
// encoding used in provisioning URIs.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

const (
	// Period is the TOTP time step.
	Period = 30 * time.Second
	// Digits is the code length.
	Digits = 6
	// Skew is the number of steps accepted either side of now.
	Skew = 1
)

// HOTP computes the truncated HMAC-SHA1 code for a counter value.
func HOTP(secret []byte, counter uint64) string {
	mac := hmac.New(sha1.New, secret)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1000000)
}

// TOTP computes the code for the step containing t.
func TOTP(secret []byte, t time.Time) string {
	return HOTP(secret, uint64(t.Unix())/uint64(Period.Seconds()))
}

// ValidateTOTP compares a submitted code against the window {-Skew..+Skew}
// around t. The digit comparison is constant time; the window walk is not
// data dependent on the secret.
func ValidateTOTP(secret []byte, code string, t time.Time) bool {
	if len(code) != Digits {
		return false
	}
	step := int64(t.Unix()) / int64(Period.Seconds())
	ok := false
	for d := int64(-Skew); d <= Skew; d++ {
		want := HOTP(secret, uint64(step+d))
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			ok = true
		}
	}
	return ok
}

// ProvisioningURI renders the otpauth:// URI consumed by authenticator apps.
func ProvisioningURI(issuer, account string, secret []byte) string {
	v := url.Values{}
	v.Set("secret", EncodeBase32(secret))
	v.Set("issuer", issuer)
	v.Set("period", "30")
	v.Set("digits", "6")
	v.Set("algorithm", "SHA1")
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)
	return "otpauth://totp/" + label + "?" + v.Encode()
}
