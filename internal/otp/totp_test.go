package otp

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rfcSecret is the shared test secret from RFC 4226 appendix D and
// RFC 6238 appendix B.
var rfcSecret = []byte("12345678901234567890")

func TestHOTPVectors(t *testing.T) {
	vectors := map[uint64]string{
		0: "755224",
		1: "287082",
		2: "359152",
		3: "969429",
		4: "338314",
		5: "254676",
		6: "287922",
		7: "162583",
		8: "399871",
		9: "520489",
	}
	for counter, want := range vectors {
		assert.Equal(t, want, HOTP(rfcSecret, counter), "counter %d", counter)
	}
}

func TestTOTPVector(t *testing.T) {
	// T=59s falls in step 1; the 6-digit code matches the truncated
	// RFC 6238 vector.
	assert.Equal(t, "287082", TOTP(rfcSecret, time.Unix(59, 0)))
}

func TestValidateTOTPWindow(t *testing.T) {
	now := time.Unix(1111111109, 0)
	step := Period

	assert.True(t, ValidateTOTP(rfcSecret, TOTP(rfcSecret, now), now))
	assert.True(t, ValidateTOTP(rfcSecret, TOTP(rfcSecret, now.Add(-step)), now))
	assert.True(t, ValidateTOTP(rfcSecret, TOTP(rfcSecret, now.Add(step)), now))
	assert.False(t, ValidateTOTP(rfcSecret, TOTP(rfcSecret, now.Add(-2*step)), now))
	assert.False(t, ValidateTOTP(rfcSecret, TOTP(rfcSecret, now.Add(2*step)), now))
}

func TestValidateTOTPRejectsMalformed(t *testing.T) {
	now := time.Now()
	assert.False(t, ValidateTOTP(rfcSecret, "", now))
	assert.False(t, ValidateTOTP(rfcSecret, "12345", now))
	assert.False(t, ValidateTOTP(rfcSecret, "1234567", now))
	assert.False(t, ValidateTOTP(rfcSecret, "000000", now))
}

func TestBase32RoundTrip(t *testing.T) {
	secret := []byte("Hello!\xDE\xAD\xBE\xEF")
	enc := EncodeBase32(secret)
	assert.NotContains(t, enc, "=")

	out, err := DecodeBase32(enc)
	require.NoError(t, err)
	assert.Equal(t, secret, out)
}

func TestDecodeBase32Tolerant(t *testing.T) {
	// Lower case, padding and surrounding whitespace all decode.
	for _, in := range []string{"jbswy3dpehpk3pxp", "JBSWY3DPEHPK3PXP", " JBSWY3DPEHPK3PXP== "} {
		out, err := DecodeBase32(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, []byte("Hello!\xDE\xAD\xBE\xEF"), out)
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("AuthGate", "alice@corp.example", []byte("Hello!\xDE\xAD\xBE\xEF"))

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	assert.Equal(t, "totp", u.Host)

	q := u.Query()
	assert.Equal(t, "JBSWY3DPEHPK3PXP", q.Get("secret"))
	assert.Equal(t, "AuthGate", q.Get("issuer"))
	assert.Equal(t, "30", q.Get("period"))
	assert.Equal(t, "6", q.Get("digits"))
	assert.Equal(t, "SHA1", q.Get("algorithm"))
}
