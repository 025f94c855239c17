package secretbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(make([]byte, 32))
	require.NoError(t, err)

	plaintext := []byte("JBSWY3DPEHPK3PXP")
	ct, nonce, err := box.Seal(plaintext)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)
	assert.NotEqual(t, plaintext, ct)

	out, err := box.Open(ct, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestSealUsesFreshNonces(t *testing.T) {
	box, err := New(make([]byte, 32))
	require.NoError(t, err)

	_, n1, err := box.Seal([]byte("x"))
	require.NoError(t, err)
	_, n2, err := box.Seal([]byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}

func TestOpenRejectsTampering(t *testing.T) {
	box, err := New(make([]byte, 32))
	require.NoError(t, err)

	ct, nonce, err := box.Seal([]byte("secret"))
	require.NoError(t, err)

	ct[0] ^= 0x01
	_, err = box.Open(ct, nonce)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	a, err := New(make([]byte, 32))
	require.NoError(t, err)
	key := make([]byte, 32)
	key[31] = 0xff
	b, err := New(key)
	require.NoError(t, err)

	ct, nonce, err := a.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Open(ct, nonce)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpenRejectsBadNonce(t *testing.T) {
	box, err := New(make([]byte, 32))
	require.NoError(t, err)

	ct, _, err := box.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = box.Open(ct, []byte("short"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewKeyLength(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)
}
