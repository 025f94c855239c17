package keyring

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func masterKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestDerivationIsDeterministic(t *testing.T) {
	a, err := FromMasterKey(masterKey())
	require.NoError(t, err)
	b, err := FromMasterKey(masterKey())
	require.NoError(t, err)

	assert.Equal(t, a.TokenMAC, b.TokenMAC)
	assert.Equal(t, a.SecretBox, b.SecretBox)
}

func TestDerivedKeysAreDistinct(t *testing.T) {
	kr, err := FromMasterKey(masterKey())
	require.NoError(t, err)

	assert.Len(t, kr.TokenMAC, 32)
	assert.Len(t, kr.SecretBox, 32)
	assert.NotEqual(t, kr.TokenMAC, kr.SecretBox)

	raw, _ := base64.StdEncoding.DecodeString(masterKey())
	assert.NotEqual(t, raw, kr.TokenMAC)
	assert.NotEqual(t, raw, kr.SecretBox)
}

func TestDifferentMastersDiverge(t *testing.T) {
	other := make([]byte, 32)
	other[0] = 1

	a, err := FromMasterKey(masterKey())
	require.NoError(t, err)
	b, err := FromMasterKey(base64.StdEncoding.EncodeToString(other))
	require.NoError(t, err)

	assert.NotEqual(t, a.TokenMAC, b.TokenMAC)
	assert.NotEqual(t, a.SecretBox, b.SecretBox)
}

func TestRejectsBadInput(t *testing.T) {
	_, err := FromMasterKey("not base64 !!!")
	assert.Error(t, err)

	_, err = FromMasterKey(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.Error(t, err)

	_, err = FromMasterKey("")
	assert.Error(t, err)
}
