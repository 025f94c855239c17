package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthority(t *testing.T) *Authority {
	t.Helper()
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	return a
}

func makeCSR(t *testing.T, cn string, dnsNames []string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: dnsNames,
	}, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
}

func TestOpenPersistsRoot(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	require.NoError(t, err)
	first, err := a.RootPEM()
	require.NoError(t, err)

	b, err := Open(dir)
	require.NoError(t, err)
	second, err := b.RootPEM()
	require.NoError(t, err)
	assert.Equal(t, first, second, "root survives reopen")
}

func TestSignForcesCommonName(t *testing.T) {
	a := newAuthority(t)
	certPEM, thumbprint, err := a.Sign(makeCSR(t, "impostor", []string{"dc01.corp.example"}), "agent-1")
	require.NoError(t, err)
	require.NotEmpty(t, thumbprint)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "agent-1", leaf.Subject.CommonName, "claimed CN discarded")
	assert.Equal(t, []string{"dc01.corp.example"}, leaf.DNSNames)
	assert.Equal(t, Thumbprint(block.Bytes), thumbprint)

	pool, err := a.RootPool()
	require.NoError(t, err)
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err, "leaf chains to the root")
}

func TestSignRejectsGarbage(t *testing.T) {
	a := newAuthority(t)
	_, _, err := a.Sign([]byte("not a csr"), "agent-1")
	assert.ErrorIs(t, err, ErrBadCSR)

	_, _, err = a.Sign(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}), "agent-1")
	assert.ErrorIs(t, err, ErrBadCSR)
}

func TestRevocationSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	require.NoError(t, err)

	certPEM, _, err := a.Sign(makeCSR(t, "x", nil), "agent-1")
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.False(t, a.IsRevoked(leaf.SerialNumber))
	require.NoError(t, a.Revoke(leaf.SerialNumber))
	require.NoError(t, a.Revoke(leaf.SerialNumber), "revoke is idempotent")
	assert.True(t, a.IsRevoked(leaf.SerialNumber))

	b, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, b.IsRevoked(leaf.SerialNumber))
}

func TestServerTLSConfigAcceptsBareClients(t *testing.T) {
	a := newAuthority(t)
	serverCert, err := a.IssueServerCert([]string{"localhost"})
	require.NoError(t, err)

	cfg, err := a.ServerTLSConfig(serverCert)
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	require.NotNil(t, cfg.VerifyPeerCertificate)
	assert.NoError(t, cfg.VerifyPeerCertificate(nil, nil), "no client cert is allowed at the TLS layer")
}

func TestServerTLSConfigRejectsRevoked(t *testing.T) {
	a := newAuthority(t)
	serverCert, err := a.IssueServerCert([]string{"localhost"})
	require.NoError(t, err)
	cfg, err := a.ServerTLSConfig(serverCert)
	require.NoError(t, err)

	certPEM, _, err := a.Sign(makeCSR(t, "x", nil), "agent-1")
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.NoError(t, cfg.VerifyPeerCertificate([][]byte{block.Bytes}, nil))
	require.NoError(t, a.Revoke(leaf.SerialNumber))
	assert.Error(t, cfg.VerifyPeerCertificate([][]byte{block.Bytes}, nil))
}

func TestIssueServerCertValidity(t *testing.T) {
	a := newAuthority(t)
	cert, err := a.IssueServerCert([]string{"localhost", "center-1"})
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	assert.True(t, leaf.NotBefore.Before(time.Now()))
	assert.True(t, leaf.NotAfter.After(time.Now().Add(300*24*time.Hour)))
}
