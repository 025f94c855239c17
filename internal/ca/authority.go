// Package ca is the built-in certificate authority for the agent plane.
// A self-signed root is generated on first use and persisted; agents submit
// CSRs through the enrollment RPC and receive one-year leaf certificates.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour
	// backdate absorbs clock skew between the center and a fresh DC.
	backdate = 5 * time.Minute
)

var ErrBadCSR = errors.New("ca: invalid certificate request")

// Authority signs agent certificates with the persisted root and keeps an
// append-only revocation list beside it.
type Authority struct {
	dir  string
	root tls.Certificate

	mu      sync.RWMutex
	revoked map[string]time.Time // serial (decimal) → revoked at
}

// revocationEntry is one line of revoked.json.
type revocationEntry struct {
	Serial    string    `json:"serial"`
	RevokedAt time.Time `json:"revokedAt"`
}

// Open loads the root from dir or generates a new one, then reloads the
// revocation list.
func Open(dir string) (*Authority, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	a := &Authority{dir: dir, revoked: make(map[string]time.Time)}
	if err := a.loadOrGenerateRoot(); err != nil {
		return nil, err
	}
	if err := a.loadRevocations(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authority) certPath() string { return filepath.Join(a.dir, "root.crt") }
func (a *Authority) keyPath() string  { return filepath.Join(a.dir, "root.key") }
func (a *Authority) crlPath() string  { return filepath.Join(a.dir, "revoked.json") }

func (a *Authority) loadOrGenerateRoot() error {
	if _, err := os.Stat(a.certPath()); err == nil {
		cert, err := tls.LoadX509KeyPair(a.certPath(), a.keyPath())
		if err == nil {
			a.root = cert
			return nil
		}
	}
	return a.generateRoot()
}

func (a *Authority) generateRoot() error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"mfasrv"},
			CommonName:   "mfasrv Root CA",
		},
		NotBefore:             time.Now().Add(-backdate),
		NotAfter:              time.Now().Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return err
	}

	if err := writePEM(a.certPath(), "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	if err := writePEM(a.keyPath(), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv), 0o600); err != nil {
		return err
	}

	cert, err := tls.LoadX509KeyPair(a.certPath(), a.keyPath())
	if err != nil {
		return err
	}
	a.root = cert
	return nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

// Sign issues a leaf for a PEM-encoded CSR. The common name is forced to
// the registered agent id so a CSR cannot claim another identity.
func (a *Authority) Sign(csrPEM []byte, agentID string) (certPEM []byte, thumbprint string, err error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, "", ErrBadCSR
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, "", ErrBadCSR
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, "", ErrBadCSR
	}

	rootCert, err := x509.ParseCertificate(a.root.Certificate[0])
	if err != nil {
		return nil, "", err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"mfasrv agents"},
			CommonName:   agentID,
		},
		NotBefore:   time.Now().Add(-backdate),
		NotAfter:    time.Now().Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    csr.DNSNames,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, rootCert, csr.PublicKey, a.root.PrivateKey)
	if err != nil {
		return nil, "", fmt.Errorf("ca: sign: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), Thumbprint(der), nil
}

// Thumbprint is the hex SHA-256 of the certificate DER, the identity the
// center matches mTLS peers against.
func Thumbprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Revoke appends a serial to the revocation list and persists it.
func (a *Authority) Revoke(serial *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := serial.String()
	if _, ok := a.revoked[key]; ok {
		return nil
	}
	entry := revocationEntry{Serial: key, RevokedAt: time.Now().UTC()}
	a.revoked[key] = entry.RevokedAt

	f, err := os.OpenFile(a.crlPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(entry)
}

// IsRevoked is an O(1) membership test.
func (a *Authority) IsRevoked(serial *big.Int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.revoked[serial.String()]
	return ok
}

func (a *Authority) loadRevocations() error {
	f, err := os.Open(a.crlPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	for dec.More() {
		var entry revocationEntry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("ca: corrupt revocation list: %w", err)
		}
		a.revoked[entry.Serial] = entry.RevokedAt
	}
	return nil
}

// RootPEM returns the root certificate for distribution to agents.
func (a *Authority) RootPEM() ([]byte, error) {
	return os.ReadFile(a.certPath())
}

// RootPool returns a pool trusting only this authority.
func (a *Authority) RootPool() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	pemBytes, err := a.RootPEM()
	if err != nil {
		return nil, err
	}
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, errors.New("ca: bad root certificate")
	}
	return pool, nil
}

// ServerTLSConfig builds the center's mTLS listener config. Client certs
// are requested and verified against the root; requests without one are
// still accepted at the TLS layer so that bootstrap RPCs (register, enroll)
// can run before a certificate exists; the RPC layer enforces identity.
func (a *Authority) ServerTLSConfig(serverCert tls.Certificate) (*tls.Config, error) {
	pool, err := a.RootPool()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return nil
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			if a.IsRevoked(cert.SerialNumber) {
				return errors.New("ca: certificate revoked")
			}
			return nil
		},
	}, nil
}

// IssueServerCert issues the center's own listener certificate directly
// from the root, without the CSR round trip.
func (a *Authority) IssueServerCert(hosts []string) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	rootCert, err := x509.ParseCertificate(a.root.Certificate[0])
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "mfasrv center"},
		NotBefore:    time.Now().Add(-backdate),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     hosts,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, rootCert, &priv.PublicKey, a.root.PrivateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der, a.root.Certificate[0]},
		PrivateKey:  priv,
	}, nil
}
