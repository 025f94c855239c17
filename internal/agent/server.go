package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/authgate/mfasrv/pb"
)

// PeerTLSConfig builds the agent's mTLS config for the gossip plane, both
// server and client side: present the enrolled certificate, trust only the
// built-in CA, require peer certificates.
func PeerTLSConfig(files TLSFiles, server bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.certPath(), files.keyPath())
	if err != nil {
		return nil, fmt.Errorf("agent: load certificate: %w", err)
	}
	caPEM, err := os.ReadFile(files.caPath())
	if err != nil {
		return nil, fmt.Errorf("agent: load CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("agent: corrupt CA bundle")
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if server {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	} else {
		cfg.RootCAs = pool
		// Gossip peers are addressed by IP; the CA binding is the identity.
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("agent: peer sent no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			_, err = cert.Verify(x509.VerifyOptions{Roots: pool})
			return err
		}
	}
	return cfg, nil
}

// GossipServer hosts the DC-to-DC exchange endpoint.
type GossipServer struct {
	grpc *grpc.Server
	addr string
}

func NewGossipServer(addr string, tlsCfg *tls.Config, recv *GossipReceiver) *GossipServer {
	s := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsCfg)))
	pb.RegisterGossipExchangeServer(s, recv)
	return &GossipServer{grpc: s, addr: addr}
}

func (s *GossipServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("[Agent] Gossip listening", "addr", s.addr)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.grpc.GracefulStop()
		close(done)
	}()
	err = s.grpc.Serve(lis)
	<-done
	if ctx.Err() != nil {
		return nil
	}
	return err
}
