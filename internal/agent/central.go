package agent

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/authgate/mfasrv/internal/circuitbreaker"
	"github.com/authgate/mfasrv/pb"
)

// CentralClient is the agent's connection to the center: evaluation,
// registration, certificate enrollment, heartbeat and the policy stream.
// Every unary call runs through the breaker so an unreachable center fails
// fast into the degraded path.
type CentralClient struct {
	conn    *grpc.ClientConn
	client  pb.AgentGatewayClient
	breaker *circuitbreaker.Breaker
}

// TLSFiles are where the agent keeps its identity material.
type TLSFiles struct {
	Dir string
}

func (t TLSFiles) certPath() string { return filepath.Join(t.Dir, "agent.crt") }
func (t TLSFiles) keyPath() string  { return filepath.Join(t.Dir, "agent.key") }
func (t TLSFiles) caPath() string   { return filepath.Join(t.Dir, "ca.crt") }

// HasCertificate reports whether enrollment already happened.
func (t TLSFiles) HasCertificate() bool {
	_, err := os.Stat(t.certPath())
	return err == nil
}

// Dial connects to the center. Before enrollment the connection is
// server-authenticated only (the CA bundle may also be absent on the very
// first contact, in which case verification is skipped for the bootstrap
// connection and the pinned CA takes over once enrolled).
func Dial(addr string, files TLSFiles) (*CentralClient, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caPEM, err := os.ReadFile(files.caPath()); err == nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.New("agent: corrupt CA bundle")
		}
		tlsCfg.RootCAs = pool
	} else {
		tlsCfg.InsecureSkipVerify = true
		slog.Warn("[Agent] No CA bundle yet, bootstrap connection is unverified")
	}
	if files.HasCertificate() {
		cert, err := tls.LoadX509KeyPair(files.certPath(), files.keyPath())
		if err != nil {
			return nil, fmt.Errorf("agent: load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)),
		grpc.WithDefaultCallOptions(pb.DefaultCallOption()),
	)
	if err != nil {
		return nil, err
	}
	return &CentralClient{
		conn:    conn,
		client:  pb.NewAgentGatewayClient(conn),
		breaker: circuitbreaker.New(circuitbreaker.CentralConfig()),
	}, nil
}

func (c *CentralClient) Close() error { return c.conn.Close() }

// Breaker exposes the breaker for health reporting.
func (c *CentralClient) Breaker() *circuitbreaker.Breaker { return c.breaker }

// Register announces this agent to the center and returns its id.
func (c *CentralClient) Register(ctx context.Context, hostname, agentType, ip, version string) (string, error) {
	var agentID string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.RegisterAgent(ctx, &pb.RegisterAgentRequest{
			Hostname:  hostname,
			AgentType: agentType,
			IP:        ip,
			Version:   version,
		})
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("agent: registration rejected: %s", resp.Error)
		}
		agentID = resp.AgentID
		return nil
	})
	return agentID, err
}

// Enroll generates a key, submits a CSR and persists the signed identity.
func (c *CentralClient) Enroll(ctx context.Context, agentID, agentType, hostname string, files TLSFiles) error {
	if err := os.MkdirAll(files.Dir, 0o700); err != nil {
		return err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		DNSNames: []string{hostname},
	}, key)
	if err != nil {
		return err
	}
	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})

	resp, err := c.client.EnrollCertificate(ctx, &pb.EnrollCertificateRequest{
		AgentID:   agentID,
		AgentType: agentType,
		CSRPem:    string(csrPEM),
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("agent: enrollment rejected: %s", resp.Error)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(files.keyPath(), keyPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(files.certPath(), []byte(resp.SignedCertPem), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(files.caPath(), []byte(resp.CACertPem), 0o644); err != nil {
		return err
	}
	slog.Info("[Agent] Certificate enrolled", "agent", agentID)
	return nil
}

// Evaluate asks the center to decide one logon.
func (c *CentralClient) Evaluate(ctx context.Context, req *pb.EvaluateAuthenticationRequest) (*pb.EvaluateAuthenticationResponse, error) {
	var out *pb.EvaluateAuthenticationResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.EvaluateAuthentication(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *CentralClient) VerifyChallenge(ctx context.Context, challengeID, response string) (*pb.VerifyChallengeResponse, error) {
	var out *pb.VerifyChallengeResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.VerifyChallenge(ctx, &pb.VerifyChallengeRequest{
			ChallengeID: challengeID,
			Response:    response,
		})
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *CentralClient) CheckChallengeStatus(ctx context.Context, challengeID string) (*pb.CheckChallengeStatusResponse, error) {
	var out *pb.CheckChallengeStatusResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.CheckChallengeStatus(ctx, &pb.CheckChallengeStatusRequest{ChallengeID: challengeID})
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

// Heartbeat reports liveness; the response may demand a policy resync.
func (c *CentralClient) Heartbeat(ctx context.Context, agentID string, activeSessions int) (*pb.HeartbeatResponse, error) {
	var out *pb.HeartbeatResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.Heartbeat(ctx, &pb.HeartbeatRequest{
			AgentID:        agentID,
			ActiveSessions: activeSessions,
		})
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

// SyncPolicies opens the server stream; the subscriber loop owns its life.
func (c *CentralClient) SyncPolicies(ctx context.Context, req *pb.SyncPoliciesRequest) (pb.AgentGateway_SyncPoliciesClient, error) {
	return c.client.SyncPolicies(ctx, req)
}
