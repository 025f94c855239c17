package agent

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

// IPC message kinds.
const (
	KindPreauth       = "preauth"
	KindSubmitMFA     = "submit_mfa"
	KindCheckStatus   = "check_status"
	KindFIDO2Begin    = "fido2_begin"
	KindFIDO2Complete = "fido2_complete"
)

const (
	ipcDeadline = 3 * time.Second
	// maxFrame bounds one request; IPC payloads are small JSON.
	maxFrame = 64 * 1024
)

// IPCRequest is one framed request from the host interception layer.
type IPCRequest struct {
	Kind        string `json:"kind"`
	UserName    string `json:"user_name,omitempty"`
	Domain      string `json:"domain,omitempty"`
	SourceIP    string `json:"source_ip,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	ChallengeID string `json:"challenge_id,omitempty"`
	Response    string `json:"response,omitempty"`
}

// IPCServer answers the host authentication layer over a local socket.
// Frames are 4-byte big-endian length prefixed JSON. Any failure inside a
// request collapses to allow: a faulty MFA layer must never block host
// logons.
type IPCServer struct {
	path    string
	decider *Decider
}

func NewIPCServer(path string, decider *Decider) *IPCServer {
	return &IPCServer{path: path, decider: decider}
}

// Run listens until ctx is cancelled. The socket directory is created
// owner-only; the socket itself is 0600.
func (s *IPCServer) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	_ = os.Remove(s.path)
	lis, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		lis.Close()
		return err
	}
	slog.Info("[Agent] IPC listening", "socket", s.path)

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *IPCServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		conn.SetDeadline(time.Now().Add(ipcDeadline))
		req, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("[Agent] IPC read failed", "error", err)
			}
			return
		}
		resp := s.dispatch(ctx, req)
		if err := writeFrame(conn, resp); err != nil {
			slog.Debug("[Agent] IPC write failed", "error", err)
			return
		}
	}
}

// dispatch runs one request under the hard deadline and the fail-open
// guarantee.
func (s *IPCServer) dispatch(ctx context.Context, req *IPCRequest) (out *AuthDecision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Agent] IPC handler panicked, failing open", "kind", req.Kind, "panic", r)
			out = failOpen("internal error")
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, ipcDeadline)
	defer cancel()

	done := make(chan *AuthDecision, 1)
	go func() {
		done <- s.handle(reqCtx, req)
	}()
	select {
	case d := <-done:
		return d
	case <-reqCtx.Done():
		slog.Warn("[Agent] IPC request timed out, failing open", "kind", req.Kind)
		return failOpen("deadline exceeded")
	}
}

func (s *IPCServer) handle(ctx context.Context, req *IPCRequest) *AuthDecision {
	q := AuthQuery{
		UserName: req.UserName,
		Domain:   req.Domain,
		SourceIP: req.SourceIP,
		Protocol: req.Protocol,
	}
	switch req.Kind {
	case KindPreauth:
		return s.decider.Decide(ctx, q)
	case KindSubmitMFA:
		return s.decider.VerifyChallenge(ctx, q, req.ChallengeID, req.Response)
	case KindCheckStatus:
		return s.decider.CheckStatus(ctx, q, req.ChallengeID)
	case KindFIDO2Begin, KindFIDO2Complete:
		// Platform authenticators ride the same challenge flow; the host
		// side performs the ceremony and submits its result.
		if req.Kind == KindFIDO2Complete {
			return s.decider.VerifyChallenge(ctx, q, req.ChallengeID, req.Response)
		}
		return s.decider.Decide(ctx, q)
	default:
		return failOpen("unknown request kind " + req.Kind)
	}
}

func failOpen(reason string) *AuthDecision {
	return &AuthDecision{Decision: model.DecisionAllow, Reason: reason, Degraded: true}
}

func readFrame(r io.Reader) (*IPCRequest, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrame {
		return nil, errors.New("ipc: frame length out of range")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var req IPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func writeFrame(w io.Writer, resp *AuthDecision) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
