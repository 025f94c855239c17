// Package session manages bearer sessions: signed tokens at the edge, only
// hashes at rest, monotonic revocation, periodic expiry sweeps.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/store"
	"github.com/authgate/mfasrv/internal/token"
)

// DefaultTTL is the policy-defined validity window unless overridden.
const DefaultTTL = 8 * time.Hour

// Store is the slice of the state store the manager needs.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	FindActiveSession(ctx context.Context, userName, sourceIP string) (*model.Session, error)
	RevokeSession(ctx context.Context, id string) error
	ExpireSessions(ctx context.Context) (int64, error)
	TouchUserAuth(ctx context.Context, userID string) error
}

// Manager creates and validates sessions with the token codec.
type Manager struct {
	store Store
	codec *token.Codec
	ttl   time.Duration
}

func NewManager(st Store, codec *token.Codec, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: st, codec: codec, ttl: ttl}
}

// Created pairs the persisted session with the one-time-visible token.
type Created struct {
	Session *model.Session
	Token   []byte // raw; base64-url at the boundary
}

// CreateParams describes the logon the session attests.
type CreateParams struct {
	UserID         string
	UserName       string
	SourceIP       string
	TargetResource string
	VerifiedMethod string
	DCHint         string
	TTL            time.Duration // zero means the manager default
}

// Create mints a 128-bit session id, signs the token and persists only the
// token hash.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Created, error) {
	var sid [16]byte
	if _, err := io.ReadFull(rand.Reader, sid[:]); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	ttl := p.TTL
	if ttl == 0 {
		ttl = m.ttl
	}
	now := model.Millis(time.Now())
	expires := now.Add(ttl)

	raw, err := m.codec.Encode(token.Claims{
		SessionID: sid,
		UserID:    p.UserID,
		Expires:   expires,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess := &model.Session{
		ID:             hex.EncodeToString(sid[:]),
		UserID:         p.UserID,
		UserName:       p.UserName,
		TokenHash:      token.Hash(raw),
		SourceIP:       p.SourceIP,
		TargetResource: p.TargetResource,
		VerifiedMethod: model.NormalizeMethodID(p.VerifiedMethod),
		Status:         model.SessionActive,
		Created:        now,
		Expires:        expires,
		DCHint:         p.DCHint,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := m.store.TouchUserAuth(ctx, p.UserID); err != nil {
		slog.Warn("[Session] last_auth update failed", "user", p.UserID, "error", err)
	}
	return &Created{Session: sess, Token: raw}, nil
}

// Validate returns the session a token proves, or nil. Integrity failure,
// unknown id, revocation, expiry and hash mismatch are indistinguishable to
// the caller: all yield (nil, nil).
func (m *Manager) Validate(ctx context.Context, raw []byte) (*model.Session, error) {
	claims, err := m.codec.Verify(raw)
	if err != nil {
		return nil, nil
	}
	sess, err := m.store.GetSession(ctx, hex.EncodeToString(claims.SessionID[:]))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		// Store unavailability is the one distinguishable outcome: the
		// caller folds it into its failover mode, not into a denial.
		return nil, err
	}
	if sess.Status != model.SessionActive || !time.Now().Before(sess.Expires) {
		return nil, nil
	}
	if subtle.ConstantTimeCompare(sess.TokenHash, token.Hash(raw)) != 1 {
		return nil, nil
	}
	return sess, nil
}

// FindActive returns the freshest live session for (user, source ip).
func (m *Manager) FindActive(ctx context.Context, userName, sourceIP string) (*model.Session, error) {
	sess, err := m.store.FindActiveSession(ctx, userName, sourceIP)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// Revoke marks a session revoked; monotonic and idempotent.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.RevokeSession(ctx, sessionID)
}

// CleanupExpired flips expired-but-active rows; run by the leader.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireSessions(ctx)
	if err == nil && n > 0 {
		slog.Info("[Session] Expired sessions swept", "count", n)
	}
	return n, err
}
