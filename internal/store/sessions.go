package store

import (
	"context"
	"strings"

	"github.com/authgate/mfasrv/internal/model"
)

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.exec(ctx, `
		INSERT INTO sessions (id, user_id, user_name, token_hash, source_ip, target_resource,
			verified_method, status, created, expires, dc_hint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.UserName, sess.TokenHash, sess.SourceIP,
		sess.TargetResource, sess.VerifiedMethod, sess.Status, sess.Created,
		sess.Expires, sess.DCHint)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if err := s.get(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &sess, nil
}

// FindActiveSession returns the most recently created active, unexpired
// session for (user, source ip). User matching is case-insensitive.
func (s *Store) FindActiveSession(ctx context.Context, userName, sourceIP string) (*model.Session, error) {
	var sess model.Session
	err := s.get(ctx, &sess, `
		SELECT * FROM sessions
		WHERE LOWER(user_name) = ? AND source_ip = ? AND status = ? AND expires > ?
		ORDER BY created DESC LIMIT 1`,
		strings.ToLower(userName), sourceIP, model.SessionActive, now())
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, page, pageSize int) ([]model.Session, int, error) {
	var total int
	if err := s.get(ctx, &total, `SELECT COUNT(*) FROM sessions`); err != nil {
		return nil, 0, err
	}
	var list []model.Session
	err := s.sel(ctx, &list,
		`SELECT * FROM sessions ORDER BY created DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	return list, total, err
}

// RevokeSession is monotonic: a revoked session never returns to active.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status != ?`,
		model.SessionRevoked, id, model.SessionRevoked)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already revoked; revocation is idempotent, so
		// only the unknown case is an error.
		if _, gerr := s.GetSession(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// ExpireSessions flips active sessions past their expiry; returns the count.
func (s *Store) ExpireSessions(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE sessions SET status = ? WHERE status = ? AND expires <= ?`,
		model.SessionExpired, model.SessionActive, now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
