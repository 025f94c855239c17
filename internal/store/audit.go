package store

import (
	"context"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

func (s *Store) AppendAudit(ctx context.Context, e *model.AuditLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO audit_log (ts, event_type, user_id, user_name, source_ip, target, success, details, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.EventType, e.UserID, e.UserName, e.SourceIP, e.Target,
		e.Success, e.Details, e.AgentID)
	return err
}

// AuditFilter narrows an audit query. Zero values mean "any".
type AuditFilter struct {
	UserID    string
	EventType string
	From      time.Time
	To        time.Time
}

func (s *Store) QueryAudit(ctx context.Context, f AuditFilter, page, pageSize int) ([]model.AuditLogEntry, int, error) {
	where, args := ` WHERE 1=1`, []interface{}{}
	if f.UserID != "" {
		where += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.EventType != "" {
		where += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if !f.From.IsZero() {
		where += ` AND ts >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where += ` AND ts <= ?`
		args = append(args, f.To)
	}

	var total int
	if err := s.get(ctx, &total, `SELECT COUNT(*) FROM audit_log`+where, args...); err != nil {
		return nil, 0, err
	}
	var list []model.AuditLogEntry
	args = append(args, pageSize, (page-1)*pageSize)
	err := s.sel(ctx, &list,
		`SELECT * FROM audit_log`+where+` ORDER BY seq DESC LIMIT ? OFFSET ?`, args...)
	return list, total, err
}

// HourlyBucket is an audit count for one hour-since-epoch bucket. Buckets
// carry the full date; two midnights on different days never collapse.
type HourlyBucket struct {
	Hour    time.Time `json:"hour"`
	Total   int       `json:"total"`
	Success int       `json:"success"`
}

func (s *Store) AuditHourly(ctx context.Context, f AuditFilter) ([]HourlyBucket, error) {
	list, _, err := s.QueryAudit(ctx, f, 1, 100000)
	if err != nil {
		return nil, err
	}
	idx := map[int64]*HourlyBucket{}
	var order []int64
	for _, e := range list {
		h := e.Timestamp.UTC().Truncate(time.Hour)
		key := h.Unix()
		b, ok := idx[key]
		if !ok {
			b = &HourlyBucket{Hour: h}
			idx[key] = b
			order = append(order, key)
		}
		b.Total++
		if e.Success {
			b.Success++
		}
	}
	out := make([]HourlyBucket, 0, len(order))
	for _, key := range order {
		out = append(out, *idx[key])
	}
	return out, nil
}

// Restore confirmation tokens live in the store so any HA instance can
// confirm a restore requested on another.

func (s *Store) PutRestoreToken(ctx context.Context, token, filename string, expires time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO restore_tokens (token, filename, expires) VALUES (?, ?, ?)`,
		token, filename, expires)
	return err
}

// TakeRestoreToken consumes a token; single use, 5-minute lifetime.
func (s *Store) TakeRestoreToken(ctx context.Context, token string) (string, error) {
	var row struct {
		Filename string    `db:"filename"`
		Expires  time.Time `db:"expires"`
	}
	if err := s.get(ctx, &row,
		`SELECT filename, expires FROM restore_tokens WHERE token = ?`, token); err != nil {
		return "", err
	}
	if _, err := s.exec(ctx, `DELETE FROM restore_tokens WHERE token = ?`, token); err != nil {
		return "", err
	}
	if now().After(row.Expires) {
		return "", ErrNotFound
	}
	return row.Filename, nil
}
