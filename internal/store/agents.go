package store

import (
	"context"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

// RegisterAgent inserts or refreshes an agent row keyed by (hostname, type).
// Re-registration after reinstall keeps the original id.
func (s *Store) RegisterAgent(ctx context.Context, a *model.AgentRegistration) (*model.AgentRegistration, error) {
	var existing model.AgentRegistration
	err := s.get(ctx, &existing,
		`SELECT * FROM agents WHERE hostname = ? AND type = ?`, a.Hostname, a.Type)
	if err == nil {
		_, uerr := s.exec(ctx, `
			UPDATE agents SET ip = ?, status = ?, version = ?, last_heartbeat = ? WHERE id = ?`,
			a.IP, model.AgentOnline, a.Version, now(), existing.ID)
		if uerr != nil {
			return nil, uerr
		}
		existing.IP, existing.Status, existing.Version = a.IP, model.AgentOnline, a.Version
		return &existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	a.Status = model.AgentOnline
	a.Registered = now()
	_, err = s.exec(ctx, `
		INSERT INTO agents (id, type, hostname, ip, status, cert_thumbprint, version, registered, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Hostname, a.IP, a.Status, a.CertThumbprint, a.Version, a.Registered, a.Registered)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*model.AgentRegistration, error) {
	var a model.AgentRegistration
	if err := s.get(ctx, &a, `SELECT * FROM agents WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, page, pageSize int) ([]model.AgentRegistration, int, error) {
	var total int
	if err := s.get(ctx, &total, `SELECT COUNT(*) FROM agents`); err != nil {
		return nil, 0, err
	}
	var list []model.AgentRegistration
	err := s.sel(ctx, &list,
		`SELECT * FROM agents ORDER BY hostname LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	return list, total, err
}

func (s *Store) HeartbeatAgent(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE agents SET last_heartbeat = ?, status = ? WHERE id = ?`,
		now(), model.AgentOnline, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetAgentThumbprint(ctx context.Context, id, thumbprint string) error {
	_, err := s.exec(ctx, `UPDATE agents SET cert_thumbprint = ? WHERE id = ?`, thumbprint, id)
	return err
}

// AgentByThumbprint authenticates an mTLS peer certificate.
func (s *Store) AgentByThumbprint(ctx context.Context, thumbprint string) (*model.AgentRegistration, error) {
	var a model.AgentRegistration
	if err := s.get(ctx, &a, `SELECT * FROM agents WHERE cert_thumbprint = ?`, thumbprint); err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkStaleAgentsOffline flips agents whose heartbeat aged past the cutoff.
func (s *Store) MarkStaleAgentsOffline(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE agents SET status = ?
		WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		model.AgentOffline, model.AgentOnline, now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
