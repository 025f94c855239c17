package store

import (
	"context"
	"strings"

	"github.com/authgate/mfasrv/internal/model"
)

// UpsertUser is used by the LDAP importer path. Directory data is never
// written back; this is the one-way sync target.
func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	_, err := s.exec(ctx, `
		INSERT INTO users (id, directory_object_id, sam, upn, display, email, phone, dn, enabled, mfa_enabled, last_sync, last_auth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			directory_object_id=excluded.directory_object_id, sam=excluded.sam,
			upn=excluded.upn, display=excluded.display, email=excluded.email,
			phone=excluded.phone, dn=excluded.dn, enabled=excluded.enabled,
			last_sync=excluded.last_sync`,
		u.ID, u.DirectoryObjectID, u.SAMAccountName, u.UPN, u.DisplayName,
		u.Email, u.Phone, u.DN, u.Enabled, u.MFAEnabled, u.LastSync, u.LastAuth)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.get(ctx, &u, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByName resolves a logon name (sAMAccountName or UPN),
// case-insensitively as the directory does.
func (s *Store) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	var u model.User
	err := s.get(ctx, &u,
		`SELECT * FROM users WHERE LOWER(sam) = ? OR LOWER(upn) = ?`,
		strings.ToLower(name), strings.ToLower(name))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, page, pageSize int) ([]model.User, int, error) {
	var total int
	if err := s.get(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, err
	}
	var users []model.User
	err := s.sel(ctx, &users,
		`SELECT * FROM users ORDER BY sam LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize)
	return users, total, err
}

func (s *Store) TouchUserAuth(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE users SET last_auth = ? WHERE id = ?`, now(), id)
	return err
}

// SetUserMFAEnabled tracks whether the user has any active enrollment.
func (s *Store) SetUserMFAEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.exec(ctx, `UPDATE users SET mfa_enabled = ? WHERE id = ?`, enabled, id)
	return err
}

func (s *Store) ReplaceGroupMemberships(ctx context.Context, userID string, groups []model.GroupMembership) error {
	if _, err := s.exec(ctx, `DELETE FROM group_memberships WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := s.exec(ctx, `
			INSERT INTO group_memberships (user_id, group_sid, group_name, group_dn, synced_at)
			VALUES (?, ?, ?, ?, ?)`,
			userID, g.GroupSID, g.GroupName, g.GroupDN, g.SyncedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]model.GroupMembership, error) {
	var groups []model.GroupMembership
	err := s.sel(ctx, &groups, `SELECT * FROM group_memberships WHERE user_id = ?`, userID)
	return groups, err
}
