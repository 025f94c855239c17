package store

import (
	"context"

	"github.com/authgate/mfasrv/internal/model"
)

func (s *Store) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	_, err := s.exec(ctx, `
		INSERT INTO enrollments (id, user_id, method, status, encrypted_secret, secret_nonce,
			device_identifier, friendly_name, created, activated, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Method, e.Status, e.EncryptedSecret, e.SecretNonce,
		e.DeviceIdentifier, e.FriendlyName, e.Created, e.Activated, e.LastUsed)
	return err
}

func (s *Store) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	var e model.Enrollment
	if err := s.get(ctx, &e, `SELECT * FROM enrollments WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// ActiveEnrollment returns the single active enrollment for (user, method).
// The activation path enforces the at-most-one invariant.
func (s *Store) ActiveEnrollment(ctx context.Context, userID, method string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := s.get(ctx, &e, `
		SELECT * FROM enrollments
		WHERE user_id = ? AND method = ? AND status = ?
		ORDER BY created DESC LIMIT 1`,
		userID, method, model.EnrollmentActive)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEnrollments(ctx context.Context, userID string, page, pageSize int) ([]model.Enrollment, int, error) {
	where, args := ``, []interface{}{}
	if userID != "" {
		where = ` WHERE user_id = ?`
		args = append(args, userID)
	}
	var total int
	if err := s.get(ctx, &total, `SELECT COUNT(*) FROM enrollments`+where, args...); err != nil {
		return nil, 0, err
	}
	var list []model.Enrollment
	args = append(args, pageSize, (page-1)*pageSize)
	err := s.sel(ctx, &list,
		`SELECT * FROM enrollments`+where+` ORDER BY created DESC LIMIT ? OFFSET ?`, args...)
	return list, total, err
}

// UpdateEnrollmentSecret replaces the sealed secret, used when activation
// finalizes material that differs from the pending seed.
func (s *Store) UpdateEnrollmentSecret(ctx context.Context, id string, sealed, nonce []byte) error {
	res, err := s.exec(ctx,
		`UPDATE enrollments SET encrypted_secret = ?, secret_nonce = ? WHERE id = ?`,
		sealed, nonce, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateEnrollment promotes a pending enrollment and demotes any other
// active enrollment for the same (user, method) in the same transaction, so
// at most one active row survives.
func (s *Store) ActivateEnrollment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var e model.Enrollment
	if err := tx.GetContext(ctx, &e, s.q(`SELECT * FROM enrollments WHERE id = ?`), id); err != nil {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE enrollments SET status = ?
		WHERE user_id = ? AND method = ? AND status = ? AND id != ?`),
		model.EnrollmentDisabled, e.UserID, e.Method, model.EnrollmentActive, id); err != nil {
		return err
	}
	ts := now()
	if _, err := tx.ExecContext(ctx, s.q(`
		UPDATE enrollments SET status = ?, activated = ? WHERE id = ?`),
		model.EnrollmentActive, ts, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`UPDATE users SET mfa_enabled = ? WHERE id = ?`), true, e.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetEnrollmentStatus moves an enrollment to disabled/revoked and clears the
// user's mfa_enabled marker when no active enrollment remains.
func (s *Store) SetEnrollmentStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var e model.Enrollment
	if err := tx.GetContext(ctx, &e, s.q(`SELECT * FROM enrollments WHERE id = ?`), id); err != nil {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`UPDATE enrollments SET status = ? WHERE id = ?`), status, id); err != nil {
		return err
	}
	var remaining int
	if err := tx.GetContext(ctx, &remaining, s.q(
		`SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND status = ?`),
		e.UserID, model.EnrollmentActive); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`UPDATE users SET mfa_enabled = ? WHERE id = ?`), remaining > 0, e.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) TouchEnrollmentUsed(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE enrollments SET last_used = ? WHERE id = ?`, now(), id)
	return err
}

// DeleteEnrollment removes the row and recomputes the user's mfa_enabled
// marker, mirroring SetEnrollmentStatus.
func (s *Store) DeleteEnrollment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var e model.Enrollment
	if err := tx.GetContext(ctx, &e, s.q(`SELECT * FROM enrollments WHERE id = ?`), id); err != nil {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM enrollments WHERE id = ?`), id); err != nil {
		return err
	}
	var remaining int
	if err := tx.GetContext(ctx, &remaining, s.q(
		`SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND status = ?`),
		e.UserID, model.EnrollmentActive); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`UPDATE users SET mfa_enabled = ? WHERE id = ?`), remaining > 0, e.UserID); err != nil {
		return err
	}
	return tx.Commit()
}
