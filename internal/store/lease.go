package store

import (
	"context"

	"github.com/authgate/mfasrv/internal/model"
)

// Leader lease persistence. All mutations are conditional updates so that
// two instances racing on the same row cannot both win; the loser observes
// ErrConflict and demotes for the round.

const leaseKey = "primary"

func (s *Store) GetLease(ctx context.Context) (*model.LeaderLease, error) {
	var l model.LeaderLease
	if err := s.get(ctx, &l, `SELECT * FROM leader_lease WHERE key = ?`, leaseKey); err != nil {
		return nil, err
	}
	return &l, nil
}

// TryInsertLease claims an absent lease. ErrConflict when the row exists.
func (s *Store) TryInsertLease(ctx context.Context, l *model.LeaderLease) error {
	l.Key = leaseKey
	_, err := s.exec(ctx, `
		INSERT INTO leader_lease (key, holder_id, acquired, expires, renewed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING`,
		l.Key, l.HolderID, l.Acquired, l.Expires, l.Renewed)
	if err != nil {
		return err
	}
	cur, err := s.GetLease(ctx)
	if err != nil {
		return err
	}
	if cur.HolderID != l.HolderID || !cur.Acquired.Equal(l.Acquired) {
		return ErrConflict
	}
	return nil
}

// RenewLease extends a lease still held by holder. ErrConflict when the row
// changed hands underneath.
func (s *Store) RenewLease(ctx context.Context, holderID string, l *model.LeaderLease) error {
	res, err := s.exec(ctx, `
		UPDATE leader_lease SET expires = ?, renewed = ?
		WHERE key = ? AND holder_id = ?`,
		l.Expires, l.Renewed, leaseKey, holderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// TakeOverLease replaces an expired lease, conditional on the holder and
// expiry the caller observed.
func (s *Store) TakeOverLease(ctx context.Context, prev *model.LeaderLease, next *model.LeaderLease) error {
	res, err := s.exec(ctx, `
		UPDATE leader_lease SET holder_id = ?, acquired = ?, expires = ?, renewed = ?
		WHERE key = ? AND holder_id = ? AND expires = ?`,
		next.HolderID, next.Acquired, next.Expires, next.Renewed,
		leaseKey, prev.HolderID, prev.Expires)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ReleaseLease is the best-effort shutdown path: the holder expires its own
// lease so a standby can take over without waiting it out.
func (s *Store) ReleaseLease(ctx context.Context, holderID string) error {
	_, err := s.exec(ctx, `
		UPDATE leader_lease SET expires = ? WHERE key = ? AND holder_id = ?`,
		now(), leaseKey, holderID)
	return err
}
