package store

import (
	"context"

	"github.com/authgate/mfasrv/internal/model"
)

func (s *Store) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	_, err := s.exec(ctx, `
		INSERT INTO challenges (id, user_id, enrollment_id, method, status, source_ip, target,
			attempts, max_attempts, method_state, created, expires, responded, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.UserID, c.EnrollmentID, c.Method, c.Status, c.SourceIP, c.Target,
		c.Attempts, c.MaxAttempts, c.MethodState, c.Created, c.Expires, c.Responded)
	return err
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var c model.Challenge
	if err := s.get(ctx, &c, `SELECT * FROM challenges WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChallengeCAS persists a challenge transition guarded by the version
// the caller read. ErrConflict means a concurrent verifier won; the caller
// re-reads and retries the state machine.
func (s *Store) UpdateChallengeCAS(ctx context.Context, c *model.Challenge) error {
	res, err := s.exec(ctx, `
		UPDATE challenges
		SET status = ?, attempts = ?, method_state = ?, responded = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.Status, c.Attempts, c.MethodState, c.Responded, c.ID, c.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	c.Version++
	return nil
}

// ExpireChallenges lazily ages out issued challenges in bulk; the read path
// performs the same transition per row.
func (s *Store) ExpireChallenges(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE challenges SET status = ?, version = version + 1
		WHERE status = ? AND expires <= ?`,
		model.ChallengeExpired, model.ChallengeIssued, now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
