package challenge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/mfasrv/internal/mfa"
	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/otp"
	"github.com/authgate/mfasrv/internal/secretbox"
	"github.com/authgate/mfasrv/internal/store"
)

type fixture struct {
	store  *store.Store
	orch   *Orchestrator
	box    *secretbox.Box
	secret []byte
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)

	registry := mfa.NewRegistry()
	registry.Register(mfa.NewTOTP("AuthGate"))

	ctx := context.Background()
	require.NoError(t, st.UpsertUser(ctx, &model.User{
		ID: "u-1", SAMAccountName: "alice", UPN: "alice@corp.example", Enabled: true,
	}))

	secret := []byte("12345678901234567890")
	sealed, nonce, err := box.Seal(secret)
	require.NoError(t, err)
	require.NoError(t, st.CreateEnrollment(ctx, &model.Enrollment{
		ID: "e-1", UserID: "u-1", Method: "totp", Status: model.EnrollmentPending,
		EncryptedSecret: sealed, SecretNonce: nonce, Created: time.Now().UTC(),
	}))
	require.NoError(t, st.ActivateEnrollment(ctx, "e-1"))

	return &fixture{
		store:  st,
		orch:   New(st, registry, box, opts...),
		box:    box,
		secret: secret,
	}
}

func (f *fixture) code() string { return otp.TOTP(f.secret, time.Now()) }

func TestIssueAndVerifyApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Issue(ctx, "u-1", "TOTP", &model.AuthenticationContext{SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.ChallengeID)
	assert.Equal(t, model.ChallengeIssued, res.Status)

	vr, err := f.orch.Verify(ctx, res.ChallengeID, f.code())
	require.NoError(t, err)
	assert.True(t, vr.Success)

	c, err := f.store.GetChallenge(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeApproved, c.Status)
	assert.Equal(t, 1, c.Attempts)
	require.NotNil(t, c.Responded)

	e, err := f.store.GetEnrollment(ctx, "e-1")
	require.NoError(t, err)
	assert.NotNil(t, e.LastUsed)
}

func TestIssueWithoutEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetEnrollmentStatus(ctx, "e-1", model.EnrollmentDisabled))

	res, err := f.orch.Issue(ctx, "u-1", "totp", nil)
	assert.ErrorIs(t, err, ErrNoEnrollment)
	assert.False(t, res.Success)
}

func TestIssueUnknownMethod(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Issue(context.Background(), "u-1", "carrier-pigeon", nil)
	assert.ErrorIs(t, err, mfa.ErrUnknownMethod)
	assert.False(t, res.Success)
}

func TestWrongCodesExhaustAttempts(t *testing.T) {
	f := newFixture(t, WithMaxAttempts(3))
	ctx := context.Background()

	res, err := f.orch.Issue(ctx, "u-1", "totp", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		vr, err := f.orch.Verify(ctx, res.ChallengeID, "000000")
		require.NoError(t, err)
		assert.False(t, vr.Success)
		assert.False(t, vr.ShouldLockout)
	}
	vr, err := f.orch.Verify(ctx, res.ChallengeID, "000000")
	require.NoError(t, err)
	assert.False(t, vr.Success)
	assert.True(t, vr.ShouldLockout, "third miss locks out")

	c, err := f.store.GetChallenge(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeFailed, c.Status)

	// A late correct code cannot resurrect a failed challenge.
	_, err = f.orch.Verify(ctx, res.ChallengeID, f.code())
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestVerifyAfterApprovalIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Issue(ctx, "u-1", "totp", nil)
	require.NoError(t, err)
	_, err = f.orch.Verify(ctx, res.ChallengeID, f.code())
	require.NoError(t, err)

	_, err = f.orch.Verify(ctx, res.ChallengeID, f.code())
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t, WithTTL(-time.Second))
	ctx := context.Background()

	res, err := f.orch.Issue(ctx, "u-1", "totp", nil)
	require.NoError(t, err)

	_, err = f.orch.Verify(ctx, res.ChallengeID, f.code())
	assert.ErrorIs(t, err, ErrExpired)

	c, err := f.store.GetChallenge(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeExpired, c.Status)

	st, err := f.orch.Status(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeExpired, st.Status)
}

func TestVerifyUnknownChallenge(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Verify(context.Background(), "nope", "000000")
	assert.ErrorIs(t, err, ErrChallengeGone)
}

func TestStatusOnSyncMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Issue(ctx, "u-1", "totp", nil)
	require.NoError(t, err)

	st, err := f.orch.Status(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeIssued, st.Status)

	_, err = f.orch.Verify(ctx, res.ChallengeID, f.code())
	require.NoError(t, err)
	st, err = f.orch.Status(ctx, res.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeApproved, st.Status)
}

// conflictStore injects one CAS conflict to exercise the retry loop.
type conflictStore struct {
	Store
	remaining int
}

func (c *conflictStore) UpdateChallengeCAS(ctx context.Context, ch *model.Challenge) error {
	if c.remaining > 0 {
		c.remaining--
		return store.ErrConflict
	}
	return c.Store.UpdateChallengeCAS(ctx, ch)
}

func TestVerifyRetriesOnCASConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Issue(ctx, "u-1", "totp", nil)
	require.NoError(t, err)

	registry := mfa.NewRegistry()
	registry.Register(mfa.NewTOTP("AuthGate"))
	retrying := New(&conflictStore{Store: f.store, remaining: 1}, registry, f.box)

	vr, err := retrying.Verify(ctx, res.ChallengeID, f.code())
	require.NoError(t, err)
	assert.True(t, vr.Success)
}
