package enrollment

import (
	"context"
	"net/url"
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

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)

	registry := mfa.NewRegistry()
	registry.Register(mfa.NewTOTP("AuthGate"))

	require.NoError(t, st.UpsertUser(context.Background(), &model.User{
		ID: "u-1", SAMAccountName: "alice", UPN: "alice@corp.example", Enabled: true,
	}))
	return NewService(st, registry, box), st
}

// secretFromURI recovers the shared secret the way an authenticator app would.
func secretFromURI(t *testing.T, uri string) []byte {
	t.Helper()
	u, err := url.Parse(uri)
	require.NoError(t, err)
	secret, err := otp.DecodeBase32(u.Query().Get("secret"))
	require.NoError(t, err)
	return secret
}

func TestBeginCreatesPending(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", " TOTP ", "Work phone")
	require.NoError(t, err)
	assert.Equal(t, "totp", begun.Enrollment.Method)
	assert.Equal(t, model.EnrollmentPending, begun.Enrollment.Status)
	assert.NotEmpty(t, begun.ProvisioningURI)
	assert.NotEmpty(t, begun.UserPrompt)
	assert.Len(t, secretFromURI(t, begun.ProvisioningURI), 20)

	stored, err := st.GetEnrollment(ctx, begun.Enrollment.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.EncryptedSecret, "secret is sealed at rest")
	assert.NotEqual(t, secretFromURI(t, begun.ProvisioningURI), stored.EncryptedSecret)
}

func TestBeginUnknownUser(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Begin(context.Background(), "nobody", "totp", "")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestBeginUnknownMethod(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Begin(context.Background(), "u-1", "carrier-pigeon", "")
	assert.ErrorIs(t, err, mfa.ErrUnknownMethod)
}

func TestActivateWithValidCode(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)
	secret := secretFromURI(t, begun.ProvisioningURI)

	e, err := svc.Activate(ctx, "u-1", begun.Enrollment.ID, otp.TOTP(secret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentActive, e.Status)

	user, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.MFAEnabled, "activation flips the user flag")
}

func TestActivateRejectsWrongCode(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)

	_, err = svc.Activate(ctx, "u-1", begun.Enrollment.ID, "000000")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestActivateWrongAccount(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)

	_, err = svc.Activate(ctx, "u-2", begun.Enrollment.ID, "000000")
	assert.ErrorIs(t, err, ErrWrongAccount)
}

func TestActivateTwiceIsNotPending(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)
	secret := secretFromURI(t, begun.ProvisioningURI)

	_, err = svc.Activate(ctx, "u-1", begun.Enrollment.ID, otp.TOTP(secret, time.Now()))
	require.NoError(t, err)
	_, err = svc.Activate(ctx, "u-1", begun.Enrollment.ID, otp.TOTP(secret, time.Now()))
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestToggle(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)
	secret := secretFromURI(t, begun.ProvisioningURI)
	_, err = svc.Activate(ctx, "u-1", begun.Enrollment.ID, otp.TOTP(secret, time.Now()))
	require.NoError(t, err)

	e, err := svc.Toggle(ctx, "u-1", begun.Enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentDisabled, e.Status)

	user, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, user.MFAEnabled, "no active enrollment remains")

	e, err = svc.Toggle(ctx, "u-1", begun.Enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrollmentActive, e.Status)
}

func TestTogglePendingRejected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)
	_, err = svc.Toggle(ctx, "u-1", begun.Enrollment.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestDelete(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	begun, err := svc.Begin(ctx, "u-1", "totp", "")
	require.NoError(t, err)
	secret := secretFromURI(t, begun.ProvisioningURI)
	_, err = svc.Activate(ctx, "u-1", begun.Enrollment.ID, otp.TOTP(secret, time.Now()))
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, "u-2", begun.Enrollment.ID), ErrWrongAccount)
	require.NoError(t, svc.Delete(ctx, "u-1", begun.Enrollment.ID))

	_, err = st.GetEnrollment(ctx, begun.Enrollment.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	user, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, user.MFAEnabled)
}

func TestListPages(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Begin(ctx, "u-1", "totp", "")
		require.NoError(t, err)
	}

	page, total, err := svc.List(ctx, "u-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}
