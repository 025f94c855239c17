// Package enrollment drives the register-then-activate lifecycle of a
// user's MFA methods. Secrets are sealed before they touch the store and
// opened only for the duration of a provider call.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/mfasrv/internal/mfa"
	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/secretbox"
	"github.com/authgate/mfasrv/internal/store"
)

var (
	ErrNotPending   = errors.New("enrollment: not in pending state")
	ErrBadResponse  = errors.New("enrollment: activation response rejected")
	ErrUnknownUser  = errors.New("enrollment: unknown user")
	ErrWrongAccount = errors.New("enrollment: enrollment belongs to another user")
)

// Service mediates between the REST layer, the providers and the store.
type Service struct {
	store    *store.Store
	registry *mfa.Registry
	box      *secretbox.Box
}

func NewService(st *store.Store, registry *mfa.Registry, box *secretbox.Box) *Service {
	return &Service{store: st, registry: registry, box: box}
}

// Begun is what the admin API returns from Begin: the pending row plus the
// material the user needs to finish enrollment. Secret data appears here
// exactly once and is never retrievable again.
type Begun struct {
	Enrollment      *model.Enrollment `json:"enrollment"`
	ProvisioningURI string            `json:"provisioningUri,omitempty"`
	UserPrompt      string            `json:"userPrompt,omitempty"`
}

// Begin creates a pending enrollment for (user, method).
func (s *Service) Begin(ctx context.Context, userID, methodID, friendlyName string) (*Begun, error) {
	methodID = model.NormalizeMethodID(methodID)
	method, err := s.registry.Get(methodID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}

	seed, err := method.BeginEnrollment(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment: %w", err)
	}
	sealed, nonce, err := s.box.Seal(seed.Secret)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment: %w", err)
	}

	e := &model.Enrollment{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		Method:           methodID,
		Status:           model.EnrollmentPending,
		EncryptedSecret:  sealed,
		SecretNonce:      nonce,
		DeviceIdentifier: seed.DeviceIdentifier,
		FriendlyName:     friendlyName,
		Created:          model.Millis(time.Now()),
	}
	if err := s.store.CreateEnrollment(ctx, e); err != nil {
		return nil, err
	}
	return &Begun{
		Enrollment:      e,
		ProvisioningURI: seed.ProvisioningURI,
		UserPrompt:      seed.UserPrompt,
	}, nil
}

// Activate proves possession and promotes the enrollment to active. Any
// other active enrollment for the same (user, method) is demoted by the
// store in the same transaction.
func (s *Service) Activate(ctx context.Context, userID, enrollmentID, response string) (*model.Enrollment, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrWrongAccount
	}
	if e.Status != model.EnrollmentPending {
		return nil, ErrNotPending
	}
	method, err := s.registry.Get(e.Method)
	if err != nil {
		return nil, err
	}

	secret, err := s.box.Open(e.EncryptedSecret, e.SecretNonce)
	if err != nil {
		return nil, fmt.Errorf("activate enrollment: %w", err)
	}
	final, err := method.CompleteEnrollment(ctx, secret, response)
	if err != nil {
		return nil, ErrBadResponse
	}

	sealed, nonce, err := s.box.Seal(final)
	if err != nil {
		return nil, fmt.Errorf("activate enrollment: %w", err)
	}
	if err := s.store.UpdateEnrollmentSecret(ctx, e.ID, sealed, nonce); err != nil {
		return nil, err
	}
	if err := s.store.ActivateEnrollment(ctx, e.ID); err != nil {
		return nil, err
	}
	return s.store.GetEnrollment(ctx, e.ID)
}

// Toggle flips an enrollment between active and disabled.
func (s *Service) Toggle(ctx context.Context, userID, enrollmentID string) (*model.Enrollment, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrWrongAccount
	}
	switch e.Status {
	case model.EnrollmentActive:
		err = s.store.SetEnrollmentStatus(ctx, e.ID, model.EnrollmentDisabled)
	case model.EnrollmentDisabled:
		err = s.store.ActivateEnrollment(ctx, e.ID)
	default:
		return nil, ErrNotPending
	}
	if err != nil {
		return nil, err
	}
	return s.store.GetEnrollment(ctx, e.ID)
}

// Delete removes the enrollment. The store clears the user's mfa_enabled
// flag when no active enrollment remains.
func (s *Service) Delete(ctx context.Context, userID, enrollmentID string) error {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if e.UserID != userID {
		return ErrWrongAccount
	}
	return s.store.DeleteEnrollment(ctx, e.ID)
}

// List pages a user's enrollments.
func (s *Service) List(ctx context.Context, userID string, page, pageSize int) ([]model.Enrollment, int, error) {
	return s.store.ListEnrollments(ctx, userID, page, pageSize)
}
