// Package challenge drives the issue/verify/poll state machine for MFA
// challenges. Terminal transitions are final; attempts are monotonic; all
// competing verifiers are serialized by optimistic concurrency on the row.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/mfasrv/internal/mfa"
	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/secretbox"
	"github.com/authgate/mfasrv/internal/store"
)

// Stable reason strings surfaced to clients. Logon surfaces collapse these;
// the admin plane may show them.
var (
	ErrNoEnrollment  = errors.New("no active enrollment for method")
	ErrTerminal      = errors.New("challenge is in a terminal state")
	ErrChallengeGone = errors.New("challenge not found")
	ErrExpired       = errors.New("challenge expired")
	ErrAttemptsSpent = errors.New("attempts exhausted")
)

const casRetries = 3

// Store is the slice of the state store the orchestrator needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ActiveEnrollment(ctx context.Context, userID, method string) (*model.Enrollment, error)
	TouchEnrollmentUsed(ctx context.Context, id string) error
	CreateChallenge(ctx context.Context, c *model.Challenge) error
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
	UpdateChallengeCAS(ctx context.Context, c *model.Challenge) error
}

// Auditor receives challenge lifecycle events; nil-safe.
type Auditor interface {
	Record(e *model.AuditLogEntry)
}

// Orchestrator issues and verifies challenges through the provider registry.
type Orchestrator struct {
	store    Store
	registry *mfa.Registry
	box      *secretbox.Box
	audit    Auditor

	ttl         time.Duration
	maxAttempts int
}

type Option func(*Orchestrator)

func WithTTL(d time.Duration) Option { return func(o *Orchestrator) { o.ttl = d } }

func WithMaxAttempts(n int) Option { return func(o *Orchestrator) { o.maxAttempts = n } }

func WithAuditor(a Auditor) Option { return func(o *Orchestrator) { o.audit = a } }

func New(st Store, registry *mfa.Registry, box *secretbox.Box, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		registry:    registry,
		box:         box,
		ttl:         5 * time.Minute,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result is the outcome of Issue.
type Result struct {
	Success     bool       `json:"success"`
	ChallengeID string     `json:"challengeId,omitempty"`
	UserPrompt  string     `json:"userPrompt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Status      string     `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// VerificationResult is the outcome of Verify.
type VerificationResult struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	ShouldLockout bool   `json:"shouldLockout,omitempty"`
}

// AsyncVerificationStatus is the outcome of Status.
type AsyncVerificationStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Issue creates a challenge for (user, method) and dispatches to the
// provider. Requires an active enrollment.
func (o *Orchestrator) Issue(ctx context.Context, userID, methodID string, actx *model.AuthenticationContext) (*Result, error) {
	methodID = model.NormalizeMethodID(methodID)
	method, err := o.registry.Get(methodID)
	if err != nil {
		return &Result{Success: false, Error: "unknown method"}, err
	}
	enrollment, err := o.store.ActiveEnrollment(ctx, userID, methodID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Result{Success: false, Error: ErrNoEnrollment.Error()}, ErrNoEnrollment
		}
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	user, err := o.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}

	secret, err := o.box.Open(enrollment.EncryptedSecret, enrollment.SecretNonce)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}

	c := &model.Challenge{
		ID:           uuid.New().String(),
		UserID:       userID,
		EnrollmentID: enrollment.ID,
		Method:       methodID,
		Status:       model.ChallengeIssued,
		Attempts:     0,
		MaxAttempts:  o.maxAttempts,
		Created:      model.Millis(time.Now()),
		Expires:      model.Millis(time.Now().Add(o.ttl)),
	}
	if actx != nil {
		c.SourceIP = actx.SourceIP
		c.Target = actx.TargetResource
	}

	out, err := method.Issue(ctx, &mfa.IssueInput{
		ChallengeID: c.ID,
		User:        user,
		Secret:      secret,
		SourceIP:    c.SourceIP,
		Target:      c.Target,
	})
	if err != nil {
		o.record(ctx, c, "challenge_issue_failed", false, err.Error())
		return &Result{Success: false, Error: "challenge dispatch failed"}, err
	}
	c.MethodState = out.State

	if err := o.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}
	o.record(ctx, c, "challenge_issued", true, "")

	expires := c.Expires
	return &Result{
		Success:     true,
		ChallengeID: c.ID,
		UserPrompt:  out.UserPrompt,
		ExpiresAt:   &expires,
		Status:      c.Status,
	}, nil
}

// Verify applies one synchronous response. The attempts increment and any
// terminal transition commit atomically via compare-and-swap on the row
// version; conflict means another verifier moved first and we re-read.
func (o *Orchestrator) Verify(ctx context.Context, challengeID, response string) (*VerificationResult, error) {
	for attempt := 0; ; attempt++ {
		res, err := o.verifyOnce(ctx, challengeID, response)
		if errors.Is(err, store.ErrConflict) && attempt < casRetries {
			continue
		}
		return res, err
	}
}

func (o *Orchestrator) verifyOnce(ctx context.Context, challengeID, response string) (*VerificationResult, error) {
	c, err := o.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &VerificationResult{Error: ErrChallengeGone.Error()}, ErrChallengeGone
		}
		return nil, err
	}

	if model.TerminalChallenge(c.Status) {
		return &VerificationResult{Error: ErrTerminal.Error()}, ErrTerminal
	}
	if expired, err := o.lazyExpire(ctx, c); err != nil {
		return nil, err
	} else if expired {
		return &VerificationResult{Error: ErrExpired.Error()}, ErrExpired
	}
	if c.Attempts >= c.MaxAttempts {
		// Attempts spent but not yet marked; finish the transition.
		c.Status = model.ChallengeFailed
		if err := o.store.UpdateChallengeCAS(ctx, c); err != nil {
			return nil, err
		}
		return &VerificationResult{Error: ErrAttemptsSpent.Error(), ShouldLockout: true}, ErrAttemptsSpent
	}

	method, err := o.registry.Get(c.Method)
	if err != nil {
		return nil, err
	}
	enrollment, err := o.store.ActiveEnrollment(ctx, c.UserID, c.Method)
	if err != nil {
		return nil, fmt.Errorf("verify challenge: %w", err)
	}
	secret, err := o.box.Open(enrollment.EncryptedSecret, enrollment.SecretNonce)
	if err != nil {
		return nil, fmt.Errorf("verify challenge: %w", err)
	}

	ok, verr := method.Verify(ctx, &mfa.VerifyInput{
		ChallengeID: c.ID,
		Secret:      secret,
		State:       c.MethodState,
		Response:    response,
	})

	c.Attempts++
	ts := model.Millis(time.Now())
	c.Responded = &ts

	switch {
	case verr != nil:
		// Provider failure is not a user failure, but it consumes the
		// attempt: a flapping provider must not grant unlimited tries.
		if c.Attempts >= c.MaxAttempts {
			c.Status = model.ChallengeFailed
		}
		if err := o.store.UpdateChallengeCAS(ctx, c); err != nil {
			return nil, err
		}
		o.record(ctx, c, "challenge_verify_error", false, verr.Error())
		return &VerificationResult{Error: "verification unavailable", ShouldLockout: c.Status == model.ChallengeFailed}, verr
	case ok:
		c.Status = model.ChallengeApproved
		if err := o.store.UpdateChallengeCAS(ctx, c); err != nil {
			return nil, err
		}
		if err := o.store.TouchEnrollmentUsed(ctx, enrollment.ID); err != nil {
			slog.Warn("[Challenge] last_used update failed", "enrollment", enrollment.ID, "error", err)
		}
		o.record(ctx, c, "challenge_approved", true, "")
		return &VerificationResult{Success: true}, nil
	default:
		lockout := c.Attempts >= c.MaxAttempts
		if lockout {
			c.Status = model.ChallengeFailed
		}
		if err := o.store.UpdateChallengeCAS(ctx, c); err != nil {
			return nil, err
		}
		o.record(ctx, c, "challenge_denied_attempt", false,
			fmt.Sprintf("attempt %d/%d", c.Attempts, c.MaxAttempts))
		return &VerificationResult{Error: "invalid response", ShouldLockout: lockout}, nil
	}
}

// Status reports the challenge state, polling the provider for async
// methods and lifting any terminal answer onto the row.
func (o *Orchestrator) Status(ctx context.Context, challengeID string) (*AsyncVerificationStatus, error) {
	for attempt := 0; ; attempt++ {
		res, err := o.statusOnce(ctx, challengeID)
		if errors.Is(err, store.ErrConflict) && attempt < casRetries {
			continue
		}
		return res, err
	}
}

func (o *Orchestrator) statusOnce(ctx context.Context, challengeID string) (*AsyncVerificationStatus, error) {
	c, err := o.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AsyncVerificationStatus{Error: ErrChallengeGone.Error()}, ErrChallengeGone
		}
		return nil, err
	}
	if model.TerminalChallenge(c.Status) {
		return &AsyncVerificationStatus{Status: c.Status}, nil
	}
	if expired, err := o.lazyExpire(ctx, c); err != nil {
		return nil, err
	} else if expired {
		return &AsyncVerificationStatus{Status: model.ChallengeExpired}, nil
	}

	method, err := o.registry.Get(c.Method)
	if err != nil {
		return nil, err
	}
	if !method.Descriptor().SupportsAsync {
		return &AsyncVerificationStatus{Status: c.Status}, nil
	}

	status, perr := method.CheckAsyncStatus(ctx, &mfa.VerifyInput{
		ChallengeID: c.ID,
		State:       c.MethodState,
	})
	if perr != nil {
		if errors.Is(perr, mfa.ErrSyncOnly) {
			return &AsyncVerificationStatus{Status: c.Status}, nil
		}
		return &AsyncVerificationStatus{Status: c.Status, Error: "status check unavailable"}, perr
	}

	switch status {
	case mfa.AsyncApproved:
		c.Status = model.ChallengeApproved
	case mfa.AsyncDenied:
		c.Status = model.ChallengeDenied
	default:
		return &AsyncVerificationStatus{Status: c.Status}, nil
	}
	ts := model.Millis(time.Now())
	c.Responded = &ts
	if err := o.store.UpdateChallengeCAS(ctx, c); err != nil {
		return nil, err
	}
	if c.Status == model.ChallengeApproved {
		if enrollment, eerr := o.store.ActiveEnrollment(ctx, c.UserID, c.Method); eerr == nil {
			if terr := o.store.TouchEnrollmentUsed(ctx, enrollment.ID); terr != nil {
				slog.Warn("[Challenge] last_used update failed", "enrollment", enrollment.ID, "error", terr)
			}
		}
	}
	o.record(ctx, c, "challenge_"+c.Status, c.Status == model.ChallengeApproved, "async")
	return &AsyncVerificationStatus{Status: c.Status}, nil
}

// lazyExpire applies the issued→expired transition on read.
func (o *Orchestrator) lazyExpire(ctx context.Context, c *model.Challenge) (bool, error) {
	if time.Now().Before(c.Expires) {
		return false, nil
	}
	c.Status = model.ChallengeExpired
	if err := o.store.UpdateChallengeCAS(ctx, c); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Someone else transitioned it; the caller re-reads.
			return false, err
		}
		return false, err
	}
	o.record(ctx, c, "challenge_expired", false, "")
	return true, nil
}

func (o *Orchestrator) record(ctx context.Context, c *model.Challenge, event string, success bool, details string) {
	if o.audit == nil {
		return
	}
	o.audit.Record(&model.AuditLogEntry{
		EventType: event,
		UserID:    c.UserID,
		SourceIP:  c.SourceIP,
		Target:    c.Target,
		Success:   success,
		Details:   details,
	})
}
