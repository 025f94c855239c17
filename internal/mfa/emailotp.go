package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

// OTPTransport delivers a one-time code out of band. The SMTP/SMS libraries
// live outside this repository; tests plug in fakes.
type OTPTransport interface {
	SendCode(ctx context.Context, address, code string) error
}

// EmailOTPMethod is the reference transported-OTP provider. The enrollment
// secret is the delivery address; per-challenge state holds only a hash of
// the code and its expiry, so a store dump never reveals a live code.
type EmailOTPMethod struct {
	transport OTPTransport
	codeTTL   time.Duration
}

func NewEmailOTP(transport OTPTransport, codeTTL time.Duration) *EmailOTPMethod {
	if codeTTL == 0 {
		codeTTL = 5 * time.Minute
	}
	return &EmailOTPMethod{transport: transport, codeTTL: codeTTL}
}

func (m *EmailOTPMethod) Descriptor() Descriptor {
	return Descriptor{
		MethodID:     "email",
		DisplayName:  "Email One-Time Code",
		SupportsSync: true,
	}
}

type emailSecret struct {
	Address string `json:"address"`
}

type emailChallengeState struct {
	CodeHash []byte    `json:"codeHash"`
	Expires  time.Time `json:"expires"`
}

func (m *EmailOTPMethod) BeginEnrollment(ctx context.Context, user *model.User) (*EnrollmentSeed, error) {
	if user.Email == "" {
		return nil, errors.New("email: user has no email address")
	}
	code, err := randomCode()
	if err != nil {
		return nil, err
	}
	if err := m.transport.SendCode(ctx, user.Email, code); err != nil {
		return nil, fmt.Errorf("email: send enrollment code: %w", err)
	}
	// The enrollment proof is carried in the seed prompt flow: the secret
	// stored while pending includes the code hash, cleared on completion.
	pending, _ := json.Marshal(struct {
		emailSecret
		emailChallengeState
	}{
		emailSecret{Address: user.Email},
		emailChallengeState{CodeHash: hashCode(code), Expires: timeNow().Add(m.codeTTL)},
	})
	return &EnrollmentSeed{
		Secret:     pending,
		UserPrompt: "Enter the code we sent to your email address.",
	}, nil
}

func (m *EmailOTPMethod) CompleteEnrollment(ctx context.Context, secret []byte, response string) ([]byte, error) {
	var pending struct {
		emailSecret
		emailChallengeState
	}
	if err := json.Unmarshal(secret, &pending); err != nil {
		return nil, errors.New("email: malformed enrollment state")
	}
	if timeNow().After(pending.Expires) {
		return nil, errors.New("email: enrollment code expired")
	}
	if subtle.ConstantTimeCompare(pending.CodeHash, hashCode(response)) != 1 {
		return nil, errors.New("email: code does not match")
	}
	final, _ := json.Marshal(emailSecret{Address: pending.Address})
	return final, nil
}

func (m *EmailOTPMethod) Issue(ctx context.Context, in *IssueInput) (*IssueOutput, error) {
	var sec emailSecret
	if err := json.Unmarshal(in.Secret, &sec); err != nil {
		return nil, errors.New("email: malformed enrollment secret")
	}
	code, err := randomCode()
	if err != nil {
		return nil, err
	}
	if err := m.transport.SendCode(ctx, sec.Address, code); err != nil {
		return nil, fmt.Errorf("email: send code: %w", err)
	}
	state, _ := json.Marshal(emailChallengeState{
		CodeHash: hashCode(code),
		Expires:  timeNow().Add(m.codeTTL),
	})
	return &IssueOutput{
		UserPrompt: "Enter the code we sent to your email address.",
		State:      state,
	}, nil
}

func (m *EmailOTPMethod) Verify(ctx context.Context, in *VerifyInput) (bool, error) {
	var state emailChallengeState
	if err := json.Unmarshal(in.State, &state); err != nil {
		return false, errors.New("email: malformed challenge state")
	}
	if timeNow().After(state.Expires) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(state.CodeHash, hashCode(in.Response)) == 1, nil
}

func (m *EmailOTPMethod) CheckAsyncStatus(ctx context.Context, in *VerifyInput) (string, error) {
	return "", ErrSyncOnly
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}
