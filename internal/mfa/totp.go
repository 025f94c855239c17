package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"io"

	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/otp"
)

const totpSecretLen = 20

// TOTPMethod is the reference time-based OTP provider. The secret is 20
// random bytes; codes are 6 digits over 30-second steps, verified against
// the {-1, 0, +1} window with a constant-time compare.
type TOTPMethod struct {
	issuer string
}

func NewTOTP(issuer string) *TOTPMethod {
	return &TOTPMethod{issuer: issuer}
}

func (m *TOTPMethod) Descriptor() Descriptor {
	return Descriptor{
		MethodID:     "totp",
		DisplayName:  "Authenticator App (TOTP)",
		SupportsSync: true,
	}
}

func (m *TOTPMethod) BeginEnrollment(ctx context.Context, user *model.User) (*EnrollmentSeed, error) {
	secret := make([]byte, totpSecretLen)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, err
	}
	account := user.UPN
	if account == "" {
		account = user.SAMAccountName
	}
	return &EnrollmentSeed{
		Secret:          secret,
		UserPrompt:      "Scan the QR code with your authenticator app, then enter the current code.",
		ProvisioningURI: otp.ProvisioningURI(m.issuer, account, secret),
	}, nil
}

// CompleteEnrollment requires one successful verify before activation; a
// never-verified enrollment stays pending.
func (m *TOTPMethod) CompleteEnrollment(ctx context.Context, secret []byte, response string) ([]byte, error) {
	if !otp.ValidateTOTP(secret, response, timeNow()) {
		return nil, errors.New("totp: code does not match")
	}
	return secret, nil
}

func (m *TOTPMethod) Issue(ctx context.Context, in *IssueInput) (*IssueOutput, error) {
	return &IssueOutput{
		UserPrompt: "Enter the 6-digit code from your authenticator app.",
	}, nil
}

func (m *TOTPMethod) Verify(ctx context.Context, in *VerifyInput) (bool, error) {
	return otp.ValidateTOTP(in.Secret, in.Response, timeNow()), nil
}

func (m *TOTPMethod) CheckAsyncStatus(ctx context.Context, in *VerifyInput) (string, error) {
	return "", ErrSyncOnly
}
