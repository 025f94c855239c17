package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/authgate/mfasrv/internal/model"
)

// PushTransport talks to the vendor push service (FortiToken-style). The
// orchestrator only ever sees the generic async contract.
type PushTransport interface {
	// Send delivers an approval prompt; returns the provider's request id.
	Send(ctx context.Context, deviceToken, challengeID, prompt string) (string, error)
	// Poll reports pending/approved/denied for a provider request id.
	Poll(ctx context.Context, requestID string) (string, error)
}

// PushMethod is the asynchronous reference provider: issue fires a push to
// the enrolled device, status polls the vendor until a terminal answer.
type PushMethod struct {
	transport PushTransport
}

func NewPush(transport PushTransport) *PushMethod {
	return &PushMethod{transport: transport}
}

func (m *PushMethod) Descriptor() Descriptor {
	return Descriptor{
		MethodID:      "push",
		DisplayName:   "Mobile Push Approval",
		SupportsSync:  false,
		SupportsAsync: true,
	}
}

type pushSecret struct {
	DeviceToken string `json:"deviceToken"`
}

type pushChallengeState struct {
	RequestID string `json:"requestId"`
}

// BeginEnrollment binds a device token supplied out of band (the mobile app
// registration hands it to the REST edge as the enrollment response).
func (m *PushMethod) BeginEnrollment(ctx context.Context, user *model.User) (*EnrollmentSeed, error) {
	return &EnrollmentSeed{
		UserPrompt: "Approve the activation prompt in your mobile app.",
	}, nil
}

func (m *PushMethod) CompleteEnrollment(ctx context.Context, secret []byte, response string) ([]byte, error) {
	if response == "" {
		return nil, errors.New("push: device token required")
	}
	final, _ := json.Marshal(pushSecret{DeviceToken: response})
	return final, nil
}

func (m *PushMethod) Issue(ctx context.Context, in *IssueInput) (*IssueOutput, error) {
	var sec pushSecret
	if err := json.Unmarshal(in.Secret, &sec); err != nil || sec.DeviceToken == "" {
		return nil, errors.New("push: malformed enrollment secret")
	}
	challengeID := in.ChallengeID
	if challengeID == "" {
		challengeID = uuid.New().String()
	}
	prompt := fmt.Sprintf("Sign-in request for %s", in.User.SAMAccountName)
	if in.SourceIP != "" {
		prompt += " from " + in.SourceIP
	}
	reqID, err := m.transport.Send(ctx, sec.DeviceToken, challengeID, prompt)
	if err != nil {
		return nil, fmt.Errorf("push: send: %w", err)
	}
	state, _ := json.Marshal(pushChallengeState{RequestID: reqID})
	return &IssueOutput{
		UserPrompt: "Approve the sign-in request on your device.",
		State:      state,
	}, nil
}

// Verify is unsupported; approval arrives out of band.
func (m *PushMethod) Verify(ctx context.Context, in *VerifyInput) (bool, error) {
	return false, errors.New("push: synchronous verification not supported")
}

func (m *PushMethod) CheckAsyncStatus(ctx context.Context, in *VerifyInput) (string, error) {
	var state pushChallengeState
	if err := json.Unmarshal(in.State, &state); err != nil || state.RequestID == "" {
		return "", errors.New("push: malformed challenge state")
	}
	status, err := m.transport.Poll(ctx, state.RequestID)
	if err != nil {
		return "", fmt.Errorf("push: poll: %w", err)
	}
	switch status {
	case AsyncPending, AsyncApproved, AsyncDenied:
		return status, nil
	default:
		return "", fmt.Errorf("push: unknown vendor status %q", status)
	}
}
