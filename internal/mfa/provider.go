// Package mfa defines the uniform method contract every MFA provider plugs
// into, and the registry the orchestrator dispatches through. Providers are
// a closed set selected by method id; the orchestrator never sees a
// method's wire semantics.
package mfa

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/authgate/mfasrv/internal/model"
)

var (
	ErrUnknownMethod = errors.New("mfa: unknown method")
	// ErrSyncOnly is returned from CheckAsyncStatus by methods that only
	// support synchronous verification.
	ErrSyncOnly = errors.New("mfa: method is synchronous only")
)

// Descriptor declares a method's capabilities.
type Descriptor struct {
	MethodID              string
	DisplayName           string
	SupportsSync          bool
	SupportsAsync         bool
	RequiresEndpointAgent bool
}

// EnrollmentSeed is the output of BeginEnrollment. Secret is the plaintext
// the caller seals before persisting; it never leaves the operation.
type EnrollmentSeed struct {
	Secret           []byte
	DeviceIdentifier string
	UserPrompt       string
	ProvisioningURI  string
}

// IssueInput hands a challenge to a method.
type IssueInput struct {
	ChallengeID string
	User        *model.User
	Secret      []byte
	SourceIP    string
	Target      string
}

// IssueOutput carries what the orchestrator persists and shows the user.
// State is opaque per-method challenge state (e.g. a hashed OTP code).
type IssueOutput struct {
	UserPrompt string
	State      []byte
}

// VerifyInput hands a user response back to the method.
type VerifyInput struct {
	ChallengeID string
	Secret      []byte
	State       []byte
	Response    string
}

// AsyncStatus values lifted onto the challenge row by the orchestrator.
const (
	AsyncPending  = "pending"
	AsyncApproved = "approved"
	AsyncDenied   = "denied"
)

// Method is the five-operation contract of spec'd MFA providers.
type Method interface {
	Descriptor() Descriptor

	// BeginEnrollment produces the not-yet-active enrollment material.
	BeginEnrollment(ctx context.Context, user *model.User) (*EnrollmentSeed, error)

	// CompleteEnrollment validates the user's proof of possession and
	// returns the final secret to store (usually the input unchanged).
	CompleteEnrollment(ctx context.Context, secret []byte, response string) ([]byte, error)

	// Issue starts a challenge.
	Issue(ctx context.Context, in *IssueInput) (*IssueOutput, error)

	// Verify checks a synchronous response.
	Verify(ctx context.Context, in *VerifyInput) (bool, error)

	// CheckAsyncStatus polls an out-of-band approval. Sync-only methods
	// return ErrSyncOnly.
	CheckAsyncStatus(ctx context.Context, in *VerifyInput) (string, error)
}

// Registry is the dispatch table. Lookups are by normalized method id.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

func (r *Registry) Register(m Method) {
	id := model.NormalizeMethodID(m.Descriptor().MethodID)
	r.mu.Lock()
	r.methods[id] = m
	r.mu.Unlock()
}

func (r *Registry) Get(methodID string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[model.NormalizeMethodID(methodID)]
	if !ok {
		return nil, ErrUnknownMethod
	}
	return m, nil
}

func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, m.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MethodID < out[j].MethodID })
	return out
}
