// Package pb defines the wire surface of the agent plane: message types,
// the JSON codec and hand-written service descriptors for the AgentGateway
// and GossipExchange services.
package pb

import "time"

// EvaluateAuthenticationRequest is the intercepted logon as the agent saw it.
type EvaluateAuthenticationRequest struct {
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
	SourceIP string `json:"source_ip,omitempty"`
	Protocol string `json:"protocol"`
	AgentID  string `json:"agent_id"`
}

// EvaluateAuthenticationResponse carries the decision and, depending on it,
// either a bearer token or a pending challenge.
type EvaluateAuthenticationResponse struct {
	Decision          string            `json:"decision"` // allow, deny, challenge
	SessionToken      string            `json:"session_token,omitempty"`
	ChallengeID       string            `json:"challenge_id,omitempty"`
	Reason            string            `json:"reason"`
	TimeoutMs         int64             `json:"timeout_ms,omitempty"`
	RequiredMethod    string            `json:"required_method,omitempty"`
	ChallengeMetadata map[string]string `json:"challenge_metadata,omitempty"`
}

type VerifyChallengeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Response    string `json:"response"`
}

type VerifyChallengeResponse struct {
	Success       bool   `json:"success"`
	SessionToken  string `json:"session_token,omitempty"`
	ShouldLockout bool   `json:"should_lockout,omitempty"`
	Error         string `json:"error,omitempty"`
}

type CheckChallengeStatusRequest struct {
	ChallengeID string `json:"challenge_id"`
}

type CheckChallengeStatusResponse struct {
	Status       string `json:"status"` // pending, issued, approved, denied, expired, failed
	SessionToken string `json:"session_token,omitempty"`
	Error        string `json:"error,omitempty"`
}

type RegisterAgentRequest struct {
	Hostname  string `json:"hostname"`
	AgentType string `json:"agent_type"`
	IP        string `json:"ip"`
	Version   string `json:"version"`
}

type RegisterAgentResponse struct {
	Success bool   `json:"success"`
	AgentID string `json:"agent_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HeartbeatRequest struct {
	AgentID        string `json:"agent_id"`
	ActiveSessions int    `json:"active_sessions"`
}

type HeartbeatResponse struct {
	Ack             bool `json:"ack"`
	ForcePolicySync bool `json:"force_policy_sync,omitempty"`
}

type EnrollCertificateRequest struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	CSRPem    string `json:"csr_pem"`
}

type EnrollCertificateResponse struct {
	Success       bool   `json:"success"`
	SignedCertPem string `json:"signed_cert_pem,omitempty"`
	CACertPem     string `json:"ca_cert_pem,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SyncPoliciesRequest struct {
	AgentID  string    `json:"agent_id"`
	LastSync time.Time `json:"last_sync"`
}

// PolicyUpdate is one element of the SyncPolicies stream. Deleted entries
// carry no body.
type PolicyUpdate struct {
	PolicyID   string    `json:"policy_id"`
	PolicyJSON string    `json:"policy_json,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionEvent replicates a session creation or revocation between DC
// agents. Conflicts resolve last-writer-wins by Timestamp with SessionID as
// the tiebreak; revocations dominate once observed.
type SessionEvent struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	SourceIP       string    `json:"source_ip,omitempty"`
	VerifiedMethod string    `json:"verified_method"`
	Expires        time.Time `json:"expires"`
	Revoked        bool      `json:"revoked"`
	OriginID       string    `json:"origin_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type GossipSessionResponse struct {
	Sequence uint64 `json:"sequence"`
}

type AckRequest struct {
	SessionID string `json:"session_id"`
	Sequence  uint64 `json:"sequence"`
}

type AckResponse struct{}
