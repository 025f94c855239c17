// Package model defines the entities owned by the central state store and
// the value types exchanged between the policy engine, the challenge
// orchestrator, the session manager and the agent plane.
//
// All timestamps are UTC instants with millisecond resolution; the store
// layer truncates on write.
package model

import (
	"strings"
	"time"
)

// User mirrors a directory principal. Externally mastered: only the LDAP
// importer and the enrollment lifecycle (MFAEnabled) mutate rows.
type User struct {
	ID                string     `db:"id" json:"id"`
	DirectoryObjectID string     `db:"directory_object_id" json:"directoryObjectId"`
	SAMAccountName    string     `db:"sam" json:"sam"`
	UPN               string     `db:"upn" json:"upn"`
	DisplayName       string     `db:"display" json:"display"`
	Email             string     `db:"email" json:"email,omitempty"`
	Phone             string     `db:"phone" json:"phone,omitempty"`
	DN                string     `db:"dn" json:"dn"`
	Enabled           bool       `db:"enabled" json:"enabled"`
	MFAEnabled        bool       `db:"mfa_enabled" json:"mfaEnabled"`
	LastSync          *time.Time `db:"last_sync" json:"lastSync,omitempty"`
	LastAuth          *time.Time `db:"last_auth" json:"lastAuth,omitempty"`
}

// GroupMembership is a snapshot of directory group membership at last sync.
type GroupMembership struct {
	UserID    string    `db:"user_id" json:"userId"`
	GroupSID  string    `db:"group_sid" json:"groupSid"`
	GroupName string    `db:"group_name" json:"groupName"`
	GroupDN   string    `db:"group_dn" json:"groupDn"`
	SyncedAt  time.Time `db:"synced_at" json:"syncedAt"`
}

// Enrollment statuses.
const (
	EnrollmentPending  = "pending"
	EnrollmentActive   = "active"
	EnrollmentDisabled = "disabled"
	EnrollmentRevoked  = "revoked"
)

// Enrollment binds a user to an MFA method. The secret only ever exists in
// plaintext inside a single operation; at rest it is sealed by the secret box.
type Enrollment struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	Method           string     `db:"method" json:"method"`
	Status           string     `db:"status" json:"status"`
	EncryptedSecret  []byte     `db:"encrypted_secret" json:"-"`
	SecretNonce      []byte     `db:"secret_nonce" json:"-"`
	DeviceIdentifier string     `db:"device_identifier" json:"deviceIdentifier,omitempty"`
	FriendlyName     string     `db:"friendly_name" json:"friendlyName,omitempty"`
	Created          time.Time  `db:"created" json:"created"`
	Activated        *time.Time `db:"activated" json:"activated,omitempty"`
	LastUsed         *time.Time `db:"last_used" json:"lastUsed,omitempty"`
}

// Failover modes for unreachable-center decisioning.
const (
	FailOpen   = "fail_open"
	FailClose  = "fail_close"
	CachedOnly = "cached_only"
)

// Policy is a prioritized rule set. Lowest numeric priority wins; ties break
// on id for stable ordering.
type Policy struct {
	ID           string      `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	Description  string      `db:"description" json:"description,omitempty"`
	Enabled      bool        `db:"enabled" json:"enabled"`
	Priority     int         `db:"priority" json:"priority"`
	FailoverMode string      `db:"failover_mode" json:"failoverMode"`
	RuleGroups   []RuleGroup `db:"-" json:"ruleGroups"`
	Actions      []Action    `db:"-" json:"actions"`
	Updated      time.Time   `db:"updated" json:"updated"`
}

// RuleGroup: groups combine by OR, rules within a group by AND.
type RuleGroup struct {
	ID       string `db:"id" json:"id"`
	PolicyID string `db:"policy_id" json:"policyId"`
	Order    int    `db:"grp_order" json:"order"`
	Rules    []Rule `db:"-" json:"rules"`
}

// Rule types.
const (
	RuleSourceUser     = "source_user"
	RuleSourceGroup    = "source_group"
	RuleSourceIP       = "source_ip"
	RuleSourceOU       = "source_ou"
	RuleTargetResource = "target_resource"
	RuleAuthProtocol   = "auth_protocol"
	RuleTimeWindow     = "time_window"
	RuleRiskScore      = "risk_score"
)

// Rule operators. String matching is case-insensitive.
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
)

type Rule struct {
	ID       string `db:"id" json:"id"`
	GroupID  string `db:"group_id" json:"groupId"`
	RuleType string `db:"rule_type" json:"ruleType"`
	Operator string `db:"operator" json:"operator"`
	Value    string `db:"value" json:"value"`
	Negate   bool   `db:"negate" json:"negate"`
}

// Action types. The first action of the first matching policy is dispositive.
const (
	ActionRequireMFA = "require_mfa"
	ActionDeny       = "deny"
	ActionAllow      = "allow"
	ActionAlertOnly  = "alert_only"
)

type Action struct {
	ID             string `db:"id" json:"id"`
	PolicyID       string `db:"policy_id" json:"policyId"`
	ActionType     string `db:"action_type" json:"actionType"`
	RequiredMethod string `db:"required_method" json:"requiredMethod,omitempty"`
}

// Challenge statuses. approved/denied/expired/failed are terminal and
// immutable once reached.
const (
	ChallengeIssued   = "issued"
	ChallengeApproved = "approved"
	ChallengeDenied   = "denied"
	ChallengeExpired  = "expired"
	ChallengeFailed   = "failed"
)

// TerminalChallenge reports whether a challenge status is final.
func TerminalChallenge(status string) bool {
	switch status {
	case ChallengeApproved, ChallengeDenied, ChallengeExpired, ChallengeFailed:
		return true
	}
	return false
}

// Challenge is a single verification attempt bound to an enrollment.
// MethodState carries per-method opaque state (e.g. a hashed OTP code).
type Challenge struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"userId"`
	EnrollmentID string     `db:"enrollment_id" json:"enrollmentId"`
	Method       string     `db:"method" json:"method"`
	Status       string     `db:"status" json:"status"`
	SourceIP     string     `db:"source_ip" json:"sourceIp,omitempty"`
	Target       string     `db:"target" json:"target,omitempty"`
	Attempts     int        `db:"attempts" json:"attempts"`
	MaxAttempts  int        `db:"max_attempts" json:"maxAttempts"`
	MethodState  []byte     `db:"method_state" json:"-"`
	Created      time.Time  `db:"created" json:"created"`
	Expires      time.Time  `db:"expires" json:"expires"`
	Responded    *time.Time `db:"responded" json:"responded,omitempty"`
	Version      int64      `db:"version" json:"-"`
}

// Session statuses.
const (
	SessionActive  = "active"
	SessionExpired = "expired"
	SessionRevoked = "revoked"
)

// Session is a bearer artifact asserting MFA completion. The token itself is
// never stored; TokenHash is sha256 over the raw token bytes.
type Session struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"userId"`
	UserName       string    `db:"user_name" json:"userName"`
	TokenHash      []byte    `db:"token_hash" json:"-"`
	SourceIP       string    `db:"source_ip" json:"sourceIp"`
	TargetResource string    `db:"target_resource" json:"targetResource,omitempty"`
	VerifiedMethod string    `db:"verified_method" json:"verifiedMethod"`
	Status         string    `db:"status" json:"status"`
	Created        time.Time `db:"created" json:"created"`
	Expires        time.Time `db:"expires" json:"expires"`
	DCHint         string    `db:"dc_hint" json:"dcHint,omitempty"`
}

// Agent registration.
const (
	AgentTypeDC       = "dc"
	AgentTypeEndpoint = "endpoint"

	AgentOnline   = "online"
	AgentOffline  = "offline"
	AgentDegraded = "degraded"
)

type AgentRegistration struct {
	ID             string     `db:"id" json:"id"`
	Type           string     `db:"type" json:"type"`
	Hostname       string     `db:"hostname" json:"hostname"`
	IP             string     `db:"ip" json:"ip,omitempty"`
	Status         string     `db:"status" json:"status"`
	CertThumbprint string     `db:"cert_thumbprint" json:"certThumbprint,omitempty"`
	Version        string     `db:"version" json:"version,omitempty"`
	Registered     time.Time  `db:"registered" json:"registered"`
	LastHeartbeat  *time.Time `db:"last_heartbeat" json:"lastHeartbeat,omitempty"`
}

// LeaderLease is the singleton election row. Exactly zero-or-one row exists
// with key "primary".
type LeaderLease struct {
	Key      string    `db:"key" json:"key"`
	HolderID string    `db:"holder_id" json:"holderId"`
	Acquired time.Time `db:"acquired" json:"acquired"`
	Expires  time.Time `db:"expires" json:"expires"`
	Renewed  time.Time `db:"renewed" json:"renewed"`
}

// AuditLogEntry is append-only.
type AuditLogEntry struct {
	Seq       int64     `db:"seq" json:"seq"`
	Timestamp time.Time `db:"ts" json:"ts"`
	EventType string    `db:"event_type" json:"eventType"`
	UserID    string    `db:"user_id" json:"userId,omitempty"`
	UserName  string    `db:"user_name" json:"userName,omitempty"`
	SourceIP  string    `db:"source_ip" json:"sourceIp,omitempty"`
	Target    string    `db:"target" json:"target,omitempty"`
	Success   bool      `db:"success" json:"success"`
	Details   string    `db:"details" json:"details,omitempty"`
	AgentID   string    `db:"agent_id" json:"agentId,omitempty"`
}

// Decisions produced by policy evaluation and the agent decision service.
const (
	DecisionAllow      = "allow"
	DecisionDeny       = "deny"
	DecisionRequireMFA = "require_mfa"
	DecisionPending    = "pending"
)

// AuthenticationContext is the input to policy evaluation.
type AuthenticationContext struct {
	UserName       string    `json:"userName"`
	UserGroups     []string  `json:"userGroups"`
	SourceIP       string    `json:"sourceIp,omitempty"`
	UserOU         string    `json:"userOu,omitempty"`
	TargetResource string    `json:"targetResource,omitempty"`
	Protocol       string    `json:"protocol"`
	Timestamp      time.Time `json:"timestamp"`
}

// PolicyEvaluationResult is the output of the policy engine.
type PolicyEvaluationResult struct {
	Decision          string `json:"decision"`
	MatchedPolicyID   string `json:"matchedPolicyId,omitempty"`
	MatchedPolicyName string `json:"matchedPolicyName,omitempty"`
	RequiredMethod    string `json:"requiredMethod,omitempty"`
	FailoverMode      string `json:"failoverMode"`
	Reason            string `json:"reason"`
	Alert             bool   `json:"alert,omitempty"`
}

// NormalizeMethodID collapses the mixed case conventions used for method ids
// at the REST and provider edges. All lookups go through this.
func NormalizeMethodID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Millis truncates a time to millisecond resolution in UTC.
func Millis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
