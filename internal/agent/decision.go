package agent

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/policy"
	"github.com/authgate/mfasrv/internal/token"
	"github.com/authgate/mfasrv/pb"
)

// AuthQuery is one intercepted logon.
type AuthQuery struct {
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
	SourceIP string `json:"source_ip,omitempty"`
	Protocol string `json:"protocol"`
}

// AuthDecision is what the interception layer acts on.
type AuthDecision struct {
	Decision       string            `json:"decision"` // allow, deny, challenge
	Reason         string            `json:"reason"`
	ChallengeID    string            `json:"challenge_id,omitempty"`
	SessionToken   string            `json:"session_token,omitempty"`
	TimeoutMs      int64             `json:"timeout_ms,omitempty"`
	RequiredMethod string            `json:"required_method,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Degraded       bool              `json:"degraded,omitempty"`
}

// Decider implements the per-DC decision sequence: session cache, central
// evaluation, then the configured degraded path.
type Decider struct {
	agentID      string
	central      *CentralClient
	sessions     *SessionCache
	policies     *PolicyCache
	failoverMode string

	// announce replicates freshly cached sessions to gossip peers.
	announce func(s *CachedSession, revoked bool)
}

func NewDecider(agentID string, central *CentralClient, sessions *SessionCache, policies *PolicyCache, failoverMode string) *Decider {
	if failoverMode == "" {
		failoverMode = model.FailOpen
	}
	return &Decider{
		agentID:      agentID,
		central:      central,
		sessions:     sessions,
		policies:     policies,
		failoverMode: failoverMode,
	}
}

// SetAnnounce installs the gossip broadcast hook.
func (d *Decider) SetAnnounce(fn func(s *CachedSession, revoked bool)) { d.announce = fn }

// Decide runs the decision sequence for one logon.
func (d *Decider) Decide(ctx context.Context, q AuthQuery) *AuthDecision {
	if s := d.sessions.FindActive(q.UserName, q.SourceIP); s != nil {
		return &AuthDecision{Decision: model.DecisionAllow, Reason: "cached session"}
	}

	if dec := d.localShortCircuit(q); dec != nil {
		return dec
	}

	resp, err := d.central.Evaluate(ctx, &pb.EvaluateAuthenticationRequest{
		UserName: q.UserName,
		Domain:   q.Domain,
		SourceIP: q.SourceIP,
		Protocol: q.Protocol,
		AgentID:  d.agentID,
	})
	if err != nil {
		return d.degraded(q, err)
	}

	if resp.SessionToken != "" {
		d.cacheToken(ctx, q, resp.SessionToken, "")
	}
	return &AuthDecision{
		Decision:       resp.Decision,
		Reason:         resp.Reason,
		ChallengeID:    resp.ChallengeID,
		SessionToken:   resp.SessionToken,
		TimeoutMs:      resp.TimeoutMs,
		RequiredMethod: resp.RequiredMethod,
		Metadata:       resp.ChallengeMetadata,
	}
}

// VerifyChallenge forwards a challenge response and caches the session a
// success returns.
func (d *Decider) VerifyChallenge(ctx context.Context, q AuthQuery, challengeID, response string) *AuthDecision {
	resp, err := d.central.VerifyChallenge(ctx, challengeID, response)
	if err != nil {
		return d.degraded(q, err)
	}
	if !resp.Success {
		out := &AuthDecision{Decision: model.DecisionDeny, Reason: resp.Error}
		if resp.ShouldLockout {
			out.Metadata = map[string]string{"should_lockout": "true"}
		}
		return out
	}
	if resp.SessionToken != "" {
		d.cacheToken(ctx, q, resp.SessionToken, "")
	}
	return &AuthDecision{Decision: model.DecisionAllow, Reason: "challenge verified", SessionToken: resp.SessionToken}
}

// CheckStatus polls an async challenge.
func (d *Decider) CheckStatus(ctx context.Context, q AuthQuery, challengeID string) *AuthDecision {
	resp, err := d.central.CheckChallengeStatus(ctx, challengeID)
	if err != nil {
		return d.degraded(q, err)
	}
	out := &AuthDecision{
		Decision: model.DecisionPending,
		Reason:   "status " + resp.Status,
		Metadata: map[string]string{"status": resp.Status},
	}
	switch resp.Status {
	case model.ChallengeApproved:
		out.Decision = model.DecisionAllow
		out.SessionToken = resp.SessionToken
		if resp.SessionToken != "" {
			d.cacheToken(ctx, q, resp.SessionToken, "")
		}
	case model.ChallengeDenied, model.ChallengeExpired, model.ChallengeFailed:
		out.Decision = model.DecisionDeny
	}
	return out
}

// localShortCircuit evaluates the cached policy chain as far as it stays
// deterministic without directory context. The first locally undecidable
// policy forfeits the short circuit so first-match ordering is preserved.
func (d *Decider) localShortCircuit(q AuthQuery) *AuthDecision {
	actx := &model.AuthenticationContext{
		UserName:       q.UserName,
		SourceIP:       q.SourceIP,
		TargetResource: q.Domain,
		Protocol:       q.Protocol,
		Timestamp:      time.Now(),
	}
	for _, p := range d.policies.Snapshot() {
		if !locallyDecidable(&p) {
			return nil
		}
		if !policy.PolicyMatches(&p, actx) {
			continue
		}
		action := p.Actions[0]
		switch action.ActionType {
		case model.ActionAllow:
			return &AuthDecision{Decision: model.DecisionAllow, Reason: "policy " + p.Name}
		case model.ActionDeny:
			return &AuthDecision{Decision: model.DecisionDeny, Reason: "policy " + p.Name}
		default:
			// MFA and alert flows need the center.
			return nil
		}
	}
	return nil
}

// locallyDecidable reports whether every rule of the policy evaluates from
// the logon alone. Group and OU rules need directory state only the center
// has.
func locallyDecidable(p *model.Policy) bool {
	if len(p.Actions) == 0 {
		return false
	}
	for gi := range p.RuleGroups {
		for ri := range p.RuleGroups[gi].Rules {
			switch p.RuleGroups[gi].Rules[ri].RuleType {
			case model.RuleSourceUser, model.RuleSourceIP, model.RuleAuthProtocol,
				model.RuleTargetResource, model.RuleTimeWindow:
			default:
				return false
			}
		}
	}
	return true
}

func (d *Decider) degraded(q AuthQuery, cause error) *AuthDecision {
	slog.Warn("[Agent] Central unreachable, applying failover", "mode", d.failoverMode, "error", cause)
	switch d.failoverMode {
	case model.FailClose:
		return &AuthDecision{Decision: model.DecisionDeny, Reason: "central unreachable (fail_close)", Degraded: true}
	case model.CachedOnly:
		// The cache was already consulted; reaching here means no session.
		return &AuthDecision{Decision: model.DecisionDeny, Reason: "central unreachable, no cached session", Degraded: true}
	default:
		return &AuthDecision{Decision: model.DecisionAllow, Reason: "central unreachable (fail_open)", Degraded: true}
	}
}

// cacheToken records the session a central decision minted. The structure
// is parsed without MAC verification; only the center can verify, the agent
// just needs the id and expiry.
func (d *Decider) cacheToken(ctx context.Context, q AuthQuery, tok string, method string) {
	raw, err := token.DecodeString(tok)
	if err != nil {
		return
	}
	claims, err := token.Peek(raw)
	if err != nil {
		slog.Warn("[Agent] Unparseable session token from center")
		return
	}
	s := &CachedSession{
		SessionID:      hex.EncodeToString(claims.SessionID[:]),
		UserID:         claims.UserID,
		UserName:       q.UserName,
		SourceIP:       q.SourceIP,
		ExpiresAt:      claims.Expires,
		VerifiedMethod: method,
	}
	d.sessions.Put(ctx, s)
	if d.announce != nil {
		d.announce(s, false)
	}
}
