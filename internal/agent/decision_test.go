package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/token"
)

// newDecider builds a decider with warm caches and no central connection.
// Paths that would reach the center are not exercised here.
func newDecider(t *testing.T, failoverMode string) (*Decider, *SessionCache, *PolicyCache) {
	t.Helper()
	ls := newLocalStore(t)
	sessions := NewSessionCache(ls)
	policies := NewPolicyCache(ls)
	return NewDecider("agent-1", nil, sessions, policies, failoverMode), sessions, policies
}

func applyPolicy(t *testing.T, c *PolicyCache, p *model.Policy) {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	c.Apply(context.Background(), p.ID, string(b), false, time.Now())
}

func userPolicy(id string, priority int, user, actionType string) *model.Policy {
	return &model.Policy{
		ID: id, Name: "pol-" + id, Priority: priority, Enabled: true,
		RuleGroups: []model.RuleGroup{{Rules: []model.Rule{
			{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: user},
		}}},
		Actions: []model.Action{{ActionType: actionType}},
	}
}

func TestDecideCachedSessionShortCircuits(t *testing.T) {
	d, sessions, _ := newDecider(t, model.FailOpen)
	sessions.Put(context.Background(), cachedSession("s-1", "alice", "10.0.0.1", time.Hour))

	out := d.Decide(context.Background(), AuthQuery{UserName: "alice", SourceIP: "10.0.0.1"})
	assert.Equal(t, model.DecisionAllow, out.Decision)
	assert.Equal(t, "cached session", out.Reason)
}

func TestLocalShortCircuitDeny(t *testing.T) {
	d, _, policies := newDecider(t, model.FailOpen)
	applyPolicy(t, policies, userPolicy("p-1", 1, "mallory", model.ActionDeny))

	out := d.localShortCircuit(AuthQuery{UserName: "mallory"})
	require.NotNil(t, out)
	assert.Equal(t, model.DecisionDeny, out.Decision)
}

func TestLocalShortCircuitAllow(t *testing.T) {
	d, _, policies := newDecider(t, model.FailOpen)
	applyPolicy(t, policies, userPolicy("p-1", 1, "svc-backup", model.ActionAllow))

	out := d.localShortCircuit(AuthQuery{UserName: "svc-backup"})
	require.NotNil(t, out)
	assert.Equal(t, model.DecisionAllow, out.Decision)
}

func TestLocalShortCircuitForfeitsOnDirectoryRules(t *testing.T) {
	d, _, policies := newDecider(t, model.FailOpen)

	// A group rule needs directory state, so nothing past it may be decided
	// locally even when a later policy would match.
	groupPolicy := &model.Policy{
		ID: "p-1", Name: "admins", Priority: 1, Enabled: true,
		RuleGroups: []model.RuleGroup{{Rules: []model.Rule{
			{RuleType: model.RuleSourceGroup, Operator: model.OpEquals, Value: "Domain Admins"},
		}}},
		Actions: []model.Action{{ActionType: model.ActionDeny}},
	}
	applyPolicy(t, policies, groupPolicy)
	applyPolicy(t, policies, userPolicy("p-2", 2, "alice", model.ActionDeny))

	assert.Nil(t, d.localShortCircuit(AuthQuery{UserName: "alice"}))
}

func TestLocalShortCircuitSkipsNonMatching(t *testing.T) {
	d, _, policies := newDecider(t, model.FailOpen)
	applyPolicy(t, policies, userPolicy("p-1", 1, "bob", model.ActionDeny))

	assert.Nil(t, d.localShortCircuit(AuthQuery{UserName: "alice"}))
}

func TestLocalShortCircuitMFANeedsCenter(t *testing.T) {
	d, _, policies := newDecider(t, model.FailOpen)
	applyPolicy(t, policies, userPolicy("p-1", 1, "alice", model.ActionRequireMFA))

	assert.Nil(t, d.localShortCircuit(AuthQuery{UserName: "alice"}))
}

func TestLocallyDecidable(t *testing.T) {
	ok := userPolicy("p", 1, "alice", model.ActionAllow)
	assert.True(t, locallyDecidable(ok))

	noActions := userPolicy("p", 1, "alice", model.ActionAllow)
	noActions.Actions = nil
	assert.False(t, locallyDecidable(noActions))

	group := userPolicy("p", 1, "alice", model.ActionAllow)
	group.RuleGroups[0].Rules[0].RuleType = model.RuleSourceGroup
	assert.False(t, locallyDecidable(group))
}

func TestDegradedModes(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	q := AuthQuery{UserName: "alice"}

	d, _, _ := newDecider(t, model.FailOpen)
	out := d.degraded(q, cause)
	assert.Equal(t, model.DecisionAllow, out.Decision)
	assert.True(t, out.Degraded)

	d, _, _ = newDecider(t, model.FailClose)
	out = d.degraded(q, cause)
	assert.Equal(t, model.DecisionDeny, out.Decision)

	d, _, _ = newDecider(t, model.CachedOnly)
	out = d.degraded(q, cause)
	assert.Equal(t, model.DecisionDeny, out.Decision)
}

func TestCacheTokenParsesWithoutVerification(t *testing.T) {
	d, sessions, _ := newDecider(t, model.FailOpen)

	codec, err := token.NewCodec(make([]byte, 32))
	require.NoError(t, err)
	claims := token.Claims{UserID: "u-1", Expires: time.Now().Add(time.Hour).Truncate(time.Millisecond)}
	copy(claims.SessionID[:], []byte("0123456789abcdef"))
	tok, err := codec.EncodeString(claims)
	require.NoError(t, err)

	var announced *CachedSession
	d.SetAnnounce(func(s *CachedSession, revoked bool) { announced = s })

	d.cacheToken(context.Background(), AuthQuery{UserName: "alice", SourceIP: "10.0.0.1"}, tok, "totp")

	got := sessions.FindActive("alice", "10.0.0.1")
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.UserID)
	require.NotNil(t, announced, "fresh sessions are gossiped")
	assert.Equal(t, got.SessionID, announced.SessionID)
}

func TestCacheTokenIgnoresGarbage(t *testing.T) {
	d, sessions, _ := newDecider(t, model.FailOpen)
	d.cacheToken(context.Background(), AuthQuery{UserName: "alice"}, "!!not-base64!!", "")
	assert.Nil(t, sessions.FindActive("alice", ""))
}
