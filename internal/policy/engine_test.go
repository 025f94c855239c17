package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/mfasrv/internal/model"
)

type staticSource struct {
	policies []model.Policy
	err      error
}

func (s *staticSource) LoadEnabledPolicies(context.Context) ([]model.Policy, error) {
	return s.policies, s.err
}

func userPolicy(id string, priority int, user string, actions ...model.Action) model.Policy {
	return model.Policy{
		ID:           id,
		Name:         id,
		Enabled:      true,
		Priority:     priority,
		FailoverMode: model.FailOpen,
		RuleGroups: []model.RuleGroup{{
			Rules: []model.Rule{{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: user}},
		}},
		Actions: actions,
	}
}

func adminContext() *model.AuthenticationContext {
	return &model.AuthenticationContext{
		UserName:  "admin",
		Protocol:  "ntlm",
		Timestamp: time.Now(),
	}
}

func TestFirstMatchWins(t *testing.T) {
	src := &staticSource{policies: []model.Policy{
		userPolicy("p-deny", 10, "admin", model.Action{ActionType: model.ActionDeny}),
		userPolicy("p-mfa", 20, "admin", model.Action{ActionType: model.ActionRequireMFA, RequiredMethod: "TOTP"}),
	}}
	res, err := NewEngine(src).Evaluate(context.Background(), adminContext())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionDeny, res.Decision)
	assert.Equal(t, "p-deny", res.MatchedPolicyID)
}

func TestRequireMFANormalizesMethod(t *testing.T) {
	src := &staticSource{policies: []model.Policy{
		userPolicy("p", 1, "admin", model.Action{ActionType: model.ActionRequireMFA, RequiredMethod: " TOTP "}),
	}}
	res, err := NewEngine(src).Evaluate(context.Background(), adminContext())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRequireMFA, res.Decision)
	assert.Equal(t, "totp", res.RequiredMethod)
}

func TestNoMatchDefaultsToAllow(t *testing.T) {
	src := &staticSource{policies: []model.Policy{
		userPolicy("p", 1, "someone-else", model.Action{ActionType: model.ActionDeny}),
	}}
	res, err := NewEngine(src).Evaluate(context.Background(), adminContext())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAllow, res.Decision)
	assert.Empty(t, res.MatchedPolicyID)
}

func TestAlertOnlyAllowsWithFlag(t *testing.T) {
	src := &staticSource{policies: []model.Policy{
		userPolicy("p", 1, "admin", model.Action{ActionType: model.ActionAlertOnly}),
	}}
	res, err := NewEngine(src).Evaluate(context.Background(), adminContext())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAllow, res.Decision)
	assert.True(t, res.Alert)
}

func TestMatchWithoutActionsAllows(t *testing.T) {
	src := &staticSource{policies: []model.Policy{userPolicy("p", 1, "admin")}}
	res, err := NewEngine(src).Evaluate(context.Background(), adminContext())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAllow, res.Decision)
	assert.Equal(t, "p", res.MatchedPolicyID)
}

func TestSourceErrorSurfaces(t *testing.T) {
	src := &staticSource{err: errors.New("db down")}
	_, err := NewEngine(src).Evaluate(context.Background(), adminContext())
	assert.Error(t, err)
}

func TestGroupsCombineByOR(t *testing.T) {
	p := model.Policy{
		ID: "p", Name: "p", Enabled: true,
		RuleGroups: []model.RuleGroup{
			{Rules: []model.Rule{{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: "nobody"}}},
			{Rules: []model.Rule{{RuleType: model.RuleAuthProtocol, Operator: model.OpEquals, Value: "ntlm"}}},
		},
	}
	assert.True(t, PolicyMatches(&p, adminContext()))
}

func TestRulesWithinGroupCombineByAND(t *testing.T) {
	p := model.Policy{
		ID: "p", Name: "p", Enabled: true,
		RuleGroups: []model.RuleGroup{{Rules: []model.Rule{
			{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: "admin"},
			{RuleType: model.RuleAuthProtocol, Operator: model.OpEquals, Value: "kerberos"},
		}}},
	}
	assert.False(t, PolicyMatches(&p, adminContext()))
}

func TestNegatedRule(t *testing.T) {
	p := model.Policy{
		ID: "p", Name: "p", Enabled: true,
		RuleGroups: []model.RuleGroup{{Rules: []model.Rule{
			{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: "service-account", Negate: true},
		}}},
	}
	assert.True(t, PolicyMatches(&p, adminContext()))
}

func TestEmptyGroupsNeverMatch(t *testing.T) {
	p := model.Policy{ID: "p", Name: "p", Enabled: true}
	assert.False(t, PolicyMatches(&p, adminContext()))

	p.RuleGroups = []model.RuleGroup{{}}
	assert.False(t, PolicyMatches(&p, adminContext()))
}

func TestMalformedRuleNeverMatches(t *testing.T) {
	p := model.Policy{
		ID: "p", Name: "p", Enabled: true,
		RuleGroups: []model.RuleGroup{{Rules: []model.Rule{
			{RuleType: model.RuleSourceUser, Operator: model.OpRegex, Value: "("},
		}}},
		Actions: []model.Action{{ActionType: model.ActionDeny}},
	}
	res := EvaluateAgainst([]model.Policy{p}, adminContext())
	assert.Equal(t, model.DecisionAllow, res.Decision)
}
