// Package policy implements prioritized rule evaluation over authentication
// contexts, and the change stream that keeps DC agents converged.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/authgate/mfasrv/internal/model"
)

// Source provides the consistent policy snapshot the engine evaluates over.
type Source interface {
	LoadEnabledPolicies(ctx context.Context) ([]model.Policy, error)
}

// Engine is stateless across calls; every evaluation reads a fresh snapshot.
type Engine struct {
	source Source
}

func NewEngine(source Source) *Engine {
	return &Engine{source: source}
}

// Evaluate walks enabled policies in (priority, id) order and returns the
// decision of the first match. A fetch error surfaces as-is so the caller
// can apply its failover mode; it is never folded into a decision here.
func (e *Engine) Evaluate(ctx context.Context, actx *model.AuthenticationContext) (*model.PolicyEvaluationResult, error) {
	policies, err := e.source.LoadEnabledPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation: %w", err)
	}
	return EvaluateAgainst(policies, actx), nil
}

// EvaluateAgainst runs the match loop over an already-loaded snapshot. The
// agent's offline short-circuit shares this exact loop with the center.
func EvaluateAgainst(policies []model.Policy, actx *model.AuthenticationContext) *model.PolicyEvaluationResult {
	for i := range policies {
		p := &policies[i]
		if !PolicyMatches(p, actx) {
			continue
		}
		res := &model.PolicyEvaluationResult{
			MatchedPolicyID:   p.ID,
			MatchedPolicyName: p.Name,
			FailoverMode:      p.FailoverMode,
			Reason:            fmt.Sprintf("matched policy %q", p.Name),
		}
		if len(p.Actions) == 0 {
			res.Decision = model.DecisionAllow
			res.Reason += " (no actions)"
			return res
		}
		act := p.Actions[0]
		switch act.ActionType {
		case model.ActionRequireMFA:
			res.Decision = model.DecisionRequireMFA
			res.RequiredMethod = model.NormalizeMethodID(act.RequiredMethod)
		case model.ActionDeny:
			res.Decision = model.DecisionDeny
		case model.ActionAlertOnly:
			res.Decision = model.DecisionAllow
			res.Alert = true
		default: // allow, and any unknown type degrades to allow
			res.Decision = model.DecisionAllow
		}
		return res
	}
	return &model.PolicyEvaluationResult{
		Decision: model.DecisionAllow,
		Reason:   "no matching policy",
	}
}

// PolicyMatches: any rule group matches the context.
func PolicyMatches(p *model.Policy, actx *model.AuthenticationContext) bool {
	if len(p.RuleGroups) == 0 {
		return false
	}
	for gi := range p.RuleGroups {
		if groupMatches(&p.RuleGroups[gi], actx) {
			return true
		}
	}
	return false
}

// groupMatches: all rules in the group match.
func groupMatches(g *model.RuleGroup, actx *model.AuthenticationContext) bool {
	if len(g.Rules) == 0 {
		return false
	}
	for ri := range g.Rules {
		r := &g.Rules[ri]
		matched, err := RuleMatches(r, actx)
		if err != nil {
			// A malformed rule (bad regex, bad CIDR) never matches; it is
			// logged once per evaluation rather than failing the logon.
			slog.Warn("[PolicyEngine] Rule evaluation error", "rule", r.ID, "error", err)
			matched = false
		}
		if r.Negate {
			matched = !matched
		}
		if !matched {
			return false
		}
	}
	return true
}
