package store

import (
	"context"
	"fmt"

	"github.com/authgate/mfasrv/internal/model"
)

// LoadEnabledPolicies returns the full rule graph of every enabled policy
// ordered by (priority, id). The whole read runs inside one transaction so
// the engine sees a consistent snapshot.
func (s *Store) LoadEnabledPolicies(ctx context.Context) ([]model.Policy, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("policy snapshot: %w", err)
	}
	defer tx.Rollback()

	var policies []model.Policy
	if err := tx.SelectContext(ctx, &policies,
		s.q(`SELECT * FROM policies WHERE enabled = ? ORDER BY priority, id`), true); err != nil {
		return nil, fmt.Errorf("policy snapshot: %w", err)
	}
	for i := range policies {
		if err := s.fillPolicyTx(ctx, tx, &policies[i]); err != nil {
			return nil, err
		}
	}
	return policies, tx.Commit()
}

func (s *Store) fillPolicyTx(ctx context.Context, tx queryer, p *model.Policy) error {
	if err := tx.SelectContext(ctx, &p.RuleGroups,
		s.q(`SELECT * FROM rule_groups WHERE policy_id = ? ORDER BY grp_order, id`), p.ID); err != nil {
		return err
	}
	for i := range p.RuleGroups {
		if err := tx.SelectContext(ctx, &p.RuleGroups[i].Rules,
			s.q(`SELECT * FROM rules WHERE group_id = ? ORDER BY id`), p.RuleGroups[i].ID); err != nil {
			return err
		}
	}
	return tx.SelectContext(ctx, &p.Actions,
		s.q(`SELECT * FROM actions WHERE policy_id = ? ORDER BY id`), p.ID)
}

type queryer interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	var p model.Policy
	if err := s.get(ctx, &p, `SELECT * FROM policies WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := s.fillPolicyTx(ctx, s.db, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context, page, pageSize int) ([]model.Policy, int, error) {
	var total int
	if err := s.get(ctx, &total, `SELECT COUNT(*) FROM policies`); err != nil {
		return nil, 0, err
	}
	var policies []model.Policy
	if err := s.sel(ctx, &policies,
		`SELECT * FROM policies ORDER BY priority, id LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize); err != nil {
		return nil, 0, err
	}
	for i := range policies {
		if err := s.fillPolicyTx(ctx, s.db, &policies[i]); err != nil {
			return nil, 0, err
		}
	}
	return policies, total, nil
}

// SavePolicy writes a policy and its entire rule graph. Rule groups, rules
// and actions are replaced wholesale; partial edits come in as a full policy.
func (s *Store) SavePolicy(ctx context.Context, p *model.Policy) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p.Updated = now()
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO policies (id, name, description, enabled, priority, failover_mode, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			enabled=excluded.enabled, priority=excluded.priority,
			failover_mode=excluded.failover_mode, updated=excluded.updated`),
		p.ID, p.Name, p.Description, p.Enabled, p.Priority, p.FailoverMode, p.Updated); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}

	for _, table := range []string{"rules", "rule_groups", "actions"} {
		var del string
		if table == "rules" {
			del = `DELETE FROM rules WHERE group_id IN (SELECT id FROM rule_groups WHERE policy_id = ?)`
		} else {
			del = `DELETE FROM ` + table + ` WHERE policy_id = ?`
		}
		if _, err := tx.ExecContext(ctx, s.q(del), p.ID); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}
	}

	for gi := range p.RuleGroups {
		g := &p.RuleGroups[gi]
		g.PolicyID = p.ID
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO rule_groups (id, policy_id, grp_order) VALUES (?, ?, ?)`),
			g.ID, g.PolicyID, g.Order); err != nil {
			return fmt.Errorf("save policy group: %w", err)
		}
		for ri := range g.Rules {
			r := &g.Rules[ri]
			r.GroupID = g.ID
			if _, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO rules (id, group_id, rule_type, operator, value, negate)
				VALUES (?, ?, ?, ?, ?, ?)`),
				r.ID, r.GroupID, r.RuleType, r.Operator, r.Value, r.Negate); err != nil {
				return fmt.Errorf("save policy rule: %w", err)
			}
		}
	}
	for ai := range p.Actions {
		a := &p.Actions[ai]
		a.PolicyID = p.ID
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO actions (id, policy_id, action_type, required_method)
			VALUES (?, ?, ?, ?)`),
			a.ID, a.PolicyID, a.ActionType, a.RequiredMethod); err != nil {
			return fmt.Errorf("save policy action: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) TogglePolicy(ctx context.Context, id string, enabled bool) error {
	res, err := s.exec(ctx,
		`UPDATE policies SET enabled = ?, updated = ? WHERE id = ?`, enabled, now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.q(
		`DELETE FROM rules WHERE group_id IN (SELECT id FROM rule_groups WHERE policy_id = ?)`), id); err != nil {
		return err
	}
	for _, table := range []string{"rule_groups", "actions"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE policy_id = ?`), id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM policies WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
