package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

// PolicyCache holds the agent's view of enabled policies. Single writer
// (the stream subscriber), lock-free concurrent reads through the RWMutex
// read path. Persistence is fire and forget.
type PolicyCache struct {
	mu       sync.RWMutex
	policies map[string]*model.Policy
	local    *LocalStore
}

func NewPolicyCache(local *LocalStore) *PolicyCache {
	return &PolicyCache{policies: make(map[string]*model.Policy), local: local}
}

// Warm loads the persisted view, called once at startup.
func (c *PolicyCache) Warm(ctx context.Context) error {
	rows, err := c.local.LoadPolicies(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		var p model.Policy
		if err := json.Unmarshal([]byte(row.JSON), &p); err != nil {
			slog.Warn("[Agent] Discarding corrupt cached policy", "policy", row.PolicyID, "error", err)
			continue
		}
		c.policies[p.ID] = &p
	}
	slog.Info("[Agent] Policy cache warmed", "policies", len(c.policies))
	return nil
}

// Apply folds one stream update into the cache and persists it.
func (c *PolicyCache) Apply(ctx context.Context, policyID, policyJSON string, deleted bool, updatedAt time.Time) {
	if deleted {
		c.mu.Lock()
		delete(c.policies, policyID)
		c.mu.Unlock()
		if err := c.local.DeletePolicy(ctx, policyID); err != nil {
			slog.Warn("[Agent] Policy cache persist failed", "policy", policyID, "error", err)
		}
		return
	}

	var p model.Policy
	if err := json.Unmarshal([]byte(policyJSON), &p); err != nil {
		slog.Warn("[Agent] Dropping malformed policy update", "policy", policyID, "error", err)
		return
	}
	c.mu.Lock()
	c.policies[p.ID] = &p
	c.mu.Unlock()

	if err := c.local.UpsertPolicy(ctx, &CachedPolicy{
		PolicyID:     p.ID,
		Name:         p.Name,
		JSON:         policyJSON,
		FailoverMode: p.FailoverMode,
		Priority:     p.Priority,
		Enabled:      p.Enabled,
		UpdatedAt:    updatedAt,
	}); err != nil {
		slog.Warn("[Agent] Policy cache persist failed", "policy", p.ID, "error", err)
	}
}

// Snapshot returns policies in evaluation order.
func (c *PolicyCache) Snapshot() []model.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Policy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *PolicyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.policies)
}

// SessionCache holds sessions this DC may honor without a central round
// trip. Fed by central decisions and by gossip.
type SessionCache struct {
	mu       sync.RWMutex
	sessions map[string]*CachedSession
	local    *LocalStore
}

func NewSessionCache(local *LocalStore) *SessionCache {
	return &SessionCache{sessions: make(map[string]*CachedSession), local: local}
}

func (c *SessionCache) Warm(ctx context.Context) error {
	rows, err := c.local.LoadSessions(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range rows {
		row := rows[i]
		c.sessions[row.SessionID] = &row
	}
	slog.Info("[Agent] Session cache warmed", "sessions", len(c.sessions))
	return nil
}

// Put inserts or replaces a session and persists it.
func (c *SessionCache) Put(ctx context.Context, s *CachedSession) {
	c.mu.Lock()
	if cur, ok := c.sessions[s.SessionID]; ok && cur.Revoked {
		// Revocation is permanent; a replayed create never resurrects.
		s.Revoked = true
	}
	c.sessions[s.SessionID] = s
	c.mu.Unlock()

	if err := c.local.UpsertSession(ctx, s); err != nil {
		slog.Warn("[Agent] Session cache persist failed", "session", s.SessionID, "error", err)
	}
}

// Revoke marks a session revoked; creates a tombstone if unseen.
func (c *SessionCache) Revoke(ctx context.Context, sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		s = &CachedSession{SessionID: sessionID}
		c.sessions[sessionID] = s
	}
	s.Revoked = true
	c.mu.Unlock()

	if err := c.local.UpsertSession(ctx, s); err != nil {
		slog.Warn("[Agent] Session cache persist failed", "session", sessionID, "error", err)
	}
}

// Get returns the session by id.
func (c *SessionCache) Get(sessionID string) (*CachedSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// FindActive matches case-insensitively on user name, and on source ip when
// the query carries one.
func (c *SessionCache) FindActive(userName, sourceIP string) *CachedSession {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var best *CachedSession
	for _, s := range c.sessions {
		if s.Revoked || !s.ExpiresAt.After(now) {
			continue
		}
		if !strings.EqualFold(s.UserName, userName) {
			continue
		}
		if sourceIP != "" && s.SourceIP != "" && s.SourceIP != sourceIP {
			continue
		}
		if best == nil || s.ExpiresAt.After(best.ExpiresAt) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// ActiveCount backs the heartbeat payload.
func (c *SessionCache) ActiveCount() int {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.sessions {
		if !s.Revoked && s.ExpiresAt.After(now) {
			n++
		}
	}
	return n
}

// Cleanup drops entries past their expiry. Revoked entries stay as
// tombstones until they expire so a replayed create cannot resurrect them.
func (c *SessionCache) Cleanup(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	for id, s := range c.sessions {
		if !s.ExpiresAt.After(now) {
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	if n, err := c.local.CleanupSessions(ctx); err != nil {
		slog.Warn("[Agent] Session cleanup failed", "error", err)
	} else if n > 0 {
		slog.Debug("[Agent] Session cache cleaned", "removed", n)
	}
}
