// Package lease elects a single leader across center instances with one
// database row. Only the leader runs background jobs; every instance keeps
// serving request traffic.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/store"
)

// Store is the lease slice of the state store.
type Store interface {
	GetLease(ctx context.Context) (*model.LeaderLease, error)
	TryInsertLease(ctx context.Context, l *model.LeaderLease) error
	RenewLease(ctx context.Context, holderID string, l *model.LeaderLease) error
	TakeOverLease(ctx context.Context, prev, next *model.LeaderLease) error
	ReleaseLease(ctx context.Context, holderID string) error
}

// Elector runs the acquire/renew loop.
type Elector struct {
	store    Store
	holderID string
	duration time.Duration
	interval time.Duration

	leader atomic.Bool
}

func NewElector(st Store, holderID string, duration, interval time.Duration) *Elector {
	return &Elector{
		store:    st,
		holderID: holderID,
		duration: duration,
		interval: interval,
	}
}

// IsLeader reports the last round's outcome.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// Run ticks the election until ctx is cancelled, then releases a held lease
// best-effort.
func (e *Elector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			if e.leader.Load() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := e.store.ReleaseLease(releaseCtx, e.holderID); err != nil {
					slog.Warn("[Lease] Release on shutdown failed", "error", err)
				}
				cancel()
				e.leader.Store(false)
			}
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick attempts one election round. Any save conflict demotes for the round
// rather than retrying inside the round.
func (e *Elector) tick(ctx context.Context) {
	was := e.leader.Load()
	is := e.attempt(ctx)
	e.leader.Store(is)
	if is != was {
		if is {
			slog.Info("[Lease] Acquired leadership", "holder", e.holderID)
		} else {
			slog.Info("[Lease] Lost leadership", "holder", e.holderID)
		}
	}
}

func (e *Elector) attempt(ctx context.Context) bool {
	now := time.Now().UTC().Truncate(time.Millisecond)
	next := &model.LeaderLease{
		HolderID: e.holderID,
		Acquired: now,
		Expires:  now.Add(e.duration),
		Renewed:  now,
	}

	cur, err := e.store.GetLease(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if err := e.store.TryInsertLease(ctx, next); err != nil {
			return false
		}
		return true
	}
	if err != nil {
		slog.Warn("[Lease] Read failed", "error", err)
		return false
	}

	switch {
	case cur.HolderID == e.holderID:
		renewed := &model.LeaderLease{Expires: now.Add(e.duration), Renewed: now}
		return e.store.RenewLease(ctx, e.holderID, renewed) == nil
	case now.After(cur.Expires):
		return e.store.TakeOverLease(ctx, cur, next) == nil
	default:
		return false
	}
}
