package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/authgate/mfasrv/pb"
)

const (
	streamBackoffMin = 5 * time.Second
	streamBackoffMax = 2 * time.Minute
	lastSyncKey      = "last_sync"
)

// Subscriber keeps the policy cache current from the center's stream.
// Disconnects reconnect with exponential backoff; a stream that stayed up
// resets the backoff. The last_sync watermark persists across restarts so
// reconnects replay only what was missed.
type Subscriber struct {
	central *CentralClient
	cache   *PolicyCache
	local   *LocalStore
	agentID string

	// resync is pulsed when a heartbeat carries force_policy_sync.
	resync chan struct{}
}

func NewSubscriber(central *CentralClient, cache *PolicyCache, local *LocalStore, agentID string) *Subscriber {
	return &Subscriber{
		central: central,
		cache:   cache,
		local:   local,
		agentID: agentID,
		resync:  make(chan struct{}, 1),
	}
}

// ForceResync zeroes the watermark and breaks the current stream.
func (s *Subscriber) ForceResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Run loops connect-consume-backoff until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := streamBackoffMin
	for ctx.Err() == nil {
		connectedAt := time.Now()
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(connectedAt) > streamBackoffMax {
			backoff = streamBackoffMin
		}
		slog.Warn("[Agent] Policy stream down, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamBackoffMax {
			backoff = streamBackoffMax
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastSync := s.loadWatermark(ctx)
	stream, err := s.central.SyncPolicies(streamCtx, &pb.SyncPoliciesRequest{
		AgentID:  s.agentID,
		LastSync: lastSync,
	})
	if err != nil {
		return err
	}
	slog.Info("[Agent] Policy stream connected", "since", lastSync)

	// A forced resync tears the stream down; the next connect starts from
	// zero and replays everything.
	go func() {
		select {
		case <-streamCtx.Done():
		case <-s.resync:
			if err := s.local.SetMetadata(ctx, lastSyncKey, time.Time{}.UTC().Format(time.RFC3339Nano)); err != nil {
				slog.Warn("[Agent] Watermark reset failed", "error", err)
			}
			cancel()
		}
	}()

	for {
		update, err := stream.Recv()
		if err != nil {
			return err
		}
		s.cache.Apply(ctx, update.PolicyID, update.PolicyJSON, update.Deleted, update.UpdatedAt)
		if update.UpdatedAt.After(lastSync) {
			lastSync = update.UpdatedAt
			if err := s.local.SetMetadata(ctx, lastSyncKey, lastSync.UTC().Format(time.RFC3339Nano)); err != nil {
				slog.Warn("[Agent] Watermark persist failed", "error", err)
			}
		}
	}
}

func (s *Subscriber) loadWatermark(ctx context.Context) time.Time {
	v, err := s.local.GetMetadata(ctx, lastSyncKey)
	if err != nil || v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
