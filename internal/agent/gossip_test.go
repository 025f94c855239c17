package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/mfasrv/pb"
)

func newReceiver(t *testing.T) (*GossipReceiver, *SessionCache) {
	t.Helper()
	sessions := NewSessionCache(newLocalStore(t))
	return NewGossipReceiver(sessions), sessions
}

func sessionEvent(id string, ts time.Time, revoked bool) *pb.SessionEvent {
	return &pb.SessionEvent{
		SessionID: id, UserID: "u-1", UserName: "alice", SourceIP: "10.0.0.1",
		VerifiedMethod: "totp",
		Expires:        time.Now().Add(time.Hour),
		Revoked:        revoked,
		OriginID:       "agent-2",
		Timestamp:      ts,
	}
}

func TestGossipAppliesCreate(t *testing.T) {
	g, sessions := newReceiver(t)
	ctx := context.Background()

	resp, err := g.GossipSession(ctx, sessionEvent("s-1", time.Now(), false))
	require.NoError(t, err)
	assert.NotZero(t, resp.Sequence)

	s, ok := sessions.Get("s-1")
	require.True(t, ok)
	assert.Equal(t, "alice", s.UserName)
	assert.False(t, s.Revoked)
}

func TestGossipDropsStaleCreate(t *testing.T) {
	g, sessions := newReceiver(t)
	ctx := context.Background()
	now := time.Now()

	_, err := g.GossipSession(ctx, sessionEvent("s-1", now, false))
	require.NoError(t, err)

	older := sessionEvent("s-1", now.Add(-time.Minute), false)
	older.UserName = "mallory"
	resp, err := g.GossipSession(ctx, older)
	require.NoError(t, err)
	assert.NotZero(t, resp.Sequence, "duplicate still acked with the stored sequence")

	s, ok := sessions.Get("s-1")
	require.True(t, ok)
	assert.Equal(t, "alice", s.UserName, "last writer wins")
}

func TestGossipDuplicateNotReapplied(t *testing.T) {
	g, _ := newReceiver(t)
	ctx := context.Background()
	ev := sessionEvent("s-1", time.Now(), false)

	first, err := g.GossipSession(ctx, ev)
	require.NoError(t, err)
	second, err := g.GossipSession(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, second.Sequence)
}

func TestGossipRevocationDominates(t *testing.T) {
	g, sessions := newReceiver(t)
	ctx := context.Background()
	now := time.Now()

	_, err := g.GossipSession(ctx, sessionEvent("s-1", now, false))
	require.NoError(t, err)

	// Revocation applies even with an older timestamp.
	_, err = g.GossipSession(ctx, sessionEvent("s-1", now.Add(-time.Minute), true))
	require.NoError(t, err)

	s, ok := sessions.Get("s-1")
	require.True(t, ok)
	assert.True(t, s.Revoked)

	// A newer create arriving after the revocation cannot undo it.
	_, err = g.GossipSession(ctx, sessionEvent("s-1", now.Add(time.Minute), false))
	require.NoError(t, err)
	s, ok = sessions.Get("s-1")
	require.True(t, ok)
	assert.True(t, s.Revoked)
}

func TestGossipRevocationBeforeCreate(t *testing.T) {
	g, sessions := newReceiver(t)
	ctx := context.Background()

	_, err := g.GossipSession(ctx, sessionEvent("s-1", time.Now(), true))
	require.NoError(t, err)

	s, ok := sessions.Get("s-1")
	require.True(t, ok, "tombstone created for the unseen session")
	assert.True(t, s.Revoked)
}

func TestGossipAckPrunesDedupeState(t *testing.T) {
	g, _ := newReceiver(t)
	ctx := context.Background()

	resp, err := g.GossipSession(ctx, sessionEvent("s-1", time.Now(), false))
	require.NoError(t, err)

	// Ack with a higher sequence clears the entry.
	_, err = g.Ack(ctx, &pb.AckRequest{SessionID: "s-1", Sequence: resp.Sequence + 1})
	require.NoError(t, err)
	g.mu.Lock()
	_, ok := g.lastSeen["s-1"]
	g.mu.Unlock()
	assert.False(t, ok)

	// Ack at or below the stored sequence keeps it.
	resp, err = g.GossipSession(ctx, sessionEvent("s-2", time.Now(), false))
	require.NoError(t, err)
	_, err = g.Ack(ctx, &pb.AckRequest{SessionID: "s-2", Sequence: resp.Sequence})
	require.NoError(t, err)
	g.mu.Lock()
	_, ok = g.lastSeen["s-2"]
	g.mu.Unlock()
	assert.True(t, ok)
}

func TestBroadcasterQueueDropsOldest(t *testing.T) {
	b := NewBroadcaster("agent-1", []string{"peer-a:9443"})
	require.Len(t, b.peers, 1)

	for i := 0; i < gossipQueueDepth+10; i++ {
		b.Announce(cachedSession("s-1", "alice", "", time.Hour), false)
	}
	assert.Equal(t, gossipQueueDepth, len(b.peers[0].queue), "queue bounded, Announce never blocks")
}

func TestBroadcasterStampsOrigin(t *testing.T) {
	b := NewBroadcaster("agent-1", []string{"peer-a:9443"})
	b.Announce(cachedSession("s-1", "alice", "10.0.0.1", time.Hour), true)

	ev := <-b.peers[0].queue
	assert.Equal(t, "agent-1", ev.OriginID)
	assert.Equal(t, "s-1", ev.SessionID)
	assert.True(t, ev.Revoked)
	assert.False(t, ev.Timestamp.IsZero())
}
