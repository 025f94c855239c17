package agent

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/authgate/mfasrv/internal/circuitbreaker"
	"github.com/authgate/mfasrv/pb"
)

const (
	gossipBackoffMin = 5 * time.Second
	gossipBackoffMax = 2 * time.Minute
	gossipQueueDepth = 256
)

// GossipReceiver applies inbound session events to the local cache. It is
// the pb.GossipExchangeServer for this DC.
type GossipReceiver struct {
	sessions *SessionCache

	mu       sync.Mutex
	lastSeen map[string]seenEvent // session id -> newest applied
	sequence uint64
}

type seenEvent struct {
	timestamp time.Time
	sequence  uint64
}

func NewGossipReceiver(sessions *SessionCache) *GossipReceiver {
	return &GossipReceiver{
		sessions: sessions,
		lastSeen: make(map[string]seenEvent),
	}
}

// GossipSession applies one replicated event with last-writer-wins
// semantics. Ties break on session id ordering against the stored event;
// since keying is by session id a tie means the same event, which dedupe
// drops. Revocations dominate permanently.
func (g *GossipReceiver) GossipSession(ctx context.Context, ev *pb.SessionEvent) (*pb.GossipSessionResponse, error) {
	g.mu.Lock()
	seen, ok := g.lastSeen[ev.SessionID]
	if ok && !ev.Timestamp.After(seen.timestamp) && !ev.Revoked {
		// Stale or duplicate create; never applied, never rebroadcast.
		seq := seen.sequence
		g.mu.Unlock()
		return &pb.GossipSessionResponse{Sequence: seq}, nil
	}
	g.sequence++
	seq := g.sequence
	entry := seenEvent{timestamp: ev.Timestamp, sequence: seq}
	if ok && seen.timestamp.After(ev.Timestamp) {
		entry.timestamp = seen.timestamp
	}
	g.lastSeen[ev.SessionID] = entry
	g.mu.Unlock()

	if ev.Revoked {
		g.sessions.Revoke(ctx, ev.SessionID)
	} else {
		g.sessions.Put(ctx, &CachedSession{
			SessionID:      ev.SessionID,
			UserID:         ev.UserID,
			UserName:       ev.UserName,
			SourceIP:       ev.SourceIP,
			ExpiresAt:      ev.Expires,
			VerifiedMethod: ev.VerifiedMethod,
		})
	}
	slog.Debug("[Gossip] Event applied", "session", ev.SessionID, "revoked", ev.Revoked, "origin", ev.OriginID)
	return &pb.GossipSessionResponse{Sequence: seq}, nil
}

// Ack lets a sender confirm receipt so old dedupe entries can be pruned.
func (g *GossipReceiver) Ack(_ context.Context, req *pb.AckRequest) (*pb.AckResponse, error) {
	g.mu.Lock()
	if seen, ok := g.lastSeen[req.SessionID]; ok && seen.sequence < req.Sequence {
		delete(g.lastSeen, req.SessionID)
	}
	g.mu.Unlock()
	return &pb.AckResponse{}, nil
}

// Broadcaster fans local session events out to the static peer list. Each
// peer gets its own queue and breaker; a dead peer drops its oldest events
// rather than blocking the originating operation.
type Broadcaster struct {
	originID string
	peers    []*gossipPeer
	breakers *circuitbreaker.Manager
}

type gossipPeer struct {
	addr  string
	queue chan *pb.SessionEvent
}

func NewBroadcaster(originID string, peerAddrs []string) *Broadcaster {
	b := &Broadcaster{
		originID: originID,
		breakers: circuitbreaker.NewManager(circuitbreaker.GossipConfig()),
	}
	for _, addr := range peerAddrs {
		b.peers = append(b.peers, &gossipPeer{
			addr:  addr,
			queue: make(chan *pb.SessionEvent, gossipQueueDepth),
		})
	}
	return b
}

// Announce queues a local create or revoke for every peer. Never blocks.
func (b *Broadcaster) Announce(s *CachedSession, revoked bool) {
	ev := &pb.SessionEvent{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		UserName:       s.UserName,
		SourceIP:       s.SourceIP,
		VerifiedMethod: s.VerifiedMethod,
		Expires:        s.ExpiresAt,
		Revoked:        revoked,
		OriginID:       b.originID,
		Timestamp:      time.Now().UTC(),
	}
	for _, p := range b.peers {
		for {
			select {
			case p.queue <- ev:
			default:
				select {
				case <-p.queue:
					slog.Warn("[Gossip] Peer queue full, oldest event dropped", "peer", p.addr)
				default:
				}
				continue
			}
			break
		}
	}
}

// Run drains every peer queue until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context, tlsCfg *tls.Config) {
	var wg sync.WaitGroup
	for _, p := range b.peers {
		wg.Add(1)
		go func(p *gossipPeer) {
			defer wg.Done()
			b.drainPeer(ctx, p, tlsCfg)
		}(p)
	}
	wg.Wait()
}

func (b *Broadcaster) drainPeer(ctx context.Context, p *gossipPeer, tlsCfg *tls.Config) {
	conn, err := grpc.NewClient(p.addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)),
		grpc.WithDefaultCallOptions(pb.DefaultCallOption()),
	)
	if err != nil {
		slog.Error("[Gossip] Peer dial failed permanently", "peer", p.addr, "error", err)
		return
	}
	defer conn.Close()
	client := pb.NewGossipExchangeClient(conn)
	breaker := b.breakers.Get(p.addr)

	backoff := gossipBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			for {
				err := breaker.Execute(ctx, func(ctx context.Context) error {
					callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
					defer cancel()
					resp, err := client.GossipSession(callCtx, ev)
					if err != nil {
						return err
					}
					// Best effort: the ack only prunes peer-side dedupe state.
					_, _ = client.Ack(callCtx, &pb.AckRequest{SessionID: ev.SessionID, Sequence: resp.Sequence})
					return nil
				})
				if err == nil {
					backoff = gossipBackoffMin
					break
				}
				slog.Warn("[Gossip] Send failed, retrying", "peer", p.addr, "session", ev.SessionID, "backoff", backoff, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > gossipBackoffMax {
					backoff = gossipBackoffMax
				}
			}
		}
	}
}
