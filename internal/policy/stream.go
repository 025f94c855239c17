package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authgate/mfasrv/internal/model"
)

// ChangeNotification is fanned out to every subscribed agent on any policy
// mutation. Deletes carry empty JSON.
type ChangeNotification struct {
	PolicyID   string    `json:"policyId"`
	PolicyJSON string    `json:"policyJson"`
	Deleted    bool      `json:"deleted"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const subscriberBuffer = 100

// Stream is the server-side fan-out of policy mutations. Each subscriber
// owns a bounded channel; overflow drops the oldest entry, which is safe
// because a later delivery for the same policy carries a fresher UpdatedAt.
//
// When a Redis address is configured, mutations are also relayed through a
// pub/sub channel so agents subscribed on other center instances converge.
type Stream struct {
	mu   sync.Mutex
	subs map[string]chan ChangeNotification

	rdb        *redis.Client
	instanceID string
}

func NewStream() *Stream {
	return &Stream{subs: make(map[string]chan ChangeNotification)}
}

const redisChannel = "mfasrv:policy-changes"

// relayEnvelope carries the origin so an instance skips its own relays.
type relayEnvelope struct {
	Origin string             `json:"origin"`
	Note   ChangeNotification `json:"note"`
}

// AttachRedis starts the cross-instance relay. ctx cancellation stops the
// receive loop.
func (s *Stream) AttachRedis(ctx context.Context, addr, instanceID string) {
	s.rdb = redis.NewClient(&redis.Options{Addr: addr})
	s.instanceID = instanceID

	sub := s.rdb.Subscribe(ctx, redisChannel)
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env relayEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Warn("[PolicyStream] Bad relay payload", "error", err)
					continue
				}
				if env.Origin == s.instanceID {
					continue
				}
				s.fanOut(env.Note)
			}
		}
	}()
	slog.Info("[PolicyStream] Redis backplane attached", "addr", addr)
}

// Subscribe registers (or replaces) the channel for an agent id. The
// returned cancel removes the subscription if it still owns the slot.
func (s *Stream) Subscribe(agentID string) (<-chan ChangeNotification, func()) {
	ch := make(chan ChangeNotification, subscriberBuffer)

	s.mu.Lock()
	if old, ok := s.subs[agentID]; ok {
		close(old)
	}
	s.subs[agentID] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if cur, ok := s.subs[agentID]; ok && cur == ch {
			delete(s.subs, agentID)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// NotifyChanged publishes a create/update/toggle.
func (s *Stream) NotifyChanged(ctx context.Context, p *model.Policy) {
	body, err := json.Marshal(p)
	if err != nil {
		slog.Error("[PolicyStream] Marshal policy", "policy", p.ID, "error", err)
		return
	}
	s.publish(ctx, ChangeNotification{
		PolicyID:   p.ID,
		PolicyJSON: string(body),
		UpdatedAt:  p.Updated,
	})
}

// NotifyDeleted publishes a delete with empty JSON.
func (s *Stream) NotifyDeleted(ctx context.Context, policyID string) {
	s.publish(ctx, ChangeNotification{
		PolicyID:  policyID,
		Deleted:   true,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *Stream) publish(ctx context.Context, note ChangeNotification) {
	s.fanOut(note)
	if s.rdb == nil {
		return
	}
	payload, _ := json.Marshal(relayEnvelope{Origin: s.instanceID, Note: note})
	if err := s.rdb.Publish(ctx, redisChannel, payload).Err(); err != nil {
		slog.Warn("[PolicyStream] Redis relay failed, local-only delivery", "error", err)
	}
}

func (s *Stream) fanOut(note ChangeNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		for {
			select {
			case ch <- note:
			default:
				// Full: drop the oldest and retry. Convergence holds
				// because the next delivery is monotonically fresher.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount is exposed for health reporting.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
