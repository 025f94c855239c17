package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/mfasrv/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	entries []*model.AuditLogEntry
	block   chan struct{}
}

func (m *memStore) AppendAudit(_ context.Context, e *model.AuditLogEntry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestCloseDrainsQueue(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)

	for i := 0; i < 25; i++ {
		r.Record(&model.AuditLogEntry{EventType: "auth_evaluated", UserName: "alice"})
	}
	r.Close()

	assert.Equal(t, 25, st.count())
	assert.Zero(t, r.Dropped())
}

func TestRecordStampsTimestamp(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)

	r.Record(&model.AuditLogEntry{EventType: "auth_denied"})
	r.Close()

	require.Equal(t, 1, st.count())
	assert.False(t, st.entries[0].Timestamp.IsZero())
}

func TestOverflowDropsInsteadOfBlocking(t *testing.T) {
	st := &memStore{block: make(chan struct{})}
	r := NewRecorder(st)

	// The writer parks on the blocked store; once the queue is full every
	// further Record must return immediately and count a drop.
	total := queueDepth + 50
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			r.Record(&model.AuditLogEntry{EventType: "auth_evaluated"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.Greater(t, r.Dropped(), uint64(0))

	close(st.block)
	r.Close()
	assert.Equal(t, total-int(r.Dropped()), st.count())
}

func TestTapReceivesPersistedEntries(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)
	defer r.Close()

	ch, cancel := r.Tap()
	defer cancel()

	r.Record(&model.AuditLogEntry{EventType: "session_revoked", UserName: "bob"})

	select {
	case e := <-ch:
		assert.Equal(t, "session_revoked", e.EventType)
		assert.Equal(t, "bob", e.UserName)
	case <-time.After(2 * time.Second):
		t.Fatal("tap never received the entry")
	}
}

func TestTapCancelIsIdempotent(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)
	defer r.Close()

	ch, cancel := r.Tap()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open, "cancelled tap channel is closed")
}

func TestSlowTapLosesEntriesNotWriter(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)

	// Nobody reads this tap; its buffer fills and the writer keeps going.
	_, cancel := r.Tap()
	defer cancel()

	total := tapDepth + 20
	for i := 0; i < total; i++ {
		r.Record(&model.AuditLogEntry{EventType: "auth_evaluated"})
	}
	r.Close()
	assert.Equal(t, total, st.count())
}
