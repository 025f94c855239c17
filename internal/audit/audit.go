// Package audit writes the security event trail. Recording is asynchronous
// behind a bounded queue so a slow store never blocks an authentication.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

// Store is the audit slice of the state store.
type Store interface {
	AppendAudit(ctx context.Context, e *model.AuditLogEntry) error
}

// Recorder buffers entries and persists them from a single writer goroutine.
// When the queue is full the entry is dropped and counted; authentications
// must not back up on the audit trail.
type Recorder struct {
	store Store
	queue chan *model.AuditLogEntry
	wg    sync.WaitGroup

	mu      sync.Mutex
	taps    map[int]chan *model.AuditLogEntry
	nextTap int
	dropped uint64

	cancel context.CancelFunc
}

const (
	queueDepth = 1024
	tapDepth   = 64
	writeWait  = 5 * time.Second
)

func NewRecorder(store Store) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		store:  store,
		queue:  make(chan *model.AuditLogEntry, queueDepth),
		taps:   make(map[int]chan *model.AuditLogEntry),
		cancel: cancel,
	}
	r.wg.Add(1)
	go r.writer(ctx)
	return r
}

// Record enqueues an entry, stamping the time when absent. Never blocks.
func (r *Recorder) Record(e *model.AuditLogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = model.Millis(time.Now())
	}
	select {
	case r.queue <- e:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		slog.Warn("[Audit] Queue full, entry dropped", "event", e.EventType, "droppedTotal", n)
	}
}

// Tap subscribes to the live entry feed (the websocket tail). The returned
// cancel detaches the tap; a slow tap loses entries rather than blocking.
func (r *Recorder) Tap() (<-chan *model.AuditLogEntry, func()) {
	ch := make(chan *model.AuditLogEntry, tapDepth)
	r.mu.Lock()
	id := r.nextTap
	r.nextTap++
	r.taps[id] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		if _, ok := r.taps[id]; ok {
			delete(r.taps, id)
			close(ch)
		}
		r.mu.Unlock()
	}
}

// Dropped reports how many entries were discarded on queue overflow.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains the queue and stops the writer.
func (r *Recorder) Close() {
	close(r.queue)
	r.wg.Wait()
	r.cancel()
	r.mu.Lock()
	for id, ch := range r.taps {
		delete(r.taps, id)
		close(ch)
	}
	r.mu.Unlock()
}

func (r *Recorder) writer(ctx context.Context) {
	defer r.wg.Done()
	for e := range r.queue {
		wctx, cancel := context.WithTimeout(ctx, writeWait)
		if err := r.store.AppendAudit(wctx, e); err != nil {
			slog.Error("[Audit] Append failed", "event", e.EventType, "error", err)
		}
		cancel()
		r.fanOut(e)
	}
}

func (r *Recorder) fanOut(e *model.AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.taps {
		select {
		case ch <- e:
		default:
		}
	}
}
