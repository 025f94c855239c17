package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/authgate/mfasrv/internal/store"
)

func auditFilter(r *http.Request) store.AuditFilter {
	q := r.URL.Query()
	f := store.AuditFilter{
		UserID:    q.Get("userId"),
		EventType: q.Get("eventType"),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	return f
}

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize := pagination(r)
	list, total, err := s.store.QueryAudit(r.Context(), auditFilter(r), pageNum, pageSize)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Total: total, Page: pageNum, PageSize: pageSize, Data: list})
}

func (s *Server) handleAuditHourly(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.AuditHourly(r.Context(), auditFilter(r))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin surface is same-host tooling, not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleAuditTail streams audit entries over a websocket as they commit.
func (s *Server) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeProblem(w, http.StatusServiceUnavailable, "tail-unavailable", "audit recorder not running")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	feed, cancel := s.recorder.Tap()
	defer cancel()

	// Reader goroutine notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case entry, ok := <-feed:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(entry); err != nil {
				slog.Debug("[API] Audit tail write failed", "error", err)
				return
			}
		}
	}
}
