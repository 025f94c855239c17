// Package api is the administrative REST surface of the center: policy and
// enrollment management, session and agent visibility, the audit trail and
// backup control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authgate/mfasrv/internal/audit"
	"github.com/authgate/mfasrv/internal/backup"
	"github.com/authgate/mfasrv/internal/enrollment"
	"github.com/authgate/mfasrv/internal/policy"
	"github.com/authgate/mfasrv/internal/session"
	"github.com/authgate/mfasrv/internal/store"
)

// Server wires the admin handlers onto a mux router.
type Server struct {
	store       *store.Store
	stream      *policy.Stream
	enrollments *enrollment.Service
	sessions    *session.Manager
	snapshots   *backup.Snapshotter
	recorder    *audit.Recorder

	addr string
	http *http.Server
}

type Params struct {
	Store       *store.Store
	Stream      *policy.Stream
	Enrollments *enrollment.Service
	Sessions    *session.Manager
	Snapshots   *backup.Snapshotter
	Recorder    *audit.Recorder
	Addr        string
}

func NewServer(p Params) *Server {
	s := &Server{
		store:       p.Store,
		stream:      p.Stream,
		enrollments: p.Enrollments,
		sessions:    p.Sessions,
		snapshots:   p.Snapshots,
		recorder:    p.Recorder,
		addr:        p.Addr,
	}

	r := mux.NewRouter()
	r.Use(logMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/policies", s.handleListPolicies).Methods("GET")
	v1.HandleFunc("/policies", s.handleCreatePolicy).Methods("POST")
	v1.HandleFunc("/policies/{id}", s.handleGetPolicy).Methods("GET")
	v1.HandleFunc("/policies/{id}", s.handleUpdatePolicy).Methods("PUT")
	v1.HandleFunc("/policies/{id}", s.handleDeletePolicy).Methods("DELETE")
	v1.HandleFunc("/policies/{id}/toggle", s.handleTogglePolicy).Methods("POST")

	v1.HandleFunc("/users", s.handleListUsers).Methods("GET")
	v1.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")

	v1.HandleFunc("/users/{id}/enrollments", s.handleListEnrollments).Methods("GET")
	v1.HandleFunc("/users/{id}/enrollments", s.handleBeginEnrollment).Methods("POST")
	v1.HandleFunc("/users/{id}/enrollments/{eid}/activate", s.handleActivateEnrollment).Methods("POST")
	v1.HandleFunc("/users/{id}/enrollments/{eid}/toggle", s.handleToggleEnrollment).Methods("POST")
	v1.HandleFunc("/users/{id}/enrollments/{eid}", s.handleDeleteEnrollment).Methods("DELETE")

	v1.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	v1.HandleFunc("/sessions/{id}/revoke", s.handleRevokeSession).Methods("POST")

	v1.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	v1.HandleFunc("/agents/{id}", s.handleDeregisterAgent).Methods("DELETE")

	v1.HandleFunc("/audit", s.handleQueryAudit).Methods("GET")
	v1.HandleFunc("/audit/hourly", s.handleAuditHourly).Methods("GET")
	v1.HandleFunc("/audit/tail", s.handleAuditTail).Methods("GET")

	v1.HandleFunc("/backups", s.handleListBackups).Methods("GET")
	v1.HandleFunc("/backups", s.handleCreateBackup).Methods("POST")
	v1.HandleFunc("/backups/{filename}/download", s.handleDownloadBackup).Methods("GET")
	v1.HandleFunc("/backups/restore/request", s.handleRequestRestore).Methods("POST")
	v1.HandleFunc("/backups/restore/confirm", s.handleConfirmRestore).Methods("POST")

	s.http = &http.Server{
		Addr:              p.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("[API] REST listening", "addr", s.addr)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("[API] Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(started))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "store-unavailable", "state store not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// page is the uniform list envelope.
type page struct {
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
	Data     interface{} `json:"data"`
}

func pagination(r *http.Request) (pageNum, pageSize int) {
	pageNum, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if pageNum < 1 {
		pageNum = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return pageNum, pageSize
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Response encoding failed", "error", err)
	}
}

// problem is an RFC 7807 error body.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, code int, slug, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(problem{
		Type:   "https://mfasrv.dev/problems/" + slug,
		Title:  slug,
		Status: code,
		Detail: detail,
	})
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "not-found", "resource does not exist")
		return
	}
	slog.Error("[API] Store error", "error", err)
	writeProblem(w, http.StatusInternalServerError, "store-error", "state store operation failed")
}
