package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/authgate/mfasrv/internal/model"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize := pagination(r)
	list, total, err := s.store.ListSessions(r.Context(), pageNum, pageSize)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Total: total, Page: pageNum, PageSize: pageSize, Data: list})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Revoke(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	if s.recorder != nil {
		s.recorder.Record(&model.AuditLogEntry{
			EventType: "session_revoked",
			Success:   true,
			Details:   "session=" + id,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "id": id})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize := pagination(r)
	list, total, err := s.store.ListAgents(r.Context(), pageNum, pageSize)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Total: total, Page: pageNum, PageSize: pageSize, Data: list})
}

func (s *Server) handleDeregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), mux.Vars(r)["id"]); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
