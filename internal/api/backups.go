package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/authgate/mfasrv/internal/backup"
	"github.com/authgate/mfasrv/internal/model"
)

func (s *Server) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	list, err := s.snapshots.List()
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "backup-error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.snapshots.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, backup.ErrNotSQLite) {
			writeProblem(w, http.StatusConflict, "not-sqlite", "snapshots require the embedded store")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "backup-error", "snapshot failed")
		return
	}
	if s.recorder != nil {
		s.recorder.Record(&model.AuditLogEntry{
			EventType: "backup_created",
			Success:   true,
			Details:   info.Filename,
		})
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	rc, err := s.snapshots.Open(mux.Vars(r)["filename"])
	if err != nil {
		writeProblem(w, http.StatusNotFound, "not-found", "no such backup")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleRequestRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-body", err.Error())
		return
	}
	tok, err := s.snapshots.RequestRestore(r.Context(), body.Filename)
	if err != nil {
		if errors.Is(err, backup.ErrBadFilename) {
			writeProblem(w, http.StatusBadRequest, "invalid-filename", "filename rejected")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "backup-error", "restore request failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restoreToken": tok})
}

func (s *Server) handleConfirmRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RestoreToken string `json:"restoreToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-body", err.Error())
		return
	}
	if err := s.snapshots.ConfirmRestore(r.Context(), body.RestoreToken); err != nil {
		if errors.Is(err, backup.ErrBadToken) {
			writeProblem(w, http.StatusForbidden, "invalid-token", "restore token unknown or expired")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "backup-error", "restore failed")
		return
	}
	if s.recorder != nil {
		s.recorder.Record(&model.AuditLogEntry{
			EventType: "backup_restored",
			Success:   true,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
