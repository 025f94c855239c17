package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/authgate/mfasrv/internal/enrollment"
	"github.com/authgate/mfasrv/internal/mfa"
)

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize := pagination(r)
	list, total, err := s.enrollments.List(r.Context(), mux.Vars(r)["id"], pageNum, pageSize)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Total: total, Page: pageNum, PageSize: pageSize, Data: list})
}

func (s *Server) handleBeginEnrollment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method       string `json:"method"`
		FriendlyName string `json:"friendlyName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-body", err.Error())
		return
	}
	begun, err := s.enrollments.Begin(r.Context(), mux.Vars(r)["id"], body.Method, body.FriendlyName)
	switch {
	case errors.Is(err, mfa.ErrUnknownMethod):
		writeProblem(w, http.StatusBadRequest, "unknown-method", "no such MFA method")
	case errors.Is(err, enrollment.ErrUnknownUser):
		writeProblem(w, http.StatusNotFound, "not-found", "user does not exist")
	case err != nil:
		storeError(w, err)
	default:
		writeJSON(w, http.StatusCreated, begun)
	}
}

func (s *Server) handleActivateEnrollment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-body", err.Error())
		return
	}
	vars := mux.Vars(r)
	e, err := s.enrollments.Activate(r.Context(), vars["id"], vars["eid"], body.Response)
	switch {
	case errors.Is(err, enrollment.ErrBadResponse):
		writeProblem(w, http.StatusUnprocessableEntity, "activation-rejected", "verification response did not validate")
	case errors.Is(err, enrollment.ErrNotPending):
		writeProblem(w, http.StatusConflict, "not-pending", "enrollment is not awaiting activation")
	case errors.Is(err, enrollment.ErrWrongAccount):
		writeProblem(w, http.StatusNotFound, "not-found", "enrollment does not exist for this user")
	case err != nil:
		storeError(w, err)
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) handleToggleEnrollment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	e, err := s.enrollments.Toggle(r.Context(), vars["id"], vars["eid"])
	switch {
	case errors.Is(err, enrollment.ErrNotPending):
		writeProblem(w, http.StatusConflict, "not-toggleable", "enrollment must be active or disabled")
	case errors.Is(err, enrollment.ErrWrongAccount):
		writeProblem(w, http.StatusNotFound, "not-found", "enrollment does not exist for this user")
	case err != nil:
		storeError(w, err)
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) handleDeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.enrollments.Delete(r.Context(), vars["id"], vars["eid"])
	switch {
	case errors.Is(err, enrollment.ErrWrongAccount):
		writeProblem(w, http.StatusNotFound, "not-found", "enrollment does not exist for this user")
	case err != nil:
		storeError(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
