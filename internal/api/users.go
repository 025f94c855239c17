package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Users are read-only here: rows are written by the directory importer.

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize := pagination(r)
	list, total, err := s.store.ListUsers(r.Context(), pageNum, pageSize)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Total: total, Page: pageNum, PageSize: pageSize, Data: list})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
