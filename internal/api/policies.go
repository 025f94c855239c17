package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/authgate/mfasrv/internal/model"
)

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	pageNum, pageSize := pagination(r)
	list, total, err := s.store.ListPolicies(r.Context(), pageNum, pageSize)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Total: total, Page: pageNum, PageSize: pageSize, Data: list})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPolicy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p model.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-body", err.Error())
		return
	}
	if p.Name == "" {
		writeProblem(w, http.StatusBadRequest, "invalid-policy", "name is required")
		return
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := validatePolicy(&p); err != "" {
		writeProblem(w, http.StatusBadRequest, "invalid-policy", err)
		return
	}
	p.Updated = model.Millis(time.Now())
	if err := s.store.SavePolicy(r.Context(), &p); err != nil {
		storeError(w, err)
		return
	}
	s.stream.NotifyChanged(r.Context(), &p)
	writeJSON(w, http.StatusCreated, &p)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetPolicy(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	var p model.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-body", err.Error())
		return
	}
	p.ID = id
	if err := validatePolicy(&p); err != "" {
		writeProblem(w, http.StatusBadRequest, "invalid-policy", err)
		return
	}
	p.Updated = model.Millis(time.Now())
	if err := s.store.SavePolicy(r.Context(), &p); err != nil {
		storeError(w, err)
		return
	}
	s.stream.NotifyChanged(r.Context(), &p)
	writeJSON(w, http.StatusOK, &p)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeletePolicy(r.Context(), id); err != nil {
		storeError(w, err)
		return
	}
	s.stream.NotifyDeleted(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTogglePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	if err := s.store.TogglePolicy(r.Context(), id, !p.Enabled); err != nil {
		storeError(w, err)
		return
	}
	p, err = s.store.GetPolicy(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	// A disabled policy leaves the evaluable set, which agents model as
	// deletion from their caches.
	if p.Enabled {
		s.stream.NotifyChanged(r.Context(), p)
	} else {
		s.stream.NotifyDeleted(r.Context(), p.ID)
	}
	writeJSON(w, http.StatusOK, p)
}

func validatePolicy(p *model.Policy) string {
	switch p.FailoverMode {
	case "", model.FailOpen, model.FailClose, model.CachedOnly:
	default:
		return "unknown failover_mode"
	}
	if len(p.Actions) == 0 {
		return "at least one action is required"
	}
	for i := range p.Actions {
		switch p.Actions[i].ActionType {
		case model.ActionRequireMFA, model.ActionDeny, model.ActionAllow, model.ActionAlertOnly:
		default:
			return "unknown action_type"
		}
	}
	for gi := range p.RuleGroups {
		for ri := range p.RuleGroups[gi].Rules {
			rule := &p.RuleGroups[gi].Rules[ri]
			switch rule.RuleType {
			case model.RuleSourceUser, model.RuleSourceGroup, model.RuleSourceIP,
				model.RuleSourceOU, model.RuleTargetResource, model.RuleAuthProtocol,
				model.RuleTimeWindow, model.RuleRiskScore:
			default:
				return "unknown rule_type"
			}
		}
	}
	return ""
}
