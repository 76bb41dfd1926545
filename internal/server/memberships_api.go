package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/harborlock/harborlock/internal/audit"
	"github.com/harborlock/harborlock/internal/rls"
	"github.com/harborlock/harborlock/pkg/authz"
	"github.com/harborlock/harborlock/pkg/httperr"
)

type membershipRequest struct {
	UserID string `json:"user_id"`
}

type membershipResponse struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

func (s *Server) handleMembershipCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectIAMMemberships, authz.ActionAdmin); err != nil {
		writeError(w, 0, err)
		return
	}

	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 0, httperr.NewBadRequest("bad json"))
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		writeError(w, 0, httperr.NewBadRequest("user_id must be a uuid"))
		return
	}

	// One active membership per identity. Only a user with no home at
	// all may be added; a user already homed somewhere, or one whose
	// memberships are in a broken state, cannot be. The answer does not
	// reveal which case it was.
	if _, err := s.resolver.ResolveUserTenantID(r.Context(), req.UserID); !errors.Is(err, rls.ErrTenantNotResolved) {
		if err == nil || errors.Is(err, rls.ErrMembershipInvariant) {
			writeError(w, 0, httperr.NewBadRequest("user cannot be added"))
			return
		}
		writeError(w, 0, err)
		return
	}

	m, err := s.memberships.Create(r.Context(), p.TenantID, req.UserID)
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "iam",
		Action:     "membership.create",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "user",
		TargetID:   req.UserID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	writeJSON(w, http.StatusCreated, membershipResponse{ID: m.ID, UserID: m.UserID})
}

func (s *Server) handleMembershipDeactivate(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectIAMMemberships, authz.ActionAdmin); err != nil {
		writeError(w, 0, err)
		return
	}

	userID := r.PathValue("userID")
	deactivated, err := s.memberships.Deactivate(r.Context(), p.TenantID, userID)
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}
	if !deactivated {
		writeError(w, 0, httperr.NewNotFound())
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "iam",
		Action:     "membership.deactivate",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "user",
		TargetID:   userID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMembershipList(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectIAMMemberships, authz.ActionRead); err != nil {
		writeError(w, 0, err)
		return
	}

	memberships, err := s.memberships.ListActive(r.Context(), p.TenantID)
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	out := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, membershipResponse{ID: m.ID, UserID: m.UserID})
	}
	writeJSON(w, http.StatusOK, out)
}
