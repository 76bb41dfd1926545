package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/harborlock/harborlock/internal/audit"
	"github.com/harborlock/harborlock/pkg/authz"
	"github.com/harborlock/harborlock/pkg/httperr"
)

type collectionRequest struct {
	Name       string `json:"name"`
	AccessRule string `json:"access_rule,omitempty"`
}

type collectionResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	AccessRule string    `json:"access_rule,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleCollectionCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultCollections, authz.ActionWrite); err != nil {
		writeError(w, 0, err)
		return
	}

	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 0, httperr.NewBadRequest("bad json"))
		return
	}
	if req.Name == "" {
		writeError(w, 0, httperr.NewBadRequest("name required"))
		return
	}
	// Reject rules that do not compile or do not yield a bool before
	// they can gate anything.
	if req.AccessRule != "" {
		if _, err := s.rules.Allow(req.AccessRule, map[string]string{
			"user_id":       p.ID,
			"role":          p.RoleSlug,
			"collection_id": "",
		}); err != nil {
			writeError(w, 0, httperr.NewBadRequest("invalid access rule"))
			return
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		writeError(w, 0, err)
		return
	}
	c := Collection{ID: id.String(), TenantID: p.TenantID, Name: req.Name, AccessRule: req.AccessRule}
	if err := s.collections.Create(r.Context(), p.TenantID, c); err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "vault",
		Action:     "collection.create",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "collection",
		TargetID:   c.ID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	writeJSON(w, http.StatusCreated, collectionResponse{ID: c.ID, Name: c.Name, AccessRule: c.AccessRule})
}

func (s *Server) handleCollectionList(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultCollections, authz.ActionRead); err != nil {
		writeError(w, 0, err)
		return
	}

	collections, err := s.collections.List(r.Context(), p.TenantID)
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	out := make([]collectionResponse, 0, len(collections))
	for _, c := range collections {
		// Members only see collections their rule admits them to.
		allowed, err := s.rules.Allow(c.AccessRule, map[string]string{
			"user_id":       p.ID,
			"role":          p.RoleSlug,
			"collection_id": c.ID,
		})
		if err != nil || !allowed {
			continue
		}
		out = append(out, collectionResponse{
			ID:         c.ID,
			Name:       c.Name,
			AccessRule: c.AccessRule,
			CreatedAt:  c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
