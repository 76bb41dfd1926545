package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/harborlock/harborlock/internal/audit"
	"github.com/harborlock/harborlock/pkg/aadcodec"
	"github.com/harborlock/harborlock/pkg/authz"
	"github.com/harborlock/harborlock/pkg/httperr"
	"github.com/harborlock/harborlock/pkg/secretbox"
)

type entryRequest struct {
	ScopeID  string          `json:"scope_id,omitempty"`
	Overview json.RawMessage `json:"overview"`
	Details  json.RawMessage `json:"details"`
}

type entryResponse struct {
	ID        string          `json:"id"`
	ScopeID   string          `json:"scope_id"`
	Overview  json.RawMessage `json:"overview"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) handleEntryCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultEntries, authz.ActionWrite); err != nil {
		writeError(w, 0, err)
		return
	}

	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 0, httperr.NewBadRequest("bad json"))
		return
	}
	if len(req.Overview) == 0 || len(req.Details) == 0 {
		writeError(w, 0, httperr.NewBadRequest("overview and details required"))
		return
	}

	scopeID, err := s.resolveScope(r, p, req.ScopeID)
	if err != nil {
		writeError(w, 0, err)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		writeError(w, 0, err)
		return
	}

	e, err := s.sealEntry(p.TenantID, scopeID, id.String(), req.Overview, req.Details)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	if err := s.entries.Create(r.Context(), p.TenantID, e); err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "vault",
		Action:     "entry.create",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "entry",
		TargetID:   e.ID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	writeJSON(w, http.StatusCreated, entryResponse{ID: e.ID, ScopeID: scopeID})
}

func (s *Server) handleEntryGet(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultEntries, authz.ActionRead); err != nil {
		writeError(w, 0, err)
		return
	}

	e, found, err := s.entries.Get(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}
	if !found {
		writeError(w, 0, httperr.NewNotFound())
		return
	}
	if err := s.checkScopeAccess(r, p, e.ScopeID); err != nil {
		writeError(w, 0, err)
		return
	}

	overview, details, err := s.openEntry(e, true)
	if err != nil {
		// An authentication failure here is not "corrupt data": the
		// ciphertext does not belong under this identity. Deny and
		// record it.
		s.audit.Log(audit.Entry{
			Scope:      "vault",
			Action:     "entry.open_failed",
			UserID:     p.ID,
			TenantID:   p.TenantID,
			TargetType: "entry",
			TargetID:   e.ID,
			IP:         remoteIP(r),
			UserAgent:  r.UserAgent(),
		})
		writeError(w, 0, err)
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "vault",
		Action:     "entry.read",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "entry",
		TargetID:   e.ID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	writeJSON(w, http.StatusOK, entryResponse{
		ID:        e.ID,
		ScopeID:   e.ScopeID,
		Overview:  overview,
		Details:   details,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	})
}

func (s *Server) handleEntryList(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultEntries, authz.ActionRead); err != nil {
		writeError(w, 0, err)
		return
	}

	scopeID, err := s.resolveScope(r, p, r.URL.Query().Get("scope_id"))
	if err != nil {
		writeError(w, 0, err)
		return
	}

	entries, err := s.entries.List(r.Context(), p.TenantID, scopeID)
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		// Listings open overviews only; details stay sealed.
		overview, _, err := s.openEntry(e, false)
		if err != nil {
			writeError(w, 0, err)
			return
		}
		out = append(out, entryResponse{
			ID:        e.ID,
			ScopeID:   e.ScopeID,
			Overview:  overview,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEntryUpdate(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultEntries, authz.ActionWrite); err != nil {
		writeError(w, 0, err)
		return
	}

	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 0, httperr.NewBadRequest("bad json"))
		return
	}
	if len(req.Overview) == 0 || len(req.Details) == 0 {
		writeError(w, 0, httperr.NewBadRequest("overview and details required"))
		return
	}

	prev, found, err := s.entries.Get(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}
	if !found {
		writeError(w, 0, httperr.NewNotFound())
		return
	}
	if err := s.checkScopeAccess(r, p, prev.ScopeID); err != nil {
		writeError(w, 0, err)
		return
	}

	e, err := s.sealEntry(p.TenantID, prev.ScopeID, prev.ID, req.Overview, req.Details)
	if err != nil {
		writeError(w, 0, err)
		return
	}
	if err := s.entries.Update(r.Context(), p.TenantID, e); err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "vault",
		Action:     "entry.update",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "entry",
		TargetID:   e.ID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	writeJSON(w, http.StatusOK, entryResponse{ID: e.ID, ScopeID: e.ScopeID})
}

func (s *Server) handleEntryDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := currentPrincipal(r.Context())
	if err := s.authorize(p, authz.ObjectVaultEntries, authz.ActionDelete); err != nil {
		writeError(w, 0, err)
		return
	}

	e, found, err := s.entries.Get(r.Context(), p.TenantID, r.PathValue("id"))
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}
	if !found {
		writeError(w, 0, httperr.NewNotFound())
		return
	}
	if err := s.checkScopeAccess(r, p, e.ScopeID); err != nil {
		writeError(w, 0, err)
		return
	}

	if _, err := s.entries.Delete(r.Context(), p.TenantID, e.ID); err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	s.audit.Log(audit.Entry{
		Scope:      "vault",
		Action:     "entry.delete",
		UserID:     p.ID,
		TenantID:   p.TenantID,
		TargetType: "entry",
		TargetID:   e.ID,
		IP:         remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// sealEntry builds the AAD for both boxes from the current access
// context and seals under the tenant's active key.
func (s *Server) sealEntry(tenantID string, scopeID string, entryID string, overview, details []byte) (Entry, error) {
	key, keyVersion, err := s.keys.Active(tenantID)
	if err != nil {
		return Entry{}, err
	}

	overviewAAD, err := aadcodec.Build(scopeID, entryID, aadcodec.PurposeOverview, aadcodec.Current)
	if err != nil {
		return Entry{}, err
	}
	detailsAAD, err := aadcodec.Build(scopeID, entryID, aadcodec.PurposeDetails, aadcodec.Current)
	if err != nil {
		return Entry{}, err
	}

	overviewBox, err := secretbox.Seal(overview, key, overviewAAD)
	if err != nil {
		return Entry{}, err
	}
	detailsBox, err := secretbox.Seal(details, key, detailsAAD)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		ID:         entryID,
		TenantID:   tenantID,
		ScopeID:    scopeID,
		Overview:   overviewBox,
		Details:    detailsBox,
		AADVersion: aadcodec.Current,
		KeyVersion: keyVersion,
	}, nil
}

// openEntry reconstructs the AAD from the row's current identity, never
// from anything stored beside the ciphertext. A box copied onto another
// row or another tenant fails authentication here.
func (s *Server) openEntry(e Entry, withDetails bool) (overview, details json.RawMessage, err error) {
	key, err := s.keys.Version(e.TenantID, e.KeyVersion)
	if err != nil {
		return nil, nil, err
	}

	overviewAAD, err := aadcodec.Build(e.ScopeID, e.ID, aadcodec.PurposeOverview, e.AADVersion)
	if err != nil {
		return nil, nil, err
	}
	overview, err = secretbox.Open(e.Overview, key, overviewAAD)
	if err != nil {
		return nil, nil, err
	}
	if !withDetails {
		return overview, nil, nil
	}

	detailsAAD, err := aadcodec.Build(e.ScopeID, e.ID, aadcodec.PurposeDetails, e.AADVersion)
	if err != nil {
		return nil, nil, err
	}
	details, err = secretbox.Open(e.Details, key, detailsAAD)
	if err != nil {
		return nil, nil, err
	}
	return overview, details, nil
}

// resolveScope defaults to the principal's personal scope and verifies
// collection access otherwise.
func (s *Server) resolveScope(r *http.Request, p Principal, scopeID string) (string, error) {
	if scopeID == "" || scopeID == p.ID {
		return p.ID, nil
	}
	if err := s.checkScopeAccess(r, p, scopeID); err != nil {
		return "", err
	}
	return scopeID, nil
}

func (s *Server) checkScopeAccess(r *http.Request, p Principal, scopeID string) error {
	if scopeID == p.ID {
		return nil
	}

	c, found, err := s.collections.Get(r.Context(), p.TenantID, scopeID)
	if err != nil {
		return mapStoreError(err)
	}
	if !found {
		return httperr.NewNotFound()
	}

	allowed, err := s.rules.Allow(c.AccessRule, map[string]string{
		"user_id":       p.ID,
		"role":          p.RoleSlug,
		"collection_id": c.ID,
	})
	if err != nil || !allowed {
		return httperr.NewForbidden()
	}
	return nil
}
