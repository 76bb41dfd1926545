package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/harborlock/harborlock/internal/audit"
	"github.com/harborlock/harborlock/pkg/httperr"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

func loginLimitKey(email string) string {
	return "login:" + strings.ToLower(strings.TrimSpace(email))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 0, httperr.NewBadRequest("bad json"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, 0, httperr.NewBadRequest("email and password required"))
		return
	}

	key := loginLimitKey(req.Email)
	allowed, err := s.limiter.Check(r.Context(), key)
	if err != nil {
		// Both backends down. Admission control must not take login
		// down with it.
		s.log.Warn("rate limiter unavailable", zap.Error(err))
	} else if !allowed {
		s.auditLogin(r, "", "", "login.throttled")
		writeError(w, int(s.loginWindow/time.Second), httperr.NewRateLimited())
		return
	}

	// Every failure below answers identically: no probe can tell a
	// missing account from a wrong password or an unresolvable tenant.
	user, found, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}
	passwordOK := false
	if found && user.Status == "active" {
		passwordOK, _ = verifyPassword(req.Password, user.PasswordHash)
	}
	if !passwordOK {
		s.auditLogin(r, "", "", "login.failed")
		writeError(w, 0, httperr.NewForbidden())
		return
	}

	tenantID, err := s.resolver.ResolveUserTenantID(r.Context(), user.ID)
	if err != nil {
		s.log.Warn("tenant resolution failed", zap.String("user_id", user.ID), zap.Error(err))
		s.auditLogin(r, user.ID, "", "login.failed")
		writeError(w, 0, httperr.NewForbidden())
		return
	}

	sid, err := s.sessions.Create(r.Context(), tenantID, user.ID, time.Now().Add(s.sidTTL), remoteIP(r), r.UserAgent())
	if err != nil {
		writeError(w, 0, mapStoreError(err))
		return
	}

	if err := s.limiter.Clear(r.Context(), key); err != nil {
		s.log.Warn("rate limiter clear failed", zap.Error(err))
	}

	setSIDCookie(w, sid)
	s.auditLogin(r, user.ID, tenantID, "login.success")
	writeJSON(w, http.StatusOK, loginResponse{UserID: user.ID, TenantID: tenantID, Role: user.RoleSlug})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sid, ok := readSID(r)
	if ok {
		if err := s.sessions.Revoke(r.Context(), sid); err != nil {
			writeError(w, 0, mapStoreError(err))
			return
		}
	}
	if p, ok := currentPrincipal(r.Context()); ok {
		s.auditLogin(r, p.ID, p.TenantID, "logout")
	}
	clearSIDCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) auditLogin(r *http.Request, userID, tenantID, action string) {
	s.audit.Log(audit.Entry{
		Scope:     "iam",
		Action:    action,
		UserID:    userID,
		TenantID:  tenantID,
		IP:        remoteIP(r),
		UserAgent: r.UserAgent(),
	})
}
