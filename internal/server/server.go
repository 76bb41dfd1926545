package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/harborlock/harborlock/internal/audit"
	"github.com/harborlock/harborlock/internal/keyring"
	"github.com/harborlock/harborlock/internal/policy"
	"github.com/harborlock/harborlock/internal/rls"
	"github.com/harborlock/harborlock/pkg/authz"
	"github.com/harborlock/harborlock/pkg/httperr"
	"github.com/harborlock/harborlock/pkg/ratelimit"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultLoginWindow = time.Minute
	defaultLoginMax    = 10
)

// Options carries the server's dependencies. Nil fields fall back to
// in-memory implementations, which is what the handler tests use; main
// wires the Postgres-backed set.
type Options struct {
	Log         *zap.Logger
	DB          rls.Beginner
	Users       userStore
	Sessions    sessionStore
	Entries     EntryStore
	Collections CollectionStore
	Memberships membershipStore
	Resolver    tenantResolver
	Limiter     ratelimit.Limiter
	Audit       *audit.Writer
	Authorizer  *authz.Authorizer
	Rules       *policy.Engine
	Keys        *keyring.Ring

	SIDTTL      time.Duration
	LoginWindow time.Duration
}

type Server struct {
	log         *zap.Logger
	users       userStore
	sessions    sessionStore
	entries     EntryStore
	collections CollectionStore
	memberships membershipStore
	resolver    tenantResolver
	limiter     ratelimit.Limiter
	audit       *audit.Writer
	authorizer  *authz.Authorizer
	rules       *policy.Engine
	keys        *keyring.Ring

	sidTTL      time.Duration
	loginWindow time.Duration
}

func NewServer(opts Options) (*Server, error) {
	s := &Server{
		log:         opts.Log,
		users:       opts.Users,
		sessions:    opts.Sessions,
		entries:     opts.Entries,
		collections: opts.Collections,
		memberships: opts.Memberships,
		resolver:    opts.Resolver,
		limiter:     opts.Limiter,
		audit:       opts.Audit,
		authorizer:  opts.Authorizer,
		rules:       opts.Rules,
		keys:        opts.Keys,
		sidTTL:      opts.SIDTTL,
		loginWindow: opts.LoginWindow,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.sidTTL <= 0 {
		s.sidTTL = sidTTLFromEnv()
	}
	if s.loginWindow <= 0 {
		s.loginWindow = defaultLoginWindow
	}

	if opts.DB != nil {
		if s.users == nil {
			s.users = newPGUserStore(opts.DB)
		}
		if s.sessions == nil {
			if pool, ok := opts.DB.(*pgxpool.Pool); ok {
				s.sessions = newPGSessionStore(pool)
			}
		}
		if s.entries == nil {
			s.entries = newPGEntryStore(opts.DB)
		}
		if s.collections == nil {
			s.collections = newPGCollectionStore(opts.DB)
		}
		if s.memberships == nil {
			s.memberships = newPGMembershipStore(opts.DB)
		}
		if s.resolver == nil {
			s.resolver = rls.NewResolver(opts.DB)
		}
	}

	if s.users == nil {
		s.users = newMemoryUserStore()
	}
	if s.sessions == nil {
		s.sessions = newMemorySessionStore()
	}
	if s.entries == nil {
		s.entries = newMemoryEntryStore()
	}
	if s.collections == nil {
		s.collections = newMemoryCollectionStore()
	}
	if s.memberships == nil {
		s.memberships = newMemoryMembershipStore()
	}
	if s.resolver == nil {
		if m, ok := s.memberships.(*memoryMembershipStore); ok {
			s.resolver = newMemoryTenantResolver(m)
		}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{
			Window: s.loginWindow,
			Max:    defaultLoginMax,
		})
	}
	if s.audit == nil {
		s.audit = audit.NewWriter(nopAuditSink{}, s.log)
	}
	if s.authorizer == nil {
		mode, err := authz.ModeFromEnv()
		if err != nil {
			return nil, err
		}
		a, err := authz.NewMemoryAuthorizer(mode)
		if err != nil {
			return nil, err
		}
		if err := grantDefaultRoles(a); err != nil {
			return nil, err
		}
		s.authorizer = a
	}
	if s.rules == nil {
		e, err := policy.NewEngine()
		if err != nil {
			return nil, err
		}
		s.rules = e
	}
	if s.keys == nil {
		s.keys = keyring.NewStatic("", nil)
	}
	return s, nil
}

// grantDefaultRoles seeds the built-in role grants used when no policy
// file is loaded.
func grantDefaultRoles(a *authz.Authorizer) error {
	grants := []struct{ role, dom, obj, act string }{
		{authz.RoleSuperadmin, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionAdmin},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionRead},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionWrite},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionDelete},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectVaultCollections, authz.ActionRead},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectVaultCollections, authz.ActionWrite},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectIAMMemberships, authz.ActionRead},
		{authz.RoleTenantAdmin, authz.DomainAny, authz.ObjectIAMMemberships, authz.ActionAdmin},
		{authz.RoleMember, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionRead},
		{authz.RoleMember, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionWrite},
		{authz.RoleMember, authz.DomainAny, authz.ObjectVaultEntries, authz.ActionDelete},
		{authz.RoleMember, authz.DomainAny, authz.ObjectVaultCollections, authz.ActionRead},
	}
	for _, g := range grants {
		if err := a.Grant(g.role, g.dom, g.obj, g.act); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.requireSession(s.handleLogout))

	mux.HandleFunc("POST /api/vault/entries", s.requireSession(s.handleEntryCreate))
	mux.HandleFunc("GET /api/vault/entries", s.requireSession(s.handleEntryList))
	mux.HandleFunc("GET /api/vault/entries/{id}", s.requireSession(s.handleEntryGet))
	mux.HandleFunc("PUT /api/vault/entries/{id}", s.requireSession(s.handleEntryUpdate))
	mux.HandleFunc("DELETE /api/vault/entries/{id}", s.requireSession(s.handleEntryDelete))

	mux.HandleFunc("POST /api/vault/collections", s.requireSession(s.handleCollectionCreate))
	mux.HandleFunc("GET /api/vault/collections", s.requireSession(s.handleCollectionList))

	mux.HandleFunc("POST /api/iam/memberships", s.requireSession(s.handleMembershipCreate))
	mux.HandleFunc("GET /api/iam/memberships", s.requireSession(s.handleMembershipList))
	mux.HandleFunc("DELETE /api/iam/memberships/{userID}", s.requireSession(s.handleMembershipDeactivate))

	return s.logRequests(mux)
}

// requireSession resolves the sid cookie into a Principal. All failure
// modes answer with the same generic denial.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := readSID(r)
		if !ok {
			writeError(w, 0, httperr.NewForbidden())
			return
		}
		sess, found, err := s.sessions.Lookup(r.Context(), sid)
		if err != nil {
			writeError(w, 0, mapStoreError(err))
			return
		}
		if !found {
			writeError(w, 0, httperr.NewForbidden())
			return
		}
		user, found, err := s.users.GetByID(r.Context(), sess.PrincipalID)
		if err != nil {
			writeError(w, 0, mapStoreError(err))
			return
		}
		if !found {
			writeError(w, 0, httperr.NewForbidden())
			return
		}
		p := Principal{
			ID:       user.ID,
			TenantID: sess.TenantID,
			Email:    user.Email,
			RoleSlug: user.RoleSlug,
			Status:   user.Status,
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

func (s *Server) authorize(p Principal, object string, action string) error {
	allowed, enforced, err := s.authorizer.Authorize(
		authz.SubjectFromRoleSlug(p.RoleSlug),
		authz.DomainFromTenantID(p.TenantID),
		object, action)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	if !enforced {
		s.log.Warn("authz shadow denial",
			zap.String("role", p.RoleSlug),
			zap.String("object", object),
			zap.String("action", action))
		return nil
	}
	return httperr.NewForbidden()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// nopAuditSink discards audit rows; the in-memory configuration has no
// database to write them to.
type nopAuditSink struct{}

func (nopAuditSink) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
