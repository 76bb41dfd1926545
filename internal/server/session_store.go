package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sidCookieName = "sid"

var sidRandReader io.Reader = rand.Reader

type Session struct {
	TenantID    string
	PrincipalID string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

type sessionStore interface {
	Create(ctx context.Context, tenantID string, principalID string, expiresAt time.Time, ip string, userAgent string) (sid string, err error)
	Lookup(ctx context.Context, sid string) (Session, bool, error)
	Revoke(ctx context.Context, sid string) error
}

func sidTTLFromEnv() time.Duration {
	const defaultHours = 24 * 14

	v := os.Getenv("SID_TTL_HOURS")
	if v == "" {
		return time.Hour * defaultHours
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Hour * defaultHours
	}
	return time.Hour * time.Duration(n)
}

func newSID() (sid string, tokenSha256 []byte, err error) {
	var b [32]byte
	if _, err := sidRandReader.Read(b[:]); err != nil {
		return "", nil, err
	}
	sid = base64.RawURLEncoding.EncodeToString(b[:])
	sum := sha256.Sum256([]byte(sid))
	return sid, sum[:], nil
}

func readSID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sidCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func setSIDCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sidCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSIDCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sidCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]Session)}
}

func (s *memorySessionStore) Create(_ context.Context, tenantID string, principalID string, expiresAt time.Time, _ string, _ string) (string, error) {
	sid, sum, err := newSID()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[string(sum)] = Session{TenantID: tenantID, PrincipalID: principalID, ExpiresAt: expiresAt}
	return sid, nil
}

func (s *memorySessionStore) Lookup(_ context.Context, sid string) (Session, bool, error) {
	sum := sha256.Sum256([]byte(sid))
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[string(sum[:])]
	if !ok || sess.RevokedAt != nil || time.Now().After(sess.ExpiresAt) {
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *memorySessionStore) Revoke(_ context.Context, sid string) error {
	sum := sha256.Sum256([]byte(sid))
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[string(sum[:])]; ok {
		now := time.Now()
		sess.RevokedAt = &now
		s.sessions[string(sum[:])] = sess
	}
	return nil
}

// pgSessionStore keeps sessions in iam.sessions. The table carries no
// row-security policy: a session must be resolvable before any tenant
// scope exists, and the store only ever addresses rows by hashed token.
type pgSessionStore struct {
	pool *pgxpool.Pool
}

func newPGSessionStore(pool *pgxpool.Pool) *pgSessionStore {
	return &pgSessionStore{pool: pool}
}

func (s *pgSessionStore) Create(ctx context.Context, tenantID string, principalID string, expiresAt time.Time, ip string, userAgent string) (string, error) {
	sid, sum, err := newSID()
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO iam.sessions (id, token_sha256, tenant_id, principal_id, expires_at, ip, user_agent)
VALUES ($1, $2, $3::uuid, $4::uuid, $5, NULLIF($6, ''), NULLIF($7, ''))
`, id, sum, tenantID, principalID, expiresAt, ip, userAgent)
	if err != nil {
		return "", err
	}
	return sid, nil
}

func (s *pgSessionStore) Lookup(ctx context.Context, sid string) (Session, bool, error) {
	sum := sha256.Sum256([]byte(sid))

	var sess Session
	err := s.pool.QueryRow(ctx, `
SELECT tenant_id::text, principal_id::text, expires_at, revoked_at
FROM iam.sessions
WHERE token_sha256 = $1
  AND revoked_at IS NULL
  AND expires_at > now()
`, sum[:]).Scan(&sess.TenantID, &sess.PrincipalID, &sess.ExpiresAt, &sess.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *pgSessionStore) Revoke(ctx context.Context, sid string) error {
	sum := sha256.Sum256([]byte(sid))
	_, err := s.pool.Exec(ctx, `
UPDATE iam.sessions
SET revoked_at = now()
WHERE token_sha256 = $1
  AND revoked_at IS NULL
`, sum[:])
	return err
}
