package server

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/harborlock/harborlock/internal/rls"
	"github.com/jackc/pgx/v5"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	RoleSlug     string
	Status       string
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (User, bool, error)
	GetByID(ctx context.Context, id string) (User, bool, error)
}

// pgUserStore reads iam.users under bypass: the caller's tenant is not
// known yet at login time. Only the login flow uses it.
type pgUserStore struct {
	db rls.Beginner
}

func newPGUserStore(db rls.Beginner) *pgUserStore {
	return &pgUserStore{db: db}
}

func (s *pgUserStore) GetByEmail(ctx context.Context, email string) (User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, false, nil
	}

	var u User
	found := false
	err := rls.WithBypass(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT id::text, email, password_hash, role_slug, status
FROM iam.users
WHERE email = $1
  AND status = 'active'
`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RoleSlug, &u.Status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return User{}, false, err
	}
	return u, found, nil
}

func (s *pgUserStore) GetByID(ctx context.Context, id string) (User, bool, error) {
	if id == "" {
		return User{}, false, nil
	}

	var u User
	found := false
	err := rls.WithBypass(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT id::text, email, password_hash, role_slug, status
FROM iam.users
WHERE id = $1::uuid
  AND status = 'active'
`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RoleSlug, &u.Status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return User{}, false, err
	}
	return u, found, nil
}

type memoryUserStore struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{users: make(map[string]User)}
}

func (s *memoryUserStore) put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(u.Email)] = u
}

func (s *memoryUserStore) GetByEmail(_ context.Context, email string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok || u.Status != "active" {
		return User{}, false, nil
	}
	return u, true, nil
}

func (s *memoryUserStore) GetByID(_ context.Context, id string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id && u.Status == "active" {
			return u, true, nil
		}
	}
	return User{}, false, nil
}
