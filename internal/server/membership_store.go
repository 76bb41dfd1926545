package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harborlock/harborlock/internal/rls"
	"github.com/jackc/pgx/v5"
)

type Membership struct {
	ID            string
	UserID        string
	TenantID      string
	DeactivatedAt *time.Time
}

// membershipStore manages tenant memberships inside the admin's own
// tenant scope; the row-security policy keeps one tenant's admin from
// touching another tenant's roster.
type membershipStore interface {
	Create(ctx context.Context, tenantID string, userID string) (Membership, error)
	Deactivate(ctx context.Context, tenantID string, userID string) (bool, error)
	ListActive(ctx context.Context, tenantID string) ([]Membership, error)
}

type pgMembershipStore struct {
	db rls.Beginner
}

func newPGMembershipStore(db rls.Beginner) *pgMembershipStore {
	return &pgMembershipStore{db: db}
}

func (s *pgMembershipStore) Create(ctx context.Context, tenantID string, userID string) (Membership, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Membership{}, err
	}
	m := Membership{ID: id.String(), UserID: userID, TenantID: tenantID}
	err = rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO iam.tenant_memberships (id, user_id, tenant_id)
VALUES ($1::uuid, $2::uuid, $3::uuid)
`, m.ID, userID, tenantID)
		return err
	})
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

func (s *pgMembershipStore) Deactivate(ctx context.Context, tenantID string, userID string) (bool, error) {
	deactivated := false
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE iam.tenant_memberships
SET deactivated_at = now()
WHERE user_id = $1::uuid
  AND deactivated_at IS NULL
`, userID)
		if err != nil {
			return err
		}
		deactivated = tag.RowsAffected() > 0
		return nil
	})
	return deactivated, err
}

func (s *pgMembershipStore) ListActive(ctx context.Context, tenantID string) ([]Membership, error) {
	var out []Membership
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id::text, user_id::text, tenant_id::text
FROM iam.tenant_memberships
WHERE deactivated_at IS NULL
ORDER BY id
`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m Membership
			if err := rows.Scan(&m.ID, &m.UserID, &m.TenantID); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

type memoryMembershipStore struct {
	mu          sync.Mutex
	memberships []Membership
}

func newMemoryMembershipStore() *memoryMembershipStore {
	return &memoryMembershipStore{}
}

func (s *memoryMembershipStore) Create(_ context.Context, tenantID string, userID string) (Membership, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Membership{}, err
	}
	m := Membership{ID: id.String(), UserID: userID, TenantID: tenantID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, m)
	return m, nil
}

func (s *memoryMembershipStore) Deactivate(_ context.Context, tenantID string, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deactivated := false
	now := time.Now().UTC()
	for i, m := range s.memberships {
		if m.TenantID == tenantID && m.UserID == userID && m.DeactivatedAt == nil {
			s.memberships[i].DeactivatedAt = &now
			deactivated = true
		}
	}
	return deactivated, nil
}

func (s *memoryMembershipStore) ListActive(_ context.Context, tenantID string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Membership
	for _, m := range s.memberships {
		if m.TenantID == tenantID && m.DeactivatedAt == nil {
			out = append(out, m)
		}
	}
	return out, nil
}
