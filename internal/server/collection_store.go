package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harborlock/harborlock/internal/rls"
	"github.com/jackc/pgx/v5"
)

// Collection groups shared entries. AccessRule is an optional CEL
// expression evaluated on top of the role check when a member reads
// through the collection.
type Collection struct {
	ID         string
	TenantID   string
	Name       string
	AccessRule string
	CreatedAt  time.Time
}

type CollectionStore interface {
	Create(ctx context.Context, tenantID string, c Collection) error
	Get(ctx context.Context, tenantID string, id string) (Collection, bool, error)
	List(ctx context.Context, tenantID string) ([]Collection, error)
}

type pgCollectionStore struct {
	db rls.Beginner
}

func newPGCollectionStore(db rls.Beginner) *pgCollectionStore {
	return &pgCollectionStore{db: db}
}

func (s *pgCollectionStore) Create(ctx context.Context, tenantID string, c Collection) error {
	return rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO vault.collections (id, tenant_id, name, access_rule)
VALUES ($1::uuid, $2::uuid, $3, NULLIF($4, ''))
`, c.ID, tenantID, c.Name, c.AccessRule)
		return err
	})
}

func (s *pgCollectionStore) Get(ctx context.Context, tenantID string, id string) (Collection, bool, error) {
	var c Collection
	found := false
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		var rule *string
		err := tx.QueryRow(ctx, `
SELECT id::text, tenant_id::text, name, access_rule, created_at
FROM vault.collections
WHERE id = $1::uuid
`, id).Scan(&c.ID, &c.TenantID, &c.Name, &rule, &c.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		if rule != nil {
			c.AccessRule = *rule
		}
		found = true
		return nil
	})
	return c, found, err
}

func (s *pgCollectionStore) List(ctx context.Context, tenantID string) ([]Collection, error) {
	var out []Collection
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id::text, tenant_id::text, name, COALESCE(access_rule, ''), created_at
FROM vault.collections
ORDER BY created_at
`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Collection
			if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.AccessRule, &c.CreatedAt); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

type memoryCollectionStore struct {
	mu          sync.Mutex
	collections map[string]Collection
}

func newMemoryCollectionStore() *memoryCollectionStore {
	return &memoryCollectionStore{collections: make(map[string]Collection)}
}

func (s *memoryCollectionStore) Create(_ context.Context, tenantID string, c Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.TenantID = tenantID
	c.CreatedAt = time.Now().UTC()
	s.collections[c.ID] = c
	return nil
}

func (s *memoryCollectionStore) Get(_ context.Context, tenantID string, id string) (Collection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	if !ok || c.TenantID != tenantID {
		return Collection{}, false, nil
	}
	return c, true, nil
}

func (s *memoryCollectionStore) List(_ context.Context, tenantID string) ([]Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Collection
	for _, c := range s.collections {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}
