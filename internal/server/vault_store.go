package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harborlock/harborlock/internal/rls"
	"github.com/harborlock/harborlock/pkg/secretbox"
	"github.com/jackc/pgx/v5"
)

// Entry is one stored vault record: two sealed boxes per entry, a short
// overview for listings and the full details. The server never stores
// plaintext; aad_version and key_version select how each box is opened.
type Entry struct {
	ID         string
	TenantID   string
	ScopeID    string
	Overview   secretbox.Box
	Details    secretbox.Box
	AADVersion int
	KeyVersion int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type EntryStore interface {
	Create(ctx context.Context, tenantID string, e Entry) error
	Get(ctx context.Context, tenantID string, entryID string) (Entry, bool, error)
	List(ctx context.Context, tenantID string, scopeID string) ([]Entry, error)
	Update(ctx context.Context, tenantID string, e Entry) error
	Delete(ctx context.Context, tenantID string, entryID string) (bool, error)
}

type pgEntryStore struct {
	db rls.Beginner
}

func newPGEntryStore(db rls.Beginner) *pgEntryStore {
	return &pgEntryStore{db: db}
}

func (s *pgEntryStore) Create(ctx context.Context, tenantID string, e Entry) error {
	return rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO vault.entries (id, tenant_id, scope_id, overview_nonce, overview, details_nonce, details, aad_version, key_version)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9)
`, e.ID, tenantID, e.ScopeID, e.Overview.Nonce, e.Overview.Ciphertext, e.Details.Nonce, e.Details.Ciphertext, e.AADVersion, e.KeyVersion)
		return err
	})
}

func (s *pgEntryStore) Get(ctx context.Context, tenantID string, entryID string) (Entry, bool, error) {
	var e Entry
	found := false
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
SELECT id::text, tenant_id::text, scope_id, overview_nonce, overview, details_nonce, details, aad_version, key_version, created_at, updated_at
FROM vault.entries
WHERE id = $1::uuid
`, entryID)
		err := scanEntry(row, &e)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return e, found, err
}

func (s *pgEntryStore) List(ctx context.Context, tenantID string, scopeID string) ([]Entry, error) {
	var entries []Entry
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id::text, tenant_id::text, scope_id, overview_nonce, overview, details_nonce, details, aad_version, key_version, created_at, updated_at
FROM vault.entries
WHERE scope_id = $1
ORDER BY created_at
`, scopeID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Entry
			if err := scanEntry(rows, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

func (s *pgEntryStore) Update(ctx context.Context, tenantID string, e Entry) error {
	return rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
UPDATE vault.entries
SET overview_nonce = $2, overview = $3, details_nonce = $4, details = $5, aad_version = $6, key_version = $7, updated_at = now()
WHERE id = $1::uuid
`, e.ID, e.Overview.Nonce, e.Overview.Ciphertext, e.Details.Nonce, e.Details.Ciphertext, e.AADVersion, e.KeyVersion)
		return err
	})
}

func (s *pgEntryStore) Delete(ctx context.Context, tenantID string, entryID string) (bool, error) {
	deleted := false
	err := rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM vault.entries WHERE id = $1::uuid`, entryID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	return deleted, err
}

func scanEntry(row pgx.Row, e *Entry) error {
	return row.Scan(&e.ID, &e.TenantID, &e.ScopeID,
		&e.Overview.Nonce, &e.Overview.Ciphertext,
		&e.Details.Nonce, &e.Details.Ciphertext,
		&e.AADVersion, &e.KeyVersion, &e.CreatedAt, &e.UpdatedAt)
}

// memoryEntryStore backs handler tests. It enforces the same tenant
// partitioning the database policies do.
type memoryEntryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func newMemoryEntryStore() *memoryEntryStore {
	return &memoryEntryStore{entries: make(map[string]Entry)}
}

func (s *memoryEntryStore) Create(_ context.Context, tenantID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.TenantID = tenantID
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.ID] = e
	return nil
}

func (s *memoryEntryStore) Get(_ context.Context, tenantID string, entryID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *memoryEntryStore) List(_ context.Context, tenantID string, scopeID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []Entry
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.ScopeID == scopeID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *memoryEntryStore) Update(_ context.Context, tenantID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[e.ID]
	if !ok || prev.TenantID != tenantID {
		return nil
	}
	e.TenantID = tenantID
	e.CreatedAt = prev.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	s.entries[e.ID] = e
	return nil
}

func (s *memoryEntryStore) Delete(_ context.Context, tenantID string, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return false, nil
	}
	delete(s.entries, entryID)
	return true, nil
}
