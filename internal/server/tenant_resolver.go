package server

import (
	"context"
	"fmt"

	"github.com/harborlock/harborlock/internal/rls"
)

type tenantResolver interface {
	ResolveUserTenantID(ctx context.Context, userID string) (string, error)
}

// memoryTenantResolver mirrors the database resolver's invariants over
// the in-memory membership store, for handler tests.
type memoryTenantResolver struct {
	memberships *memoryMembershipStore
}

func newMemoryTenantResolver(memberships *memoryMembershipStore) *memoryTenantResolver {
	return &memoryTenantResolver{memberships: memberships}
}

func (r *memoryTenantResolver) ResolveUserTenantID(_ context.Context, userID string) (string, error) {
	r.memberships.mu.Lock()
	defer r.memberships.mu.Unlock()

	var tenantIDs []string
	for _, m := range r.memberships.memberships {
		if m.UserID == userID && m.DeactivatedAt == nil {
			tenantIDs = append(tenantIDs, m.TenantID)
		}
	}
	switch len(tenantIDs) {
	case 0:
		return "", rls.ErrTenantNotResolved
	case 1:
		return tenantIDs[0], nil
	default:
		return "", fmt.Errorf("%w: identity %s has %d", rls.ErrMembershipInvariant, userID, len(tenantIDs))
	}
}
