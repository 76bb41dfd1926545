package rls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrTenantNotResolved means the identity has no active membership.
	// Callers deny access; they never fall back to bypass.
	ErrTenantNotResolved = errors.New("rls: tenant not resolved")

	// ErrMembershipInvariant means the identity has more than one active
	// membership. That is a configuration defect, not a tie to break:
	// picking one would scope data ambiguously.
	ErrMembershipInvariant = errors.New("rls: multiple active tenant memberships")
)

// Resolver maps a user or team identity to the single tenant that owns
// it. Resolution runs under bypass internally: tenancy must be known
// before a tenant scope can be established.
type Resolver struct {
	db Beginner
}

func NewResolver(db Beginner) *Resolver {
	return &Resolver{db: db}
}

func (r *Resolver) ResolveUserTenantID(ctx context.Context, userID string) (string, error) {
	return r.resolve(ctx, `
SELECT tenant_id::text
FROM iam.tenant_memberships
WHERE user_id = $1
  AND deactivated_at IS NULL
`, userID)
}

func (r *Resolver) ResolveTeamTenantID(ctx context.Context, teamID string) (string, error) {
	return r.resolve(ctx, `
SELECT tenant_id::text
FROM iam.team_memberships
WHERE team_id = $1
  AND deactivated_at IS NULL
`, teamID)
}

func (r *Resolver) resolve(ctx context.Context, query string, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrTenantNotResolved
	}

	var tenantIDs []string
	err := WithBypass(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var tenantID string
			if err := rows.Scan(&tenantID); err != nil {
				return err
			}
			tenantIDs = append(tenantIDs, tenantID)
		}
		return rows.Err()
	})
	if err != nil {
		return "", err
	}

	switch len(tenantIDs) {
	case 0:
		return "", ErrTenantNotResolved
	case 1:
		return tenantIDs[0], nil
	default:
		return "", fmt.Errorf("%w: identity %s has %d", ErrMembershipInvariant, id, len(tenantIDs))
	}
}

// WithUserTenant resolves userID's tenant and runs fn scoped to it. A
// failed resolution aborts before any transaction for fn is opened.
func (r *Resolver) WithUserTenant(ctx context.Context, userID string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tenantID, err := r.ResolveUserTenantID(ctx, userID)
	if err != nil {
		return err
	}
	return WithTenant(ctx, r.db, tenantID, fn)
}

// WithTeamTenant is WithUserTenant for team identities.
func (r *Resolver) WithTeamTenant(ctx context.Context, teamID string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tenantID, err := r.ResolveTeamTenantID(ctx, teamID)
	if err != nil {
		return err
	}
	return WithTenant(ctx, r.db, tenantID, fn)
}
