// Package rls scopes database transactions to one tenant. Every
// tenant-scoped table carries a row-security policy reading
// current_setting('app.current_tenant'); the wrappers here are the only
// supported way to set that claim, so a query can never run against
// another tenant's rows by accident.
package rls

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

var ErrEmptyTenantID = errors.New("rls: empty tenant id")

// Claim is the scope active for one transaction. Exactly one of
// TenantID or Bypass is meaningful; the zero Claim means no scope is
// established and tenant-scoped tables must not be touched.
type Claim struct {
	TenantID string
	Bypass   bool
}

type claimCtxKey struct{}

func withClaim(ctx context.Context, c Claim) context.Context {
	return context.WithValue(ctx, claimCtxKey{}, c)
}

// FromContext reports the claim bound by the innermost WithTenant or
// WithBypass call on this call chain. Concurrent requests never observe
// each other's claim: the value lives in the context, not in any
// process-wide state.
func FromContext(ctx context.Context) (Claim, bool) {
	c, ok := ctx.Value(claimCtxKey{}).(Claim)
	return c, ok
}

// Beginner is the slice of a pgx pool the wrappers need.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTenant runs fn inside one transaction whose session claim is set
// to tenantID before any of fn's queries execute. fn's error aborts the
// transaction; nothing fn wrote survives a rollback.
func WithTenant(ctx context.Context, db Beginner, tenantID string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrEmptyTenantID
	}
	return run(ctx, db, Claim{TenantID: tenantID}, fn)
}

// WithBypass runs fn inside one transaction with row security disabled
// for tables that honor the bypass setting. It is an escape hatch for
// legitimately cross-tenant work (tenant resolution, bootstrap); call
// sites are checked against an allowlist in CI.
func WithBypass(ctx context.Context, db Beginner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return run(ctx, db, Claim{Bypass: true}, fn)
}

func run(ctx context.Context, db Beginner, claim Claim, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	// Fail closed: if the claim cannot be set, no query runs at all.
	if claim.Bypass {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.rls_bypass', 'on', true);`); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, claim.TenantID); err != nil {
			return err
		}
	}

	if err := fn(withClaim(ctx, claim), tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
