package rls

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestResolveUserTenantIDSingleMembership(t *testing.T) {
	tx := &fakeTx{queryRows: [][]any{{"tenant-1"}}}
	r := NewResolver(&fakeDB{queue: []*fakeTx{tx}})

	got, err := r.ResolveUserTenantID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "tenant-1" {
		t.Fatalf("tenant=%q", got)
	}
	// Resolution must run under bypass, not under some tenant's claim.
	if !strings.Contains(tx.execSQL[0], "app.rls_bypass") {
		t.Fatalf("first statement %q is not the bypass setting", tx.execSQL[0])
	}
}

func TestResolveUserTenantIDNoMembership(t *testing.T) {
	tx := &fakeTx{}
	r := NewResolver(&fakeDB{queue: []*fakeTx{tx}})

	_, err := r.ResolveUserTenantID(context.Background(), "user-1")
	if !errors.Is(err, ErrTenantNotResolved) {
		t.Fatalf("err=%v", err)
	}
}

func TestResolveUserTenantIDMultipleMemberships(t *testing.T) {
	tx := &fakeTx{queryRows: [][]any{{"tenant-1"}, {"tenant-2"}}}
	r := NewResolver(&fakeDB{queue: []*fakeTx{tx}})

	_, err := r.ResolveUserTenantID(context.Background(), "user-1")
	if !errors.Is(err, ErrMembershipInvariant) {
		t.Fatalf("err=%v", err)
	}
}

func TestResolveEmptyIdentity(t *testing.T) {
	r := NewResolver(&fakeDB{})
	if _, err := r.ResolveUserTenantID(context.Background(), "  "); !errors.Is(err, ErrTenantNotResolved) {
		t.Fatalf("err=%v", err)
	}
}

func TestResolveTeamTenantID(t *testing.T) {
	tx := &fakeTx{queryRows: [][]any{{"tenant-9"}}}
	r := NewResolver(&fakeDB{queue: []*fakeTx{tx}})

	got, err := r.ResolveTeamTenantID(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "tenant-9" {
		t.Fatalf("tenant=%q", got)
	}
	if !strings.Contains(tx.execSQL[1], "iam.team_memberships") {
		t.Fatalf("query %q", tx.execSQL[1])
	}
}

func TestWithUserTenantComposes(t *testing.T) {
	resolveTx := &fakeTx{queryRows: [][]any{{"tenant-1"}}}
	scopedTx := &fakeTx{}
	db := &fakeDB{queue: []*fakeTx{resolveTx, scopedTx}}
	r := NewResolver(db)

	err := r.WithUserTenant(context.Background(), "user-1", func(ctx context.Context, _ pgx.Tx) error {
		claim, _ := FromContext(ctx)
		if claim.TenantID != "tenant-1" || claim.Bypass {
			t.Fatalf("claim=%+v", claim)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithUserTenant: %v", err)
	}
	if !strings.Contains(scopedTx.execSQL[0], "app.current_tenant") {
		t.Fatal("scoped transaction must carry the tenant claim")
	}
	if scopedTx.execArgs[0][0] != "tenant-1" {
		t.Fatalf("claim arg=%v", scopedTx.execArgs[0])
	}
}

func TestWithUserTenantFailsWithoutResolution(t *testing.T) {
	resolveTx := &fakeTx{}
	db := &fakeDB{queue: []*fakeTx{resolveTx}}
	r := NewResolver(db)

	err := r.WithUserTenant(context.Background(), "user-1", func(context.Context, pgx.Tx) error {
		t.Fatal("fn must not run unscoped")
		return nil
	})
	if !errors.Is(err, ErrTenantNotResolved) {
		t.Fatalf("err=%v", err)
	}
	if len(db.began) != 1 {
		t.Fatalf("transactions opened=%d, want only the resolver's", len(db.began))
	}
}
