package bypasscheck

import (
	"os"
	"path/filepath"
	"testing"
)

const scopedSource = `package store

import (
	"context"

	"github.com/harborlock/harborlock/internal/rls"
	"github.com/jackc/pgx/v5"
)

type Store struct{ db rls.Beginner }

func (s *Store) Resolve(ctx context.Context) error {
	return rls.WithBypass(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})
}

func (s *Store) Read(ctx context.Context, tenantID string) error {
	return rls.WithTenant(ctx, s.db, tenantID, func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})
}
`

const aliasedSource = `package admin

import (
	"context"

	rowsec "github.com/harborlock/harborlock/internal/rls"
)

func Bootstrap(ctx context.Context, db rowsec.Beginner) error {
	return rowsec.WithBypass(ctx, db, nil)
}
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, src := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

func TestScanFindsBypassCallSites(t *testing.T) {
	root := writeTree(t, map[string]string{
		"store/store.go": scopedSource,
		"admin/admin.go": aliasedSource,
	})

	sites, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("sites=%v", sites)
	}

	want := map[CallSite]bool{
		{File: "store/store.go", Function: "(*Store).Resolve"}: true,
		{File: "admin/admin.go", Function: "Bootstrap"}:        true,
	}
	for _, s := range sites {
		if !want[s] {
			t.Fatalf("unexpected site %+v", s)
		}
	}
}

func TestScanIgnoresScopedCalls(t *testing.T) {
	root := writeTree(t, map[string]string{"store/store.go": scopedSource})
	sites, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, s := range sites {
		if s.Function == "(*Store).Read" {
			t.Fatal("WithTenant call reported as bypass")
		}
	}
}

func TestCheckReportsUnlistedCallSites(t *testing.T) {
	root := writeTree(t, map[string]string{
		"store/store.go": scopedSource,
		"admin/admin.go": aliasedSource,
	})
	allow := Allowlist{
		Version:   1,
		CallSites: []CallSite{{File: "store/store.go", Function: "(*Store).Resolve"}},
	}

	violations, err := Check(root, allow)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("violations=%v", violations)
	}
	if violations[0].File != "admin/admin.go" {
		t.Fatalf("violation=%+v", violations[0])
	}
}

func TestCheckPassesWhenAllListed(t *testing.T) {
	root := writeTree(t, map[string]string{"store/store.go": scopedSource})
	allow := Allowlist{
		Version:   1,
		CallSites: []CallSite{{File: "store/store.go", Function: "(*Store).Resolve"}},
	}
	violations, err := Check(root, allow)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("violations=%v", violations)
	}
}

func TestParseAllowlistYAML(t *testing.T) {
	a, err := ParseAllowlistYAML([]byte(`
version: 1
call_sites:
  - file: internal/rls/resolver.go
    function: (*Resolver).resolve
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(a.CallSites) != 1 || a.CallSites[0].Function != "(*Resolver).resolve" {
		t.Fatalf("allowlist=%+v", a)
	}

	if _, err := ParseAllowlistYAML([]byte("version: 2")); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
