package server

import (
	"encoding/json"
	"net/http"
	"testing"
)

func createEntry(t *testing.T, env *testEnv, cookie *http.Cookie, body map[string]any) entryResponse {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/vault/entries", body, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create entry: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeJSON[entryResponse](t, rec)
}

func TestEntryRoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.login(t, "admin@acme.test")

	created := createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "prod db"},
		"details":  map[string]string{"password": "hunter2"},
	})
	if created.ScopeID != testAdminID {
		t.Fatalf("scope_id = %q, want personal scope %q", created.ScopeID, testAdminID)
	}

	rec := env.do(t, http.MethodGet, "/api/vault/entries/"+created.ID, nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("get entry: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON[entryResponse](t, rec)

	var details map[string]string
	if err := json.Unmarshal(got.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["password"] != "hunter2" {
		t.Fatalf("details round trip: got %v", details)
	}
}

func TestEntryListOmitsDetails(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.login(t, "admin@acme.test")

	createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "a"},
		"details":  map[string]string{"secret": "x"},
	})

	rec := env.do(t, http.MethodGet, "/api/vault/entries", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	entries := decodeJSON[[]entryResponse](t, rec)
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if len(entries[0].Details) != 0 {
		t.Fatalf("listing leaked details: %s", entries[0].Details)
	}
	if len(entries[0].Overview) == 0 {
		t.Fatal("listing missing overview")
	}
}

func TestEntryCrossTenantIsNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.login(t, "admin@acme.test")

	created := createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "mine"},
		"details":  map[string]string{"secret": "x"},
	})

	// Re-home the row in another tenant behind the store's back. The
	// read must be indistinguishable from a nonexistent id.
	env.entries.mu.Lock()
	e := env.entries.entries[created.ID]
	e.TenantID = otherTenantID
	env.entries.entries[created.ID] = e
	env.entries.mu.Unlock()

	rec := env.do(t, http.MethodGet, "/api/vault/entries/"+created.ID, nil, cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	missing := env.do(t, http.MethodGet, "/api/vault/entries/deadbeef-0000-0000-0000-000000000000", nil, cookie)
	if rec.Body.String() != missing.Body.String() {
		t.Fatalf("cross-tenant body %q differs from missing body %q", rec.Body.String(), missing.Body.String())
	}
}

func TestEntryTamperedContextDenied(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.login(t, "admin@acme.test")

	first := createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "first"},
		"details":  map[string]string{"secret": "x"},
	})
	second := createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "second"},
		"details":  map[string]string{"secret": "y"},
	})

	// Splicing one row's box onto another changes the record id the
	// open recomputes into the AAD, so authentication fails and the
	// client sees a plain denial.
	env.entries.mu.Lock()
	a := env.entries.entries[first.ID]
	b := env.entries.entries[second.ID]
	a.Overview, b.Overview = b.Overview, a.Overview
	env.entries.entries[first.ID] = a
	env.entries.entries[second.ID] = b
	env.entries.mu.Unlock()

	rec := env.do(t, http.MethodGet, "/api/vault/entries/"+first.ID, nil, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body %s", rec.Code, rec.Body.String())
	}
}

func TestEntryUpdateReseals(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.login(t, "admin@acme.test")

	created := createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "v1"},
		"details":  map[string]string{"secret": "old"},
	})

	rec := env.do(t, http.MethodPut, "/api/vault/entries/"+created.ID, map[string]any{
		"overview": map[string]string{"title": "v2"},
		"details":  map[string]string{"secret": "new"},
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/vault/entries/"+created.ID, nil, cookie)
	got := decodeJSON[entryResponse](t, rec)

	var details map[string]string
	if err := json.Unmarshal(got.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details["secret"] != "new" {
		t.Fatalf("details = %v, want updated", details)
	}
}

func TestEntryDelete(t *testing.T) {
	env := newTestEnv(t, Options{})
	cookie := env.login(t, "admin@acme.test")

	created := createEntry(t, env, cookie, map[string]any{
		"overview": map[string]string{"title": "gone"},
		"details":  map[string]string{"secret": "x"},
	})

	rec := env.do(t, http.MethodDelete, "/api/vault/entries/"+created.ID, nil, cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/vault/entries/"+created.ID, nil, cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestCollectionRuleGatesEntries(t *testing.T) {
	env := newTestEnv(t, Options{})
	admin := env.login(t, "admin@acme.test")

	rec := env.do(t, http.MethodPost, "/api/vault/collections", map[string]string{
		"name":        "admin only",
		"access_rule": `ctx.role == "tenant-admin"`,
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create collection: status %d, body %s", rec.Code, rec.Body.String())
	}
	coll := decodeJSON[collectionResponse](t, rec)

	createEntry(t, env, admin, map[string]any{
		"scope_id": coll.ID,
		"overview": map[string]string{"title": "shared"},
		"details":  map[string]string{"secret": "x"},
	})

	member := env.login(t, "member@acme.test")

	rec = env.do(t, http.MethodGet, "/api/vault/collections", nil, member)
	if rec.Code != http.StatusOK {
		t.Fatalf("member list collections: status %d", rec.Code)
	}
	if collections := decodeJSON[[]collectionResponse](t, rec); len(collections) != 0 {
		t.Fatalf("member sees %d collections, want 0", len(collections))
	}

	rec = env.do(t, http.MethodGet, "/api/vault/entries?scope_id="+coll.ID, nil, member)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member list entries in gated scope: status %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/vault/entries?scope_id="+coll.ID, nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list entries: status %d, body %s", rec.Code, rec.Body.String())
	}
	if entries := decodeJSON[[]entryResponse](t, rec); len(entries) != 1 {
		t.Fatalf("admin sees %d entries, want 1", len(entries))
	}
}

func TestCollectionRejectsBrokenRule(t *testing.T) {
	env := newTestEnv(t, Options{})
	admin := env.login(t, "admin@acme.test")

	rec := env.do(t, http.MethodPost, "/api/vault/collections", map[string]string{
		"name":        "broken",
		"access_rule": `ctx.role ==`,
	}, admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
