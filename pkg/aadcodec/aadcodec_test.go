package aadcodec

import (
	"bytes"
	"testing"
)

func TestBuildDeterministic(t *testing.T) {
	a, err := Build("tenant-1", "entry-1", PurposeDetails, Current)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := Build("tenant-1", "entry-1", PurposeDetails, Current)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("same inputs must produce same bytes")
	}
}

func TestBuildNoFieldCollisions(t *testing.T) {
	// Without length prefixes ("ab","c") and ("a","bc") would concatenate
	// to the same bytes.
	a, err := Build("ab", "c", PurposeDetails, Current)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := Build("a", "bc", PurposeDetails, Current)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("shifted field boundaries must not collide")
	}
}

func TestBuildDistinguishesEveryField(t *testing.T) {
	base, _ := Build("t1", "r1", PurposeDetails, Current)
	for _, tc := range []struct {
		name                      string
		scope, record, purpose    string
	}{
		{"scope", "t2", "r1", PurposeDetails},
		{"record", "t1", "r2", PurposeDetails},
		{"purpose", "t1", "r1", PurposeOverview},
	} {
		got, err := Build(tc.scope, tc.record, tc.purpose, Current)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if bytes.Equal(base, got) {
			t.Fatalf("changing %s must change the AAD", tc.name)
		}
	}
}

func TestBuildVersionNone(t *testing.T) {
	b, err := Build("", "", "", VersionNone)
	if err != nil {
		t.Fatalf("version 0: %v", err)
	}
	if b != nil {
		t.Fatal("version 0 must produce nil AAD")
	}
}

func TestBuildUnknownVersion(t *testing.T) {
	if _, err := Build("t", "r", PurposeDetails, 99); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestBuildEmptyFields(t *testing.T) {
	if _, err := Build("", "r", PurposeDetails, Current); err == nil {
		t.Fatal("expected error for empty scope id")
	}
	if _, err := Build("t", " ", PurposeDetails, Current); err == nil {
		t.Fatal("expected error for blank record id")
	}
	if _, err := Build("t", "r", "", Current); err == nil {
		t.Fatal("expected error for empty purpose")
	}
}
