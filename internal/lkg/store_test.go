package lkg

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rampart-fw/rampart/internal/policy"
)

func testDoc(version string) *policy.Document {
	return &policy.Document{
		Version:       version,
		DefaultAction: "block",
		Rules: []policy.RuleDocument{{
			ID:        "allow-ssh",
			Action:    "allow",
			Direction: "inbound",
			Protocol:  "tcp",
			Local:     policy.EndpointDocument{Ports: "22"},
		}},
	}
}

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lkg.json")
	store := NewStore(path, nil)

	appliedAt := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if err := store.Save(testDoc("v7"), appliedAt); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.PolicyVersion != "v7" {
		t.Errorf("PolicyVersion = %q, want v7", rec.PolicyVersion)
	}
	if !rec.AppliedAt.Equal(appliedAt) {
		t.Errorf("AppliedAt = %v, want %v", rec.AppliedAt, appliedAt)
	}
	if rec.Policy == nil || len(rec.Policy.Rules) != 1 {
		t.Errorf("Policy did not round-trip: %+v", rec.Policy)
	}
}

func TestStore_NoBaseline(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "lkg.json"), nil)
	if _, err := store.Load(); !errors.Is(err, ErrNoBaseline) {
		t.Errorf("Load() error = %v, want ErrNoBaseline", err)
	}
}

func TestStore_SaveReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lkg.json")
	store := NewStore(path, nil)

	if err := store.Save(testDoc("old"), time.Now()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(testDoc("new"), time.Now()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.PolicyVersion != "new" {
		t.Errorf("PolicyVersion = %q, want new", rec.PolicyVersion)
	}

	// The temp file must not linger.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir has %d entries, want just the baseline", len(entries))
	}
}

func TestStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "lkg.json")
	store := NewStore(path, nil)
	if err := store.Save(testDoc("v1"), time.Now()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("baseline mode = %o, want 600", perm)
	}
}

func TestStore_CorruptBaseline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lkg.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewStore(path, nil)
	_, err := store.Load()
	if err == nil {
		t.Fatal("Load() accepted corrupt baseline")
	}
	if errors.Is(err, ErrNoBaseline) {
		t.Error("corrupt baseline must not read as ErrNoBaseline")
	}
}
