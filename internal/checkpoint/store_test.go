package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"
)

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "checkpoint.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
	if _, ok := s.LastAnswered("alice"); ok {
		t.Error("empty store should have no entries")
	}
}

func TestRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Record("alice", "Hi there"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record("bob", "Question?"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Simulated restart: the answered set survives.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if text, ok := reloaded.LastAnswered("alice"); !ok || text != "Hi there" {
		t.Errorf("alice = %q, %v", text, ok)
	}
	if text, ok := reloaded.LastAnswered("bob"); !ok || text != "Question?" {
		t.Errorf("bob = %q, %v", text, ok)
	}
}

func TestRecordOverwrites(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "checkpoint.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Record("alice", "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("alice", "second"); err != nil {
		t.Fatal(err)
	}
	if text, _ := s.LastAnswered("alice"); text != "second" {
		t.Errorf("alice = %q, want %q", text, "second")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestUnknownKeysSurvive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	seed := `{"alice": "old", "_meta": {"written_by": "another tool"}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Record("bob", "new"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if gjson.GetBytes(raw, "_meta.written_by").String() != "another tool" {
		t.Errorf("non-string key lost on rewrite: %s", raw)
	}
	if gjson.GetBytes(raw, "alice").String() != "old" {
		t.Errorf("existing entry lost on rewrite: %s", raw)
	}
}

func TestContactNamesWithMetachars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	names := []string{"dr. strange", "a*b", "who?", "pipe|name"}
	for _, name := range names {
		if err := s.Record(name, "answered "+name); err != nil {
			t.Fatalf("Record(%q): %v", name, err)
		}
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if text, ok := reloaded.LastAnswered(name); !ok || text != "answered "+name {
			t.Errorf("LastAnswered(%q) = %q, %v", name, text, ok)
		}
	}
	if reloaded.Len() != len(names) {
		t.Errorf("Len = %d, want %d", reloaded.Len(), len(names))
	}
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record("alice", "Hi there"); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len after reset = %d", s.Len())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("checkpoint file should be removed")
	}

	// Reset on an already-missing file is fine.
	if err := s.Reset(); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}
