package cache

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test-cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("proc p {} {}"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)
	source := "proc p {} { return 1 }"
	steps := `[[{"kind":"tcl","text":"1"}]]`

	if err := s.Put(source, steps); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(source)
	if err != nil {
		t.Fatal(err)
	}
	if got != steps {
		t.Errorf("Get = %q, want %q", got, steps)
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)
	source := "proc p {} { return 1 }"

	if err := s.Put(source, "old"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(source, "new"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(source)
	if err != nil {
		t.Fatal(err)
	}
	if got != "new" {
		t.Errorf("Get = %q, want \"new\"", got)
	}
	n, err := s.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Len = %d, want 1 after replacing", n)
	}
}

func TestDistinctSources(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("a", "steps-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("b", "steps-b"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if got != "steps-a" {
		t.Errorf("Get(a) = %q", got)
	}
	n, err := s.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestKeyStable(t *testing.T) {
	if Key("x") != Key("x") {
		t.Error("key is not deterministic")
	}
	if Key("x") == Key("y") {
		t.Error("distinct sources should have distinct keys")
	}
	if len(Key("x")) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(Key("x")))
	}
}

func TestPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("src", "steps"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.Get("src")
	if err != nil {
		t.Fatal(err)
	}
	if got != "steps" {
		t.Errorf("Get after reopen = %q", got)
	}
}
