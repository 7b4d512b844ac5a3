package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T, s Store) {
	t.Helper()

	ok, err := s.Exists("rows/1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("rows/1 should not exist yet")
	}
	if _, err := s.Read("rows/1"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("read missing: got %v, want ErrNotExist", err)
	}

	payload := []byte("hello hello hello hello")
	if err := s.Write("rows/1", payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write("rows/1", append(payload, '!')); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	ok, err = s.Exists("rows/1")
	if err != nil || !ok {
		t.Fatalf("exists after write: ok=%v err=%v", ok, err)
	}
	got, err := s.Read("rows/1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, append(payload, '!')) {
		t.Errorf("read = %q", got)
	}
}

func TestFileStore(t *testing.T) {
	for _, compress := range []bool{false, true} {
		s, err := NewFileStore(t.TempDir(), compress)
		if err != nil {
			t.Fatal(err)
		}
		testStore(t, s)
	}
}

func TestFileStoreRejectsEscapingNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write("../outside", []byte("x")); err == nil {
		t.Error("expected error for escaping name")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)

	if err := s.WriteBatch(map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	got, err := s.Read("b")
	if err != nil || string(got) != "2" {
		t.Errorf("read b = %q, %v", got, err)
	}
}
