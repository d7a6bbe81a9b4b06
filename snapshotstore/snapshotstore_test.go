package snapshotstore

import (
	"path/filepath"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.Put("abc", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	blob, ok, err := store.Get("abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(blob) != "hello" {
		t.Fatalf("expected hello, got %q ok=%v", blob, ok)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "abc" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := store.Delete("abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Get("abc"); err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	_, ok, err := store.Get("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}
