package cache

import (
	"errors"
	"testing"
)

func TestFSCacheStoreGet(t *testing.T) {
	c := NewFSCacheAt(t.TempDir())

	if _, err := c.Get("eth", 100, "eth_getCode", "abc"); !errors.Is(err, Miss) {
		t.Fatalf("expected Miss on empty cache, got %v", err)
	}

	if err := c.Store("eth", 100, "eth_getCode", "abc", "0xdeadbeef"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := c.Get("eth", 100, "eth_getCode", "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "0xdeadbeef" {
		t.Fatalf("got %q, want 0xdeadbeef", got)
	}
}

func TestFSCacheClone(t *testing.T) {
	c := NewFSCacheAt(t.TempDir())
	clone := c.Clone()

	if err := clone.Store("eth", 1, "eth_getBalance", "x", "0x1"); err != nil {
		t.Fatalf("Store via clone: %v", err)
	}
	got, err := c.Get("eth", 1, "eth_getBalance", "x")
	if err != nil {
		t.Fatalf("Get via original after clone store: %v", err)
	}
	if got != "0x1" {
		t.Fatalf("got %q, want 0x1", got)
	}
}
