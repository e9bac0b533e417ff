package dbcache_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apify/storage-local-go/internal/dbcache"
)

func TestOpen_ReturnsSameHandleOnSecondCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.sqlite")

	c := dbcache.New(dbcache.Options{EnableWalMode: true})
	defer c.CloseAll()

	db1, err := c.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db2, err := c.Open(path)
	if err != nil {
		t.Fatalf("Open (second): %v", err)
	}
	if db1 != db2 {
		t.Error("Open returned different handles for the same path")
	}
}

func TestOpen_MissingParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "db.sqlite")

	c := dbcache.New(dbcache.Options{})
	defer c.CloseAll()

	_, err := c.Open(path)
	if err == nil {
		t.Fatal("expected error for missing parent directory, got nil")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v is not a not-exist error", err)
	}
}

func TestClose_RemovesHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.sqlite")

	c := dbcache.New(dbcache.Options{})
	defer c.CloseAll()

	db1, err := c.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(path); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db2, err := c.Open(path)
	if err != nil {
		t.Fatalf("Open (after close): %v", err)
	}
	if db1 == db2 {
		t.Error("expected a new handle after Close, got the same one")
	}
}

func TestClose_NoOpWhenNotCached(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.sqlite")

	c := dbcache.New(dbcache.Options{})
	if err := c.Close(path); err != nil {
		t.Fatalf("Close on uncached path: %v", err)
	}
}

func TestCloseAll_ClosesEveryHandle(t *testing.T) {
	dir := t.TempDir()

	c := dbcache.New(dbcache.Options{})
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, "db"+string(rune('0'+i))+".sqlite")
		if _, err := c.Open(path); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	c.CloseAll()

	// Re-opening after CloseAll must succeed (a fresh handle is created).
	path := filepath.Join(dir, "db0.sqlite")
	if _, err := c.Open(path); err != nil {
		t.Fatalf("Open after CloseAll: %v", err)
	}
}

func TestOpen_EvictsLeastRecentlyUsedBeyondMaxHandles(t *testing.T) {
	dir := t.TempDir()

	c := dbcache.New(dbcache.Options{MaxHandles: 2})
	defer c.CloseAll()

	pathA := filepath.Join(dir, "a.sqlite")
	pathB := filepath.Join(dir, "b.sqlite")
	pathC := filepath.Join(dir, "c.sqlite")

	dbA, err := c.Open(pathA)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	if _, err := c.Open(pathB); err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if _, err := c.Open(pathC); err != nil {
		t.Fatalf("Open c: %v", err)
	}

	// a should have been evicted; re-opening it must yield a new handle.
	dbA2, err := c.Open(pathA)
	if err != nil {
		t.Fatalf("Open a again: %v", err)
	}
	if dbA == dbA2 {
		t.Error("expected a to have been evicted and reopened as a new handle")
	}
}
