// Package dbcache implements the process-wide cache of open SQLite handles
// described in spec.md §4.1: one handle per absolute database-file path,
// shared by every caller in the process so that each queue file has exactly
// one writer.
package dbcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/apify/storage-local-go/internal/storeerr"
)

// DefaultMaxHandles bounds the number of simultaneously open database
// handles the cache keeps before evicting the least-recently-used one. A
// long-running crawler process may call getOrCreate on many queues over its
// lifetime; without a bound, every queue ever touched would keep an open
// file descriptor and WAL files forever.
const DefaultMaxHandles = 64

// Options configures a Cache.
type Options struct {
	// MaxHandles bounds the number of cached handles. Zero selects
	// DefaultMaxHandles.
	MaxHandles int
	// EnableWalMode selects WAL journaling for handles opened after this
	// setting is applied. SetWalMode changes it for future Open calls only.
	EnableWalMode bool
}

// Cache is a process-wide cache of open *sql.DB handles keyed by absolute
// database file path. It is safe for concurrent use. The zero value is not
// usable; construct one with New.
type Cache struct {
	mu      sync.Mutex
	handles *lru.Cache[string, *sql.DB]
	walMode bool
}

// New constructs a Cache. Passing a zero Options selects DefaultMaxHandles
// handles and, since EnableWalMode is then false, the rollback (DELETE)
// journal.
func New(opts Options) *Cache {
	if opts.MaxHandles <= 0 {
		opts.MaxHandles = DefaultMaxHandles
	}
	c := &Cache{walMode: opts.EnableWalMode}
	handles, err := lru.NewWithEvict[string, *sql.DB](opts.MaxHandles, func(_ string, db *sql.DB) {
		_ = db.Close()
	})
	if err != nil {
		// Only returns an error for a non-positive size, which cannot happen
		// after the guard above.
		panic(fmt.Sprintf("dbcache: lru.New: %v", err))
	}
	c.handles = handles
	return c
}

// SetWalMode affects handles opened after the call returns; already-open
// handles are unaffected, matching spec.md §4.1.
func (c *Cache) SetWalMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.walMode = enabled
}

// Open returns the cached handle for path if present, otherwise opens it,
// applies the journaling and foreign-key pragmas, stores it, and returns it.
// If the parent directory of path does not exist, Open fails with an error
// that wraps os.ErrNotExist (match it with errors.Is) so callers can
// distinguish it from other failures.
func (c *Cache) Open(path string) (*sql.DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, storeerr.NewStorageError(path, "open", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.handles.Get(abs); ok {
		return db, nil
	}

	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dbcache: directory for %q does not exist: %w", abs, os.ErrNotExist)
		}
		return nil, storeerr.NewStorageError(abs, "open", err)
	}

	dsn := "file:" + abs + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeerr.NewStorageError(abs, "open", err)
	}

	// One queue per file, one writer per file: database/sql's own pool must
	// never hand out a second concurrent connection for this path.
	db.SetMaxOpenConns(1)

	journalMode := "DELETE"
	if c.walMode {
		journalMode = "WAL"
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA journal_mode = %s", journalMode)); err != nil {
		_ = db.Close()
		return nil, storeerr.NewStorageError(abs, "set journal_mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, storeerr.NewStorageError(abs, "set foreign_keys", err)
	}

	if evicted := c.handles.Add(abs, db); evicted {
		// The Add call itself triggers the eviction callback for the LRU
		// victim, closing its handle; nothing further to do here.
		_ = evicted
	}
	return db, nil
}

// Close closes and removes the cached handle for path, if any. It is a
// no-op if path is not cached.
func (c *Cache) Close(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return storeerr.NewStorageError(path, "close", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.handles.Peek(abs); ok {
		c.handles.Remove(abs) // triggers the evict callback, closing db
		_ = db
	}
	return nil
}

// CloseAll closes every cached handle and empties the cache.
func (c *Cache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles.Purge() // triggers the evict callback for every entry
}
