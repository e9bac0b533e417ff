package requestqueue

import (
	"context"
	"os"
	"path/filepath"

	"github.com/apify/storage-local-go/internal/dbcache"
	"github.com/apify/storage-local-go/internal/storeerr"
)

// dbFileName is the queue database's basename within its directory, per the
// on-disk layout in spec.md §6 (<root>/request_queues/<name>/db.sqlite).
const dbFileName = "db.sqlite"

// Manager is the Request Queue collection client (spec.md §4, C4): it owns
// the request_queues/ directory, ensures a per-queue directory and database
// row exist (GetOrCreate), and performs the directory/handle choreography
// Rename and Delete require.
type Manager struct {
	baseDir string
	cache   *dbcache.Cache
	clock   Clock
}

// NewManager returns a Manager rooted at baseDir (normally
// <storageDir>/request_queues), sharing cache for connection pooling.
func NewManager(baseDir string, cache *dbcache.Cache, clock Clock) *Manager {
	return &Manager{baseDir: baseDir, cache: cache, clock: clock}
}

func (m *Manager) queueDir(name string) string { return filepath.Join(m.baseDir, name) }
func (m *Manager) dbPath(name string) string   { return filepath.Join(m.queueDir(name), dbFileName) }

// GetOrCreate ensures the named queue's directory and database row exist
// and returns a Client bound to it.
func (m *Manager) GetOrCreate(ctx context.Context, name string) (*Client, error) {
	if name == "" {
		return nil, &storeerr.InvalidArgumentError{Message: "queue name is required"}
	}
	dir := m.queueDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.NewStorageError(dir, "mkdir", err)
	}

	db, err := m.cache.Open(m.dbPath(name))
	if err != nil {
		return nil, err
	}
	store, err := NewStore(db, m.dbPath(name), m.clock)
	if err != nil {
		return nil, err
	}
	row, err := store.SelectOrInsertByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return newClient(store, row), nil
}

// Rename disconnects the handle, renames the directory, reconnects, and
// updates the stored name. Fails with NameConflictError if the target
// directory already exists.
func (m *Manager) Rename(ctx context.Context, c *Client, newName string) error {
	if newName == "" {
		return &storeerr.InvalidArgumentError{Message: "new queue name is required"}
	}
	newDir := m.queueDir(newName)
	if _, err := os.Stat(newDir); err == nil {
		return &storeerr.NameConflictError{Name: newName}
	} else if !os.IsNotExist(err) {
		return storeerr.NewStorageError(newDir, "stat", err)
	}

	oldName := c.Name()
	oldPath := m.dbPath(oldName)
	if err := m.cache.Close(oldPath); err != nil {
		return err
	}
	if err := os.Rename(m.queueDir(oldName), newDir); err != nil {
		return storeerr.NewStorageError(newDir, "rename", err)
	}

	db, err := m.cache.Open(m.dbPath(newName))
	if err != nil {
		return err
	}
	c.store.db = db
	if err := c.store.RenameQueue(ctx, c.queueID, newName); err != nil {
		return err
	}
	c.renamed(newName)
	return nil
}

// Delete disconnects the handle and removes the queue's directory.
func (m *Manager) Delete(c *Client) error {
	path := m.dbPath(c.Name())
	if err := m.cache.Close(path); err != nil {
		return err
	}
	dir := m.queueDir(c.Name())
	if err := os.RemoveAll(dir); err != nil {
		return storeerr.NewStorageError(dir, "remove", err)
	}
	return nil
}
