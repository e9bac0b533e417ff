// Package datasetfs implements the Dataset client (spec.md §6): an
// append-only, ordered log of JSON items, one file per item, named by a
// zero-padded sequence number. It is specified only by its external
// interface; the implementation follows the same atomic-write discipline
// used throughout this module's file-backed storage families.
package datasetfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/apify/storage-local-go/internal/storeerr"
)

// indexWidth is the zero-padded width of an item's filename, per spec.md §6
// ("<9-digit-zero-padded-index>.json").
const indexWidth = 9

var itemFilePattern = regexp.MustCompile(`^(\d{9})\.json$`)

// Manager is the Dataset collection client: it ensures a per-dataset
// directory exists and returns a Client bound to it.
type Manager struct {
	baseDir string
}

// NewManager returns a Manager rooted at baseDir (normally
// <storageDir>/datasets).
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

func (m *Manager) dir(name string) string { return filepath.Join(m.baseDir, name) }

// GetOrCreate ensures the named dataset's directory exists and returns a
// Client scanning its current item count.
func (m *Manager) GetOrCreate(name string) (*Client, error) {
	if name == "" {
		return nil, &storeerr.InvalidArgumentError{Message: "dataset name is required"}
	}
	dir := m.dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.NewStorageError(dir, "mkdir", err)
	}
	count, err := countItems(dir)
	if err != nil {
		return nil, err
	}
	return &Client{dir: dir, name: name, nextIndex: count + 1}, nil
}

// Delete removes the dataset's directory entirely.
func (m *Manager) Delete(name string) error {
	dir := m.dir(name)
	if err := os.RemoveAll(dir); err != nil {
		return storeerr.NewStorageError(dir, "remove", err)
	}
	return nil
}

func countItems(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, storeerr.NewStorageError(dir, "readdir", err)
	}
	max := 0
	for _, e := range entries {
		m := itemFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// Client is one dataset: an append-only sequence of JSON item files.
type Client struct {
	mu        sync.Mutex
	dir       string
	name      string
	nextIndex int
}

// Name returns the dataset's display name.
func (c *Client) Name() string { return c.name }

func (c *Client) itemPath(index int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%0*d.json", indexWidth, index))
}

// PushItem appends item as the next numbered JSON file, written atomically
// via a uuid-suffixed temp file renamed into place, so a crash mid-write
// never leaves a torn item on disk.
func (c *Client) PushItem(ctx context.Context, item interface{}) (int, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.nextIndex
	dest := c.itemPath(index)
	if err := writeFileAtomic(c.dir, dest, payload); err != nil {
		return 0, err
	}
	c.nextIndex++
	return index, nil
}

// Count returns the number of items currently stored.
func (c *Client) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextIndex - 1
}

// GetItems returns up to limit items starting at offset (0-based, ascending
// by index). limit <= 0 means "no limit".
func (c *Client) GetItems(offset, limit int) ([]json.RawMessage, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, storeerr.NewStorageError(c.dir, "readdir", err)
	}
	var names []string
	for _, e := range entries {
		if itemFilePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(names) {
		return []json.RawMessage{}, nil
	}
	names = names[offset:]
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}

	items := make([]json.RawMessage, 0, len(names))
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(c.dir, n))
		if err != nil {
			return nil, storeerr.NewStorageError(filepath.Join(c.dir, n), "read", err)
		}
		items = append(items, json.RawMessage(data))
	}
	return items, nil
}

// writeFileAtomic writes data to a uuid-suffixed temp file in dir, then
// renames it over dest.
func writeFileAtomic(dir, dest string, data []byte) error {
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storeerr.NewStorageError(tmp, "write temp", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return storeerr.NewStorageError(dest, "rename", err)
	}
	return nil
}
