// Package kvfs implements the Key-Value Store client (spec.md §6): blob
// storage keyed by string, one file per record, named by key plus an
// extension inferred from the record's content-type. Like datasetfs, it is
// specified only by its external interface.
package kvfs

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/apify/storage-local-go/internal/storeerr"
)

const defaultExt = ".bin"

// InputRecordKey is the reserved record basename preserved by purge
// (spec.md §6): "preserves any file in the key-value default whose basename
// matches INPUT".
const InputRecordKey = "INPUT"

// Manager is the Key-Value Store collection client.
type Manager struct {
	baseDir string
}

// NewManager returns a Manager rooted at baseDir (normally
// <storageDir>/key_value_stores).
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

func (m *Manager) dir(name string) string { return filepath.Join(m.baseDir, name) }

// GetOrCreate ensures the named store's directory exists and returns a
// Client bound to it.
func (m *Manager) GetOrCreate(name string) (*Client, error) {
	if name == "" {
		return nil, &storeerr.InvalidArgumentError{Message: "key-value store name is required"}
	}
	dir := m.dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.NewStorageError(dir, "mkdir", err)
	}
	return &Client{dir: dir, name: name}, nil
}

// Delete removes the store's directory entirely.
func (m *Manager) Delete(name string) error {
	dir := m.dir(name)
	if err := os.RemoveAll(dir); err != nil {
		return storeerr.NewStorageError(dir, "remove", err)
	}
	return nil
}

// Record is one key-value entry.
type Record struct {
	Key         string
	ContentType string
	Value       []byte
}

// Client is one key-value store.
type Client struct {
	mu   sync.Mutex
	dir  string
	name string
}

// Name returns the store's display name.
func (c *Client) Name() string { return c.name }

// extensionFor picks the file extension for a record: the caller's
// content-type when it names a known one, otherwise a mimetype.Detect
// sniff of the payload, falling back to defaultExt.
func extensionFor(contentType string, value []byte) string {
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.TrimSpace(base)
	if base != "" && base != "application/octet-stream" {
		if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if ext := mimetype.Detect(value).Extension(); ext != "" {
		return ext
	}
	return defaultExt
}

func (c *Client) recordPath(key, ext string) string {
	return filepath.Join(c.dir, key+ext)
}

// findExisting returns the full path of a previously-written record for
// key, regardless of which extension it was stored with, or "" if absent.
func (c *Client) findExisting(key string) (string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return "", storeerr.NewStorageError(c.dir, "readdir", err)
	}
	for _, e := range entries {
		name := e.Name()
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if base == key {
			return filepath.Join(c.dir, name), nil
		}
	}
	return "", nil
}

// SetRecord writes value under key, replacing any prior record (even one
// stored under a different inferred extension), atomically via a
// uuid-suffixed temp file renamed into place.
func (c *Client) SetRecord(ctx context.Context, r Record) error {
	if r.Key == "" {
		return &storeerr.InvalidArgumentError{Message: "record key is required"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.findExisting(r.Key)
	if err != nil {
		return err
	}
	ext := extensionFor(r.ContentType, r.Value)
	dest := c.recordPath(r.Key, ext)

	tmp := filepath.Join(c.dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, r.Value, 0o644); err != nil {
		return storeerr.NewStorageError(tmp, "write temp", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return storeerr.NewStorageError(dest, "rename", err)
	}
	if existing != "" && existing != dest {
		_ = os.Remove(existing)
	}
	return nil
}

// GetRecord reads back the record stored under key.
func (c *Client) GetRecord(ctx context.Context, key string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.findExisting(key)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, storeerr.ErrRecordNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, storeerr.NewStorageError(path, "read", err)
	}
	ext := filepath.Ext(path)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return &Record{Key: key, ContentType: contentType, Value: data}, nil
}

// DeleteRecord removes the record stored under key, if any. Deleting an
// absent key is a no-op.
func (c *Client) DeleteRecord(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.findExisting(key)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return storeerr.NewStorageError(path, "remove", err)
	}
	return nil
}

// ListKeys returns every record key currently stored, in directory order.
// Used by the storage root's purge operation to preserve InputRecordKey.
func (c *Client) ListKeys() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, storeerr.NewStorageError(c.dir, "readdir", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	return keys, nil
}
