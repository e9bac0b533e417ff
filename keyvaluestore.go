package storage

import (
	"context"
	"path/filepath"

	"github.com/apify/storage-local-go/internal/journal"
	"github.com/apify/storage-local-go/internal/kvfs"
)

// KeyValueStore is blob storage keyed by string, one file per record
// (spec.md §1, §6).
type KeyValueStore struct {
	client *Client
	inner  *kvfs.Client
}

// Record is one key-value entry.
type Record = kvfs.Record

// InputRecordKey is the reserved record basename Purge preserves.
const InputRecordKey = kvfs.InputRecordKey

// OpenKeyValueStore returns the named key-value store, creating its
// directory on first access.
func (c *Client) OpenKeyValueStore(ctx context.Context, name string) (*KeyValueStore, error) {
	dir := filepath.Join(c.cfg.StorageDir, keyValueStoresDirName)
	if err := c.ensureFamilyDir(dir, "key-value store"); err != nil {
		return nil, err
	}
	inner, err := c.keyValueStores.GetOrCreate(name)
	if err != nil {
		return nil, err
	}
	return &KeyValueStore{client: c, inner: inner}, nil
}

// Name returns the store's display name.
func (s *KeyValueStore) Name() string { return s.inner.Name() }

// GetRecord reads back the record stored under key.
func (s *KeyValueStore) GetRecord(ctx context.Context, key string) (*Record, error) {
	return s.inner.GetRecord(ctx, key)
}

// SetRecord writes a record, replacing any prior value under the same key.
func (s *KeyValueStore) SetRecord(ctx context.Context, r Record) error {
	err := s.inner.SetRecord(ctx, r)
	if err == nil {
		s.client.appendJournal(journal.Event{Family: "kv", Operation: "setRecord", Name: s.Name()})
	}
	return err
}

// DeleteRecord removes the record stored under key, if any.
func (s *KeyValueStore) DeleteRecord(ctx context.Context, key string) error {
	err := s.inner.DeleteRecord(ctx, key)
	if err == nil {
		s.client.appendJournal(journal.Event{Family: "kv", Operation: "deleteRecord", Name: s.Name()})
	}
	return err
}

// ListKeys returns every record key currently stored.
func (s *KeyValueStore) ListKeys() ([]string, error) {
	return s.inner.ListKeys()
}
