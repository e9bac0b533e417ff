package storage

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/apify/storage-local-go/internal/datasetfs"
	"github.com/apify/storage-local-go/internal/journal"
)

// Dataset is an append-only, ordered log of JSON items (spec.md §1, §6).
type Dataset struct {
	client *Client
	inner  *datasetfs.Client
}

// OpenDataset returns the named dataset, creating its directory on first
// access.
func (c *Client) OpenDataset(ctx context.Context, name string) (*Dataset, error) {
	datasetsDir := filepath.Join(c.cfg.StorageDir, datasetsDirName)
	if err := c.ensureFamilyDir(datasetsDir, "dataset"); err != nil {
		return nil, err
	}
	inner, err := c.datasets.GetOrCreate(name)
	if err != nil {
		return nil, err
	}
	return &Dataset{client: c, inner: inner}, nil
}

// Name returns the dataset's display name.
func (d *Dataset) Name() string { return d.inner.Name() }

// PushItem appends item as the next numbered record.
func (d *Dataset) PushItem(ctx context.Context, item interface{}) (int, error) {
	idx, err := d.inner.PushItem(ctx, item)
	if err == nil {
		d.client.appendJournal(journal.Event{Family: "dataset", Operation: "pushItem", Name: d.Name()})
	}
	return idx, err
}

// GetItems returns up to limit items starting at offset (0-based, ascending
// by index); limit <= 0 means no limit.
func (d *Dataset) GetItems(ctx context.Context, offset, limit int) ([]json.RawMessage, error) {
	return d.inner.GetItems(offset, limit)
}

// Count returns the number of items currently stored.
func (d *Dataset) Count() int { return d.inner.Count() }
