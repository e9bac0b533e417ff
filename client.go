// Package storage is a local, on-disk emulation of a hosted web-scraping
// storage service. It presents three logical storage families — Datasets,
// Key-Value Stores, and Request Queues — behind a single Client, so crawler
// code can swap between this local backend and a remote one without change.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"dario.cat/mergo"
	"golang.org/x/sync/errgroup"

	"github.com/apify/storage-local-go/internal/config"
	"github.com/apify/storage-local-go/internal/datasetfs"
	"github.com/apify/storage-local-go/internal/dbcache"
	"github.com/apify/storage-local-go/internal/journal"
	"github.com/apify/storage-local-go/internal/kvfs"
	"github.com/apify/storage-local-go/internal/requestqueue"
)

const (
	defaultStoreName      = "default"
	datasetsDirName       = "datasets"
	keyValueStoresDirName = "key_value_stores"
	requestQueuesDirName  = "request_queues"
	maxCachedQueueHandles = 32
)

// Options configures a Client beyond what Config covers. Zero-value fields
// are filled from Defaults() via mergo, the same merge-over-defaults
// pattern the teacher's config layer uses for its own struct.
type Options struct {
	// Logger receives diagnostic output (including failed journal appends).
	// Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// EnableJournal turns on the hash-chained operation journal (C7). Off by
	// default; the journal is observability only and never required for
	// correctness.
	EnableJournal bool

	// MaxCachedQueueHandles bounds the request-queue connection LRU cache
	// (internal/dbcache). Defaults to 32.
	MaxCachedQueueHandles int
}

// Defaults returns the Options a Client uses when the caller supplies none.
func Defaults() Options {
	return Options{
		Logger:                slog.Default(),
		MaxCachedQueueHandles: maxCachedQueueHandles,
	}
}

// Client is the storage root: one on-disk directory tree, lazily populated
// with datasets/, key_value_stores/ and request_queues/ subdirectories as
// each family is first touched.
type Client struct {
	cfg     config.Config
	opts    Options
	logger  *slog.Logger
	journal *journal.Logger

	mu         sync.Mutex
	warnedDirs map[string]bool

	datasets       *datasetfs.Manager
	keyValueStores *kvfs.Manager
	requestQueues  *requestqueue.Manager
	dbCache        *dbcache.Cache
}

// NewClient opens (without yet creating any subdirectory) a storage root
// at cfg.StorageDir, merging opts over Defaults().
func NewClient(cfg config.Config, opts Options) (*Client, error) {
	merged := Defaults()
	if err := mergo.Merge(&merged, opts, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("storage: merge options: %w", err)
	}
	logger := merged.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var jlog *journal.Logger
	if merged.EnableJournal {
		path := filepath.Join(cfg.StorageDir, "journal.log")
		if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: cannot create storage dir: %w", err)
		}
		l, err := journal.Open(path)
		if err != nil {
			return nil, fmt.Errorf("storage: cannot open operation journal: %w", err)
		}
		jlog = l
	}

	cache := dbcache.New(dbcache.Options{
		MaxHandles:    merged.MaxCachedQueueHandles,
		EnableWalMode: cfg.EnableWalMode,
	})

	c := &Client{
		cfg:            cfg,
		opts:           merged,
		logger:         logger,
		journal:        jlog,
		warnedDirs:     make(map[string]bool),
		datasets:       datasetfs.NewManager(filepath.Join(cfg.StorageDir, datasetsDirName)),
		keyValueStores: kvfs.NewManager(filepath.Join(cfg.StorageDir, keyValueStoresDirName)),
		requestQueues:  requestqueue.NewManager(filepath.Join(cfg.StorageDir, requestQueuesDirName), cache, nil),
		dbCache:        cache,
	}
	return c, nil
}

// Close releases any held resources (cached database handles, the
// operation journal). Safe to call once after the last family operation.
func (c *Client) Close() error {
	var errs []error
	if c.dbCache != nil {
		c.dbCache.CloseAll()
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var err error
	for _, e := range errs {
		if err == nil {
			err = e
		} else {
			err = fmt.Errorf("%w; %v", err, e)
		}
	}
	return err
}

// ensureFamilyDir lazily creates a family's root directory on first access
// and, per spec.md §6, warns once if it already contains populated
// per-item directories other than a reserved INPUT record.
func (c *Client) ensureFamilyDir(dir, familyLabel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, statErr := os.Stat(dir)
	existedBefore := statErr == nil
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: cannot create %s directory: %w", familyLabel, err)
	}
	if existedBefore && !c.warnedDirs[dir] {
		if populated, names := nonEmptySubdirs(dir); populated {
			c.logger.Warn("storage directory already populated",
				slog.String("family", familyLabel),
				slog.Any("directories", names),
			)
		}
		c.warnedDirs[dir] = true
	}
	return nil
}

// nonEmptySubdirs reports whether dir contains any per-item subdirectory
// with at least one file other than a reserved INPUT record, and names them.
func nonEmptySubdirs(dir string) (bool, []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		items, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		for _, item := range items {
			if item.Name() == kvfs.InputRecordKey || hasBasename(item.Name(), kvfs.InputRecordKey) {
				continue
			}
			names = append(names, e.Name())
			break
		}
	}
	return len(names) > 0, names
}

func hasBasename(fileName, basename string) bool {
	ext := filepath.Ext(fileName)
	return fileName[:len(fileName)-len(ext)] == basename
}

// Purge empties the three default containers (default dataset, default
// request queue, default key-value store), preserving any key-value record
// named INPUT. The three family purges run concurrently
// (golang.org/x/sync/errgroup), since they touch independent directories.
func (c *Client) Purge(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.purgeDataset(ctx, defaultStoreName) })
	g.Go(func() error { return c.purgeRequestQueue(ctx, defaultStoreName) })
	g.Go(func() error { return c.purgeKeyValueStore(ctx, defaultStoreName) })

	err := g.Wait()
	c.appendJournal(journal.Event{Family: "root", Operation: "purge", Name: defaultStoreName})
	return err
}

func (c *Client) purgeDataset(ctx context.Context, name string) error {
	return c.datasets.Delete(name)
}

func (c *Client) purgeRequestQueue(ctx context.Context, name string) error {
	dir := filepath.Join(c.cfg.StorageDir, requestQueuesDirName, name)
	if err := c.dbCache.Close(filepath.Join(dir, "db.sqlite")); err != nil {
		c.logger.Warn("purge: closing request queue handle", slog.String("queue", name), slog.Any("error", err))
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: purge request queue %q: %w", name, err)
	}
	return nil
}

func (c *Client) purgeKeyValueStore(ctx context.Context, name string) error {
	store, err := c.keyValueStores.GetOrCreate(name)
	if err != nil {
		return err
	}
	keys, err := store.ListKeys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == kvfs.InputRecordKey {
			continue
		}
		if err := store.DeleteRecord(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) appendJournal(ev journal.Event) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Append(ev); err != nil {
		c.logger.Warn("journal append failed", slog.Any("error", err), slog.String("operation", ev.Operation))
	}
}
