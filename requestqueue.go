package storage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/apify/storage-local-go/internal/journal"
	"github.com/apify/storage-local-go/internal/requestqueue"
)

// RequestQueue is a disciplined work queue for URL crawling, backed by a
// per-queue embedded SQLite database (spec.md §1–§5).
type RequestQueue struct {
	client *Client
	inner  *requestqueue.Client
}

// Request, QueueInfo and the per-operation option/result types are
// re-exported verbatim: the internal engine's shapes already match the
// external wire contract spec.md §6 describes.
type (
	Request                   = requestqueue.Request
	QueueInfo                 = requestqueue.QueueInfo
	ListHeadResult            = requestqueue.ListHeadResult
	AddRequestOptions         = requestqueue.AddRequestOptions
	AddRequestResult          = requestqueue.AddRequestResult
	ProcessedRequest          = requestqueue.ProcessedRequest
	BatchAddRequestsResult    = requestqueue.BatchAddRequestsResult
	ListAndLockHeadOptions    = requestqueue.ListAndLockHeadOptions
	ProlongRequestLockOptions = requestqueue.ProlongRequestLockOptions
	DeleteRequestLockOptions  = requestqueue.DeleteRequestLockOptions
)

// OpenRequestQueue returns the named request queue, creating its directory
// and database file on first access.
func (c *Client) OpenRequestQueue(ctx context.Context, name string) (*RequestQueue, error) {
	dir := filepath.Join(c.cfg.StorageDir, requestQueuesDirName)
	if err := c.ensureFamilyDir(dir, "request queue"); err != nil {
		return nil, err
	}
	inner, err := c.requestQueues.GetOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}
	return &RequestQueue{client: c, inner: inner}, nil
}

// RenameRequestQueue changes the queue's on-disk directory and stored name.
func (c *Client) RenameRequestQueue(ctx context.Context, q *RequestQueue, newName string) error {
	return c.requestQueues.Rename(ctx, q.inner, newName)
}

// DeleteRequestQueue removes the queue's directory and database entirely.
func (c *Client) DeleteRequestQueue(q *RequestQueue) error {
	return c.requestQueues.Delete(q.inner)
}

// Name returns the queue's display name.
func (q *RequestQueue) Name() string { return q.inner.Name() }

// Get returns the queue's current counters and timestamps.
func (q *RequestQueue) Get(ctx context.Context) (*QueueInfo, error) {
	return q.inner.Get(ctx)
}

// ListHead returns the limit lowest-orderNo pending requests in ascending
// order, without locking them. Handled rows never appear.
func (q *RequestQueue) ListHead(ctx context.Context, limit int) (*ListHeadResult, error) {
	return q.inner.ListHead(ctx, limit)
}

// AddRequest inserts a new request, deriving its id from uniqueKey. Adding
// a uniqueKey already present is a no-op that reports wasAlreadyPresent.
func (q *RequestQueue) AddRequest(ctx context.Context, r *Request, opts AddRequestOptions) (*AddRequestResult, error) {
	res, err := q.inner.AddRequest(ctx, r, opts)
	if err == nil {
		q.client.appendJournal(journal.Event{Family: "request_queue", Operation: "addRequest", Name: q.Name(), RequestID: res.RequestID})
	}
	return res, err
}

// BatchAddRequests adds many requests in one transaction.
// unprocessedRequests is always empty; it exists only for wire parity with
// the hosted client's response shape (spec.md §9).
func (q *RequestQueue) BatchAddRequests(ctx context.Context, reqs []*Request, opts AddRequestOptions) (*BatchAddRequestsResult, error) {
	res, err := q.inner.BatchAddRequests(ctx, reqs, opts)
	if err == nil {
		q.client.appendJournal(journal.Event{Family: "request_queue", Operation: "batchAddRequests", Name: q.Name()})
	}
	return res, err
}

// GetRequest returns the request stored under id, or nil with a nil error
// when no request has that id.
func (q *RequestQueue) GetRequest(ctx context.Context, id string) (*Request, error) {
	return q.inner.GetRequest(ctx, id)
}

// UpdateRequest overwrites the stored request matching r's derived id. On
// an absent row this behaves exactly like AddRequest.
func (q *RequestQueue) UpdateRequest(ctx context.Context, r *Request, opts AddRequestOptions) (*AddRequestResult, error) {
	res, err := q.inner.UpdateRequest(ctx, r, opts)
	if err == nil {
		q.client.appendJournal(journal.Event{Family: "request_queue", Operation: "updateRequest", Name: q.Name(), RequestID: res.RequestID})
	}
	return res, err
}

// ListAndLockHead atomically selects and locks up to opts.Limit pending,
// unlocked requests for opts.LockSecs seconds.
func (q *RequestQueue) ListAndLockHead(ctx context.Context, opts ListAndLockHeadOptions) ([]*Request, error) {
	reqs, err := q.inner.ListAndLockHead(ctx, opts)
	if err == nil {
		q.client.appendJournal(journal.Event{Family: "request_queue", Operation: "listAndLockHead", Name: q.Name()})
	}
	return reqs, err
}

// ProlongRequestLock extends a held lock and returns its new expiry time.
func (q *RequestQueue) ProlongRequestLock(ctx context.Context, id string, opts ProlongRequestLockOptions) (time.Time, error) {
	t, err := q.inner.ProlongRequestLock(ctx, id, opts)
	if err == nil {
		q.client.appendJournal(journal.Event{Family: "request_queue", Operation: "prolongRequestLock", Name: q.Name(), RequestID: id})
	}
	return t, err
}

// DeleteRequestLock releases a held lock, making the request immediately
// head-visible again.
func (q *RequestQueue) DeleteRequestLock(ctx context.Context, id string, opts DeleteRequestLockOptions) error {
	err := q.inner.DeleteRequestLock(ctx, id, opts)
	if err == nil {
		q.client.appendJournal(journal.Event{Family: "request_queue", Operation: "deleteRequestLock", Name: q.Name(), RequestID: id})
	}
	return err
}
