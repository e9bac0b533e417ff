package requestqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/apify/storage-local-go/internal/storeerr"
)

// Client implements the public per-queue operations of spec.md §4.3 (C3) on
// top of a Store (C2). One Client corresponds to one open queue database
// file; queueID is always 1 (spec.md invariant 5).
type Client struct {
	store   *Store
	queueID int64
	name    string
}

func newClient(store *Store, row *QueueRow) *Client {
	return &Client{store: store, queueID: row.ID, name: row.Name}
}

// Name returns the queue's current display name.
func (c *Client) Name() string { return c.name }

// QueueInfo is the queue-metadata result returned by Get.
type QueueInfo struct {
	ID                  string
	Name                string
	CreatedAt           time.Time
	ModifiedAt          time.Time
	AccessedAt          time.Time
	TotalRequestCount   int64
	HandledRequestCount int64
	PendingRequestCount int64
}

// wrapNotFound turns the Store's anonymous ErrQueueNotFound sentinel (it
// does not know the queue's display name) into the named, spec.md §6
// literal-text error. Any other error passes through unchanged.
func (c *Client) wrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storeerr.ErrQueueNotFound) {
		return &storeerr.QueueNotFoundError{Name: c.name}
	}
	return err
}

// Get returns queue metadata, bumping accessedAt (spec.md §4.3).
func (c *Client) Get(ctx context.Context) (*QueueInfo, error) {
	if err := c.store.UpdateAccessedAt(ctx, c.queueID); err != nil {
		return nil, err
	}
	row, err := c.store.SelectByName(ctx, c.name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &storeerr.QueueNotFoundError{Name: c.name}
	}
	return &QueueInfo{
		ID:                  row.Name,
		Name:                row.Name,
		CreatedAt:           row.CreatedAt,
		ModifiedAt:          row.ModifiedAt,
		AccessedAt:          row.AccessedAt,
		TotalRequestCount:   row.TotalRequestCount,
		HandledRequestCount: row.HandledRequestCount,
		PendingRequestCount: row.PendingRequestCount(),
	}, nil
}

// renamed updates the client's in-memory name after the owning Manager has
// renamed both the directory and the stored row.
func (c *Client) renamed(newName string) { c.name = newName }

// ListHeadResult is the result of ListHead.
type ListHeadResult struct {
	Items              []*Request
	Limit              int
	QueueModifiedAt    time.Time
	HadMultipleClients bool
}

// ListHead returns the limit lowest-orderNo non-handled rows, ascending. A
// negative limit selects the default of 100; an explicit limit of 0 yields
// an empty items array (spec.md §8: "listHead({limit: 0}) yields an empty
// items array"), not the default.
func (c *Client) ListHead(ctx context.Context, limit int) (*ListHeadResult, error) {
	if limit < 0 {
		limit = 100
	}
	if err := c.store.UpdateAccessedAt(ctx, c.queueID); err != nil {
		return nil, err
	}
	items := []*Request{}
	if limit > 0 {
		payloads, err := c.store.SelectRequestJSONsHead(ctx, c.queueID, limit)
		if err != nil {
			return nil, err
		}
		items, err = decodeAll(payloads)
		if err != nil {
			return nil, err
		}
	}
	row, err := c.store.SelectByName(ctx, c.name)
	if err != nil {
		return nil, err
	}
	modifiedAt := time.Time{}
	if row != nil {
		modifiedAt = row.ModifiedAt
	}
	return &ListHeadResult{Items: items, Limit: limit, QueueModifiedAt: modifiedAt}, nil
}

func decodeAll(payloads []string) ([]*Request, error) {
	items := make([]*Request, len(payloads))
	for i, p := range payloads {
		var r Request
		if err := json.Unmarshal([]byte(p), &r); err != nil {
			return nil, err
		}
		items[i] = &r
	}
	return items, nil
}

// AddRequestOptions configures AddRequest/BatchAddRequests.
type AddRequestOptions struct {
	Forefront bool
}

// AddRequestResult is the outcome of adding one request.
type AddRequestResult struct {
	RequestID         string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

// validateAndBuildRow applies §4.3 validation and assigns id/orderNo/json.
func (c *Client) validateAndBuildRow(r *Request, forefront bool, allowCallerID bool) (requestRow, error) {
	if r.URL == "" {
		return requestRow{}, &storeerr.InvalidArgumentError{Message: "url is required"}
	}
	if r.UniqueKey == "" {
		return requestRow{}, &storeerr.InvalidArgumentError{Message: "uniqueKey is required"}
	}
	derived := deriveRequestID(r.UniqueKey)
	if r.ID == "" {
		r.ID = derived
	} else if !allowCallerID {
		return requestRow{}, &storeerr.InvalidArgumentError{Message: "id must not be supplied when adding a request"}
	} else if r.ID != derived {
		return requestRow{}, &storeerr.InvalidArgumentError{Message: "Request ID does not match its uniqueKey."}
	}
	if r.Method == "" {
		r.Method = "GET"
	}

	var orderNo sql.NullInt64
	if !r.IsHandled() {
		t := c.store.nowMillis()
		if forefront {
			t = -t
		}
		orderNo = sql.NullInt64{Int64: t, Valid: true}
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return requestRow{}, err
	}

	return requestRow{
		ID:         r.ID,
		OrderNo:    orderNo,
		URL:        r.URL,
		UniqueKey:  r.UniqueKey,
		Method:     r.Method,
		RetryCount: r.RetryCount,
		JSON:       string(payload),
	}, nil
}

// AddRequest validates and inserts r, computing its id and ordering key.
func (c *Client) AddRequest(ctx context.Context, r *Request, opts AddRequestOptions) (*AddRequestResult, error) {
	row, err := c.validateAndBuildRow(r, opts.Forefront, false)
	if err != nil {
		return nil, err
	}
	res, err := c.store.AddRequest(ctx, c.queueID, row)
	if err != nil {
		return nil, c.wrapNotFound(err)
	}
	return &AddRequestResult{RequestID: res.RequestID, WasAlreadyPresent: res.WasAlreadyPresent, WasAlreadyHandled: res.WasAlreadyHandled}, nil
}

// ProcessedRequest is one entry of BatchAddRequestsResult.ProcessedRequests.
type ProcessedRequest struct {
	RequestID         string
	UniqueKey         string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

// BatchAddRequestsResult is the outcome of BatchAddRequests. Unprocessed is
// always empty in this implementation; the field exists for API parity with
// the hosted service (spec.md §4.4).
type BatchAddRequestsResult struct {
	ProcessedRequests   []ProcessedRequest
	UnprocessedRequests []string
}

// BatchAddRequests validates and inserts reqs inside a single transaction.
func (c *Client) BatchAddRequests(ctx context.Context, reqs []*Request, opts AddRequestOptions) (*BatchAddRequestsResult, error) {
	rows := make([]requestRow, len(reqs))
	for i, r := range reqs {
		row, err := c.validateAndBuildRow(r, opts.Forefront, false)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	results, err := c.store.BatchAddRequests(ctx, c.queueID, rows)
	if err != nil {
		return nil, c.wrapNotFound(err)
	}
	out := &BatchAddRequestsResult{ProcessedRequests: make([]ProcessedRequest, len(results))}
	for i, res := range results {
		out.ProcessedRequests[i] = ProcessedRequest{
			RequestID:         res.RequestID,
			UniqueKey:         reqs[i].UniqueKey,
			WasAlreadyPresent: res.WasAlreadyPresent,
			WasAlreadyHandled: res.WasAlreadyHandled,
		}
	}
	return out, nil
}

// GetRequest returns the parsed request for id, or nil if absent. Bumps
// accessedAt.
func (c *Client) GetRequest(ctx context.Context, id string) (*Request, error) {
	if err := c.store.UpdateAccessedAt(ctx, c.queueID); err != nil {
		return nil, err
	}
	payload, found, err := c.store.SelectRequestJSON(ctx, c.queueID, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var r Request
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRequest validates and applies the §4.4 updateRequest transaction.
// r.ID is required.
func (c *Client) UpdateRequest(ctx context.Context, r *Request, opts AddRequestOptions) (*AddRequestResult, error) {
	if r.ID == "" {
		return nil, &storeerr.InvalidArgumentError{Message: "id is required"}
	}
	row, err := c.validateAndBuildRow(r, opts.Forefront, true)
	if err != nil {
		return nil, err
	}
	res, err := c.store.UpdateRequest(ctx, c.queueID, row)
	if err != nil {
		return nil, c.wrapNotFound(err)
	}
	return &AddRequestResult{RequestID: res.RequestID, WasAlreadyPresent: res.WasAlreadyPresent, WasAlreadyHandled: res.WasAlreadyHandled}, nil
}

// ListAndLockHeadOptions configures ListAndLockHead.
type ListAndLockHeadOptions struct {
	Limit    int
	LockSecs int
}

// ListAndLockHead atomically takes up to Limit available head requests and
// locks each for LockSecs seconds.
func (c *Client) ListAndLockHead(ctx context.Context, opts ListAndLockHeadOptions) ([]*Request, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}
	lockSecs := opts.LockSecs
	if lockSecs <= 0 {
		lockSecs = 60
	}
	locked, err := c.store.ListAndLockHead(ctx, c.queueID, limit, lockSecs)
	if err != nil {
		return nil, err
	}
	payloads := make([]string, len(locked))
	for i, l := range locked {
		payloads[i] = l.JSON
	}
	return decodeAll(payloads)
}

// ProlongRequestLockOptions configures ProlongRequestLock.
type ProlongRequestLockOptions struct {
	LockSecs  int
	Forefront bool
}

// ProlongRequestLock extends a held lock, returning the new unlock time.
func (c *Client) ProlongRequestLock(ctx context.Context, id string, opts ProlongRequestLockOptions) (time.Time, error) {
	lockSecs := opts.LockSecs
	if lockSecs <= 0 {
		lockSecs = 60
	}
	return c.store.ProlongRequestLock(ctx, c.queueID, id, lockSecs, opts.Forefront)
}

// DeleteRequestLockOptions configures DeleteRequestLock.
type DeleteRequestLockOptions struct {
	Forefront bool
}

// DeleteRequestLock releases a held lock before expiry.
func (c *Client) DeleteRequestLock(ctx context.Context, id string, opts DeleteRequestLockOptions) error {
	return c.store.DeleteRequestLock(ctx, c.queueID, id, opts.Forefront)
}
