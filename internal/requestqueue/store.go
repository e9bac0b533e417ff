// Package requestqueue implements the Request Queue persistence engine
// (spec.md §4.2, C2) and client (§4.3, C3) on top of a per-file SQLite
// database obtained from internal/dbcache.
//
// One Store owns one database handle and therefore exactly one queue row
// (spec.md invariant 5, "Exactly one queue row exists per queue database
// file"). All state-changing primitives run inside a transaction; busy/
// locked errors from a concurrent writer in another process are retried
// with bounded exponential backoff before surfacing to the caller.
package requestqueue

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apify/storage-local-go/internal/storeerr"
)

// QueueRow is the queue table's row, plus the derived pendingRequestCount.
type QueueRow struct {
	ID                  int64
	Name                string
	CreatedAt           time.Time
	ModifiedAt          time.Time
	AccessedAt          time.Time
	TotalRequestCount   int64
	HandledRequestCount int64
}

// PendingRequestCount is totalRequestCount - handledRequestCount (spec.md §3).
func (q QueueRow) PendingRequestCount() int64 {
	return q.TotalRequestCount - q.HandledRequestCount
}

// requestRow mirrors one row of the requests table.
type requestRow struct {
	ID         string
	OrderNo    sql.NullInt64
	URL        string
	UniqueKey  string
	Method     string
	RetryCount int
	JSON       string
}

// Clock abstracts "now" so lock-expiry logic is testable without sleeping
// real wall-clock seconds (spec.md §4.5 requires one consistent clock
// source across acquire/prolong/filter).
type Clock func() time.Time

// Store owns one database handle and implements the C2 primitives.
type Store struct {
	db    *sql.DB
	clock Clock
	path  string
}

// NewStore applies the schema idempotently and returns a Store bound to db.
// path is used only to annotate storeerr.StorageError values.
func NewStore(db *sql.DB, path string, clock Clock) (*Store, error) {
	if clock == nil {
		clock = time.Now
	}
	s := &Store{db: db, clock: clock, path: path}
	if _, err := db.Exec(ddl); err != nil {
		return nil, storeerr.NewStorageError(path, "apply schema", err)
	}
	return s, nil
}

func (s *Store) nowMillis() int64 { return s.clock().UTC().UnixMilli() }

func nowISO(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z") }

// withRetry retries fn while the underlying SQLite connection reports the
// database as busy or locked, which can happen when another process holds
// the write lock on this file. Backoff is bounded; a caller-level context
// cancellation aborts immediately.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after rollback).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storeerr.NewStorageError(s.path, "begin tx", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return storeerr.NewStorageError(s.path, "commit tx", err)
		}
		committed = true
		return nil
	})
}

// --- queue-row primitives -------------------------------------------------

func scanQueueRow(row *sql.Row) (*QueueRow, error) {
	var q QueueRow
	var created, modified, accessed string
	if err := row.Scan(&q.ID, &q.Name, &created, &modified, &accessed, &q.TotalRequestCount, &q.HandledRequestCount); err != nil {
		return nil, err
	}
	var err error
	if q.CreatedAt, err = time.Parse("2006-01-02T15:04:05.000Z", created); err != nil {
		return nil, err
	}
	if q.ModifiedAt, err = time.Parse("2006-01-02T15:04:05.000Z", modified); err != nil {
		return nil, err
	}
	if q.AccessedAt, err = time.Parse("2006-01-02T15:04:05.000Z", accessed); err != nil {
		return nil, err
	}
	return &q, nil
}

const selectQueueCols = `id, name, created_at, modified_at, accessed_at, total_request_count, handled_request_count`

// SelectByName returns the queue row, or nil if no row exists.
func (s *Store) SelectByName(ctx context.Context, name string) (*QueueRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectQueueCols+` FROM queues WHERE name = ?`, name)
	q, err := scanQueueRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.NewStorageError(s.path, "selectByName", err)
	}
	return q, nil
}

// SelectOrInsertByName returns the existing queue row for name, inserting a
// fresh one (id=1, counts zero) if the file is new.
func (s *Store) SelectOrInsertByName(ctx context.Context, name string) (*QueueRow, error) {
	var result *QueueRow
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+selectQueueCols+` FROM queues WHERE id = 1`)
		q, err := scanQueueRow(row)
		if err == nil {
			result = q
			return nil
		}
		if err != sql.ErrNoRows {
			return storeerr.NewStorageError(s.path, "selectOrInsertByName", err)
		}

		now := nowISO(s.clock())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queues (id, name, created_at, modified_at, accessed_at) VALUES (1, ?, ?, ?, ?)`,
			name, now, now, now,
		); err != nil {
			return storeerr.NewStorageError(s.path, "insert queue", err)
		}
		result = &QueueRow{ID: 1, Name: name}
		var perr error
		result.CreatedAt, perr = time.Parse("2006-01-02T15:04:05.000Z", now)
		if perr != nil {
			return perr
		}
		result.ModifiedAt = result.CreatedAt
		result.AccessedAt = result.CreatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateAccessedAt bumps accessed_at only, for read operations (get,
// listHead, getRequest) that spec.md §4.3 says must not touch modified_at.
func (s *Store) UpdateAccessedAt(ctx context.Context, queueID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE queues SET accessed_at = ? WHERE id = ?`, nowISO(s.clock()), queueID)
	if err != nil {
		return storeerr.NewStorageError(s.path, "updateAccessedAt", err)
	}
	return nil
}

// RenameQueue updates the stored name of the (sole) queue row.
func (s *Store) RenameQueue(ctx context.Context, queueID int64, newName string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE queues SET name = ? WHERE id = ?`, newName, queueID)
		if err != nil {
			return storeerr.NewStorageError(s.path, "rename queue", err)
		}
		return nil
	})
}

func adjustCounts(ctx context.Context, tx *sql.Tx, queueID, dTotal, dHandled int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE queues SET total_request_count = total_request_count + ?, handled_request_count = handled_request_count + ? WHERE id = ?`,
		dTotal, dHandled, queueID,
	)
	return err
}

// --- request-row read primitives -----------------------------------------

// SelectRequestOrderNo probes existence and lock state without decoding the
// stored JSON payload.
func (s *Store) SelectRequestOrderNo(ctx context.Context, queueID int64, id string) (orderNo sql.NullInt64, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, id)
	if err := row.Scan(&orderNo); err != nil {
		if err == sql.ErrNoRows {
			return sql.NullInt64{}, false, nil
		}
		return sql.NullInt64{}, false, storeerr.NewStorageError(s.path, "selectRequestOrderNo", err)
	}
	return orderNo, true, nil
}

// SelectRequestJSON returns the stored canonical JSON for id, or "", false
// if no such row exists.
func (s *Store) SelectRequestJSON(ctx context.Context, queueID int64, id string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT json FROM requests WHERE queue_id = ? AND id = ?`, queueID, id)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, storeerr.NewStorageError(s.path, "selectRequestJson", err)
	}
	return payload, true, nil
}

// SelectRequestJSONsHead returns up to limit stored JSON payloads for
// non-null order_no rows, ascending, via the partial index.
func (s *Store) SelectRequestJSONsHead(ctx context.Context, queueID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json FROM requests WHERE queue_id = ? AND order_no IS NOT NULL ORDER BY order_no ASC LIMIT ?`,
		queueID, limit,
	)
	if err != nil {
		return nil, storeerr.NewStorageError(s.path, "selectRequestJsonsHead", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, storeerr.NewStorageError(s.path, "selectRequestJsonsHead scan", err)
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

// --- composite transactions (spec.md §4.4) --------------------------------

// AddResult is the outcome of AddRequest/BatchAddRequests' per-item logic.
type AddResult struct {
	RequestID         string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

func insertRequestRow(ctx context.Context, tx *sql.Tx, queueID int64, r requestRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO requests (queue_id, id, order_no, url, unique_key, method, retry_count, json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		queueID, r.ID, r.OrderNo, r.URL, r.UniqueKey, r.Method, r.RetryCount, r.JSON,
	)
	return err
}

// AddRequest implements the §4.4 addRequest transaction: insert, and on a
// primary-key conflict treat the existing row as the (recovered) result
// instead of failing; on a foreign-key conflict the queue row is missing.
func (s *Store) AddRequest(ctx context.Context, queueID int64, r requestRow) (AddResult, error) {
	var result AddResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		insertErr := insertRequestRow(ctx, tx, queueID, r)
		if insertErr == nil {
			result = AddResult{RequestID: r.ID, WasAlreadyPresent: false, WasAlreadyHandled: false}
			return adjustCounts(ctx, tx, queueID, 1, boolToDelta(!r.OrderNo.Valid))
		}

		switch classifyConstraint(insertErr) {
		case constraintForeignKey:
			return storeerr.ErrQueueNotFound
		case constraintPrimaryKey:
			row := tx.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, r.ID)
			var orderNo sql.NullInt64
			if err := row.Scan(&orderNo); err != nil {
				return storeerr.NewStorageError(s.path, "addRequest read existing", err)
			}
			result = AddResult{RequestID: r.ID, WasAlreadyPresent: true, WasAlreadyHandled: !orderNo.Valid}
			return nil
		default:
			return storeerr.NewStorageError(s.path, "addRequest insert", insertErr)
		}
	})
	if err != nil {
		return AddResult{}, err
	}
	return result, nil
}

// BatchAddRequests applies AddRequest's per-item logic to every row inside
// one transaction. A foreign-key failure (queue row missing) aborts the
// whole batch; there is no other per-item failure mode, so unprocessed
// items are never populated (spec.md §4.4).
func (s *Store) BatchAddRequests(ctx context.Context, queueID int64, rows []requestRow) ([]AddResult, error) {
	results := make([]AddResult, len(rows))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, r := range rows {
			insertErr := insertRequestRow(ctx, tx, queueID, r)
			if insertErr == nil {
				results[i] = AddResult{RequestID: r.ID, WasAlreadyPresent: false, WasAlreadyHandled: false}
				if err := adjustCounts(ctx, tx, queueID, 1, boolToDelta(!r.OrderNo.Valid)); err != nil {
					return storeerr.NewStorageError(s.path, "batchAddRequests adjustCounts", err)
				}
				continue
			}
			switch classifyConstraint(insertErr) {
			case constraintForeignKey:
				return storeerr.ErrQueueNotFound
			case constraintPrimaryKey:
				row := tx.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, r.ID)
				var orderNo sql.NullInt64
				if err := row.Scan(&orderNo); err != nil {
					return storeerr.NewStorageError(s.path, "batchAddRequests read existing", err)
				}
				results[i] = AddResult{RequestID: r.ID, WasAlreadyPresent: true, WasAlreadyHandled: !orderNo.Valid}
			default:
				return storeerr.NewStorageError(s.path, "batchAddRequests insert", insertErr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateRequest implements the §4.4 updateRequest transaction: read the
// existing row; if absent, delegate to AddRequest; otherwise overwrite it
// and adjust handled_request_count by the (was, now) state transition.
func (s *Store) UpdateRequest(ctx context.Context, queueID int64, r requestRow) (AddResult, error) {
	var result AddResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, r.ID)
		var oldOrderNo sql.NullInt64
		scanErr := row.Scan(&oldOrderNo)
		if scanErr == sql.ErrNoRows {
			insertErr := insertRequestRow(ctx, tx, queueID, r)
			if insertErr != nil {
				if classifyConstraint(insertErr) == constraintForeignKey {
					return storeerr.ErrQueueNotFound
				}
				return storeerr.NewStorageError(s.path, "updateRequest insert", insertErr)
			}
			result = AddResult{RequestID: r.ID, WasAlreadyPresent: false, WasAlreadyHandled: false}
			return adjustCounts(ctx, tx, queueID, 1, boolToDelta(!r.OrderNo.Valid))
		}
		if scanErr != nil {
			return storeerr.NewStorageError(s.path, "updateRequest read existing", scanErr)
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE requests SET order_no = ?, url = ?, unique_key = ?, method = ?, retry_count = ?, json = ?
			 WHERE queue_id = ? AND id = ?`,
			r.OrderNo, r.URL, r.UniqueKey, r.Method, r.RetryCount, r.JSON, queueID, r.ID,
		)
		if err != nil {
			return storeerr.NewStorageError(s.path, "updateRequest update", err)
		}

		was := !oldOrderNo.Valid
		now := !r.OrderNo.Valid
		dHandled := int64(0)
		switch {
		case !was && now:
			dHandled = 1
		case was && !now:
			dHandled = -1
		}
		if dHandled != 0 {
			if err := adjustCounts(ctx, tx, queueID, 0, dHandled); err != nil {
				return storeerr.NewStorageError(s.path, "updateRequest adjustCounts", err)
			}
		}
		result = AddResult{RequestID: r.ID, WasAlreadyPresent: true, WasAlreadyHandled: was}
		return nil
	})
	if err != nil {
		return AddResult{}, err
	}
	return result, nil
}

func boolToDelta(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// --- locking protocol (spec.md §4.5) --------------------------------------

// LockedRequest is one row returned by ListAndLockHead.
type LockedRequest struct {
	ID   string
	JSON string
}

// ListAndLockHead selects up to limit available (unlocked, non-handled)
// head requests and sets |order_no| to now+lockSecs (in milliseconds),
// preserving sign, so they become invisible to further head queries until
// expiry.
func (s *Store) ListAndLockHead(ctx context.Context, queueID int64, limit int, lockSecs int) ([]LockedRequest, error) {
	var out []LockedRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t := s.nowMillis()
		rows, err := tx.QueryContext(ctx,
			`SELECT id, json, order_no FROM requests
			 WHERE queue_id = ? AND order_no IS NOT NULL AND order_no BETWEEN ? AND ?
			 ORDER BY order_no ASC LIMIT ?`,
			queueID, -t, t, limit,
		)
		if err != nil {
			return storeerr.NewStorageError(s.path, "listAndLockHead select", err)
		}
		type row struct {
			id      string
			payload string
			orderNo int64
		}
		var selected []row
		for rows.Next() {
			var rr row
			if err := rows.Scan(&rr.id, &rr.payload, &rr.orderNo); err != nil {
				rows.Close()
				return storeerr.NewStorageError(s.path, "listAndLockHead scan", err)
			}
			selected = append(selected, rr)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return storeerr.NewStorageError(s.path, "listAndLockHead rows", err)
		}
		rows.Close()

		unlock := t + int64(lockSecs)*1000
		for _, rr := range selected {
			newOrderNo := unlock
			if rr.orderNo < 0 {
				newOrderNo = -unlock
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE requests SET order_no = ? WHERE queue_id = ? AND id = ?`,
				newOrderNo, queueID, rr.id,
			); err != nil {
				return storeerr.NewStorageError(s.path, "listAndLockHead lock", err)
			}
			out = append(out, LockedRequest{ID: rr.id, JSON: rr.payload})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProlongRequestLock extends a held lock and returns the new unlock time.
func (s *Store) ProlongRequestLock(ctx context.Context, queueID int64, id string, lockSecs int, forefront bool) (time.Time, error) {
	var unlockTime time.Time
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, id)
		var orderNo sql.NullInt64
		if err := row.Scan(&orderNo); err != nil {
			if err == sql.ErrNoRows {
				return storeerr.ErrNotLockedOrMissing
			}
			return storeerr.NewStorageError(s.path, "prolongRequestLock read", err)
		}
		if !orderNo.Valid {
			return storeerr.ErrNotLockedOrMissing
		}

		magnitude := orderNo.Int64
		if magnitude < 0 {
			magnitude = -magnitude
		}
		unlock := magnitude + int64(lockSecs)*1000
		newOrderNo := unlock
		if forefront {
			newOrderNo = -unlock
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE requests SET order_no = ? WHERE queue_id = ? AND id = ?`,
			newOrderNo, queueID, id,
		); err != nil {
			return storeerr.NewStorageError(s.path, "prolongRequestLock update", err)
		}
		unlockTime = time.UnixMilli(unlock).UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return unlockTime, nil
}

// DeleteRequestLock releases a held lock, restoring immediate availability.
func (s *Store) DeleteRequestLock(ctx context.Context, queueID int64, id string, forefront bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, id)
		var orderNo sql.NullInt64
		if err := row.Scan(&orderNo); err != nil {
			if err == sql.ErrNoRows {
				return storeerr.ErrNotLockedOrMissing
			}
			return storeerr.NewStorageError(s.path, "deleteRequestLock read", err)
		}
		t := s.nowMillis()
		if !orderNo.Valid {
			return storeerr.ErrNotLockedOrMissing
		}
		magnitude := orderNo.Int64
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if magnitude <= t {
			return storeerr.ErrNotLockedOrMissing
		}

		newOrderNo := t
		if forefront {
			newOrderNo = -t
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE requests SET order_no = ? WHERE queue_id = ? AND id = ?`,
			newOrderNo, queueID, id,
		)
		if err != nil {
			return storeerr.NewStorageError(s.path, "deleteRequestLock update", err)
		}
		return nil
	})
}

// deleteRequestByID removes one request row outright (spec.md §4.2's
// deleteRequestById primitive). It is not reachable from the public
// Client/RequestQueue API (spec.md §9 option (a): deletion is "structurally
// supported" but never exposed) and exists only so the persistence engine
// has the primitive and so the requests_touch_ad trigger has a caller.
// Counters are adjusted for the removed row after it is deleted, inside
// the same transaction.
func (s *Store) deleteRequestByID(ctx context.Context, queueID int64, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT order_no FROM requests WHERE queue_id = ? AND id = ?`, queueID, id)
		var orderNo sql.NullInt64
		if err := row.Scan(&orderNo); err != nil {
			if err == sql.ErrNoRows {
				return storeerr.ErrRecordNotFound
			}
			return storeerr.NewStorageError(s.path, "deleteRequestByID read", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE queue_id = ? AND id = ?`, queueID, id)
		if err != nil {
			return storeerr.NewStorageError(s.path, "deleteRequestByID delete", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storeerr.NewStorageError(s.path, "deleteRequestByID rowsAffected", err)
		} else if n == 0 {
			return storeerr.ErrRecordNotFound
		}

		return adjustCounts(ctx, tx, queueID, -1, boolToDelta(!orderNo.Valid)*-1)
	})
}

// --- constraint classification ---------------------------------------------

type constraintKind int

const (
	constraintNone constraintKind = iota
	constraintPrimaryKey
	constraintForeignKey
)

// classifyConstraint inspects the driver error text. modernc.org/sqlite, like
// every SQLite driver, renders constraint failures with the constraint kind
// in the message ("UNIQUE constraint failed: ...", "FOREIGN KEY constraint
// failed"); matching on that text is more robust across driver versions than
// depending on an unexported error type.
func classifyConstraint(err error) constraintKind {
	if err == nil {
		return constraintNone
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "foreign key constraint failed"):
		return constraintForeignKey
	case strings.Contains(msg, "unique constraint failed"), strings.Contains(msg, "primary key constraint failed"):
		return constraintPrimaryKey
	default:
		return constraintNone
	}
}
