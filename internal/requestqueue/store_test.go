package requestqueue

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/apify/storage-local-go/internal/storeerr"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStore_AddRequest_ForeignKeyViolation_QueueNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewStore(db, "test.db", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	row := requestRow{ID: "abc", URL: "https://x", UniqueKey: "https://x", Method: "GET", JSON: "{}"}
	// No queue row was ever inserted, so any insert into requests (queue_id=1)
	// must violate the foreign key and surface as ErrQueueNotFound.
	_, err = store.AddRequest(ctx, 1, row)
	if !errors.Is(err, storeerr.ErrQueueNotFound) {
		t.Fatalf("err = %v, want storeerr.ErrQueueNotFound", err)
	}
}

func TestStore_SelectByName_Missing_ReturnsNil(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewStore(db, "test.db", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	row, err := store.SelectByName(ctx, "nope")
	if err != nil {
		t.Fatalf("SelectByName: %v", err)
	}
	if row != nil {
		t.Errorf("row = %+v, want nil", row)
	}
}

func TestStore_SelectOrInsertByName_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewStore(db, "test.db", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first, err := store.SelectOrInsertByName(ctx, "q")
	if err != nil {
		t.Fatalf("first SelectOrInsertByName: %v", err)
	}
	second, err := store.SelectOrInsertByName(ctx, "q")
	if err != nil {
		t.Fatalf("second SelectOrInsertByName: %v", err)
	}
	if first.ID != second.ID || second.Name != "q" {
		t.Errorf("second call must return the same row, got %+v vs %+v", first, second)
	}
}

func TestStore_DeleteRequestByID_RemovesRowAndAdjustsCounts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewStore(db, "test.db", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	queue, err := store.SelectOrInsertByName(ctx, "q")
	if err != nil {
		t.Fatalf("SelectOrInsertByName: %v", err)
	}

	pending := requestRow{ID: "pending", URL: "https://a", UniqueKey: "https://a", Method: "GET", OrderNo: sql.NullInt64{Int64: 1, Valid: true}, JSON: "{}"}
	handled := requestRow{ID: "handled", URL: "https://b", UniqueKey: "https://b", Method: "GET", JSON: "{}"}
	if _, err := store.AddRequest(ctx, queue.ID, pending); err != nil {
		t.Fatalf("AddRequest pending: %v", err)
	}
	if _, err := store.AddRequest(ctx, queue.ID, handled); err != nil {
		t.Fatalf("AddRequest handled: %v", err)
	}

	before, err := store.SelectByName(ctx, "q")
	if err != nil {
		t.Fatalf("SelectByName: %v", err)
	}
	if before.TotalRequestCount != 2 || before.HandledRequestCount != 1 {
		t.Fatalf("counts before delete = %+v, want total=2 handled=1", before)
	}

	// Deleting the handled row must decrement both total and handled counts;
	// the requests_touch_ad trigger should also bump modified_at.
	if err := store.deleteRequestByID(ctx, queue.ID, "handled"); err != nil {
		t.Fatalf("deleteRequestByID: %v", err)
	}

	after, err := store.SelectByName(ctx, "q")
	if err != nil {
		t.Fatalf("SelectByName: %v", err)
	}
	if after.TotalRequestCount != 1 || after.HandledRequestCount != 0 {
		t.Fatalf("counts after delete = %+v, want total=1 handled=0", after)
	}
	if !after.ModifiedAt.After(before.ModifiedAt) && !after.ModifiedAt.Equal(before.ModifiedAt) {
		t.Fatalf("modifiedAt did not advance: before=%v after=%v", before.ModifiedAt, after.ModifiedAt)
	}

	if _, found, err := store.SelectRequestJSON(ctx, queue.ID, "handled"); err != nil {
		t.Fatalf("SelectRequestJSON: %v", err)
	} else if found {
		t.Fatalf("handled row still present after delete")
	}
	if _, found, err := store.SelectRequestJSON(ctx, queue.ID, "pending"); err != nil {
		t.Fatalf("SelectRequestJSON: %v", err)
	} else if !found {
		t.Fatalf("pending row must be unaffected by deleting the other row")
	}
}

func TestStore_DeleteRequestByID_Missing_ReturnsRecordNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := NewStore(db, "test.db", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.SelectOrInsertByName(ctx, "q"); err != nil {
		t.Fatalf("SelectOrInsertByName: %v", err)
	}
	err = store.deleteRequestByID(ctx, 1, "nope")
	if !errors.Is(err, storeerr.ErrRecordNotFound) {
		t.Fatalf("err = %v, want storeerr.ErrRecordNotFound", err)
	}
}

func TestClassifyConstraint(t *testing.T) {
	cases := []struct {
		msg  string
		want constraintKind
	}{
		{"UNIQUE constraint failed: requests.queue_id, requests.id, requests.unique_key", constraintPrimaryKey},
		{"FOREIGN KEY constraint failed", constraintForeignKey},
		{"no such table: requests", constraintNone},
	}
	for _, c := range cases {
		got := classifyConstraint(errors.New(c.msg))
		if got != c.want {
			t.Errorf("classifyConstraint(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}
