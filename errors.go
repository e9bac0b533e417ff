package storage

import "github.com/apify/storage-local-go/internal/storeerr"

// Sentinel errors, re-exported at the module root so callers never need to
// import the internal error-taxonomy package directly. Match with
// errors.Is(err, storage.ErrQueueNotFound) etc.
var (
	ErrInvalidArgument    = storeerr.ErrInvalidArgument
	ErrQueueNotFound      = storeerr.ErrQueueNotFound
	ErrNameConflict       = storeerr.ErrNameConflict
	ErrNotLockedOrMissing = storeerr.ErrNotLockedOrMissing
	ErrRecordNotFound     = storeerr.ErrRecordNotFound
)

// Typed errors carrying the literal message text spec.md §6 requires.
type (
	QueueNotFoundError   = storeerr.QueueNotFoundError
	NameConflictError    = storeerr.NameConflictError
	InvalidArgumentError = storeerr.InvalidArgumentError
	StorageError         = storeerr.StorageError
)
