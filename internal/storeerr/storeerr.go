// Package storeerr defines the error taxonomy shared by every storage
// family (request queues, datasets, key-value stores) and by the storage
// root that wires them together. Keeping these types in their own package
// lets both the public client and the internal engine packages depend on
// them without an import cycle.
package storeerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors callers can match with errors.Is. Each corresponds to one
// row of the error taxonomy in spec.md §7.
var (
	// ErrInvalidArgument marks a caller-supplied value that fails validation:
	// a missing required field, a caller-supplied id, an id that disagrees
	// with its uniqueKey, an unknown option, or a wrong value type.
	ErrInvalidArgument = errors.New("storage: invalid argument")

	// ErrQueueNotFound marks an operation against a queue whose database
	// file (and therefore row) does not exist.
	ErrQueueNotFound = errors.New("storage: queue not found")

	// ErrNameConflict marks a rename whose target name is already taken.
	ErrNameConflict = errors.New("storage: name is not unique")

	// ErrNotLockedOrMissing marks a prolong/delete-lock call against a
	// request that is absent, handled, or not currently locked.
	ErrNotLockedOrMissing = errors.New("storage: request is not locked or does not exist")

	// ErrRecordNotFound marks a lookup (dataset item, KV record) that found
	// nothing at the requested position or key.
	ErrRecordNotFound = errors.New("storage: record not found")
)

// QueueNotFoundError renders the literal message text the hosted service
// produces, as required by spec.md §6, while still satisfying
// errors.Is(err, ErrQueueNotFound).
type QueueNotFoundError struct {
	Name string
}

func (e *QueueNotFoundError) Error() string {
	return fmt.Sprintf("Request queue with id: %s does not exist.", e.Name)
}

func (e *QueueNotFoundError) Unwrap() error { return ErrQueueNotFound }

// NameConflictError renders the literal message text for a rename whose
// target directory/name already exists.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return "Request queue name is not unique."
}

func (e *NameConflictError) Unwrap() error { return ErrNameConflict }

// InvalidArgumentError wraps a specific validation complaint.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string { return e.Message }

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// StorageError is the catch-all "generic storage error" bucket from
// spec.md §7: any database failure that is not one of the recoverable
// conditions above. It carries the file path and the operation name so
// callers can tell which file and which call failed, and wraps the
// underlying cause with github.com/pkg/errors so a stack trace is attached
// at the point of failure.
type StorageError struct {
	Path string
	Op   string
	Err  error
}

func NewStorageError(path, op string, cause error) *StorageError {
	return &StorageError{Path: path, Op: op, Err: errors.WithStack(cause)}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
