package outbox

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrStorageUnavailable means no backing store could serve the request.
	// Callers should surface a warning and keep running.
	ErrStorageUnavailable = errors.New("outbox storage unavailable")

	// ErrEntryNotFound is returned by Get/Find for an unknown key.
	ErrEntryNotFound = errors.New("outbox entry not found")
)

// Store is the capability interface every backing store implements. The
// queue and the syncer depend only on this, never on a concrete backend.
// Implementations may be synchronous; callers always pass a context and
// treat every call as potentially asynchronous.
type Store interface {
	// Put upserts an entry under its current Key().
	Put(ctx context.Context, e Entry) error
	// Get returns the entry stored under key, or ErrEntryNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Find returns the entry whose LocalID matches, regardless of its
	// current storage key, or ErrEntryNotFound.
	Find(ctx context.Context, localID string) (Entry, error)
	// List returns all entries in insertion order, oldest first.
	List(ctx context.Context) ([]Entry, error)
	// Delete removes the entry under key. Unknown keys are a no-op.
	Delete(ctx context.Context, key string) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	Close() error
}
