package outbox

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Queue is the durable queue over a Store.
type Queue struct {
	store  Store
	logger *slog.Logger
}

func NewQueue(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, logger: logger}
}

// Store exposes the backing store, mainly for status tooling.
func (q *Queue) Store() Store { return q.store }

// Enqueue persists a new pending entry and returns its local id. The entry
// is durable once this returns nil.
func (q *Queue) Enqueue(ctx context.Context, d Draft) (string, error) {
	e := Entry{
		LocalID:   NewLocalID(),
		Draft:     d,
		CreatedAt: time.Now().UTC(),
		State:     StatePending,
	}
	if err := q.store.Put(ctx, e); err != nil {
		return "", errors.Wrap(err, "enqueue")
	}
	return e.LocalID, nil
}

// ListPending returns unsynced entries oldest first, so sync applies
// transactions in the order the user created them.
func (q *Queue) ListPending(ctx context.Context) ([]Entry, error) {
	all, err := q.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pending")
	}
	var out []Entry
	for _, e := range all {
		if e.State == StatePending {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkSynced flips an entry to synced and, when serverID is supplied, rekeys
// it to the server identity so later lookups by server id work. Idempotent:
// repeating the call, or calling it for an entry already swept by Cleanup,
// is a no-op.
func (q *Queue) MarkSynced(ctx context.Context, localID, serverID string) error {
	e, err := q.store.Find(ctx, localID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "mark synced")
	}
	if e.State == StateSynced {
		return nil
	}
	oldKey := e.Key()
	e.State = StateSynced
	e.FailReason = ""
	if serverID != "" {
		e.ServerID = serverID
	}
	// write under the new key before removing the old one so the entry is
	// visible in the store at every point in time
	if err := q.store.Put(ctx, e); err != nil {
		return errors.Wrap(err, "mark synced")
	}
	if e.Key() != oldKey {
		if err := q.store.Delete(ctx, oldKey); err != nil {
			return errors.Wrap(err, "drop old key")
		}
	}
	return nil
}

// MarkFailed records a permanent business-rule rejection. The entry stays in
// the store for manual resolution but is no longer retried.
func (q *Queue) MarkFailed(ctx context.Context, localID, reason string) error {
	e, err := q.store.Find(ctx, localID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "mark failed")
	}
	if e.State != StatePending {
		return nil
	}
	e.State = StateFailed
	e.FailReason = reason
	return errors.Wrap(q.store.Put(ctx, e), "mark failed")
}

// Cleanup deletes synced entries. Pending and failed entries are never
// touched; safe to call at any time.
func (q *Queue) Cleanup(ctx context.Context) error {
	all, err := q.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "cleanup")
	}
	for _, e := range all {
		if e.State != StateSynced {
			continue
		}
		if err := q.store.Delete(ctx, e.Key()); err != nil {
			return errors.Wrap(err, "cleanup")
		}
	}
	return nil
}

// Migrate moves every entry from a legacy store into to, then clears the
// legacy store. Writes land in the target before the source is cleared, so
// an entry exists in at least one store at every point in time; entries the
// target already holds are skipped, so a crashed and re-run migration cannot
// duplicate.
func Migrate(ctx context.Context, from, to Store) error {
	entries, err := from.List(ctx)
	if err != nil {
		return errors.Wrap(err, "read legacy store")
	}
	for _, e := range entries {
		_, err := to.Find(ctx, e.LocalID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return errors.Wrap(err, "probe target store")
		}
		if err := to.Put(ctx, e); err != nil {
			return errors.Wrap(err, "copy entry")
		}
	}
	return errors.Wrap(from.Clear(ctx), "clear legacy store")
}

// Open builds the standard store stack inside dir: the indexed sqlite store
// as primary with the JSON file store as fallback, and a one-time migration
// of any legacy file-store entries into the sqlite store. When only one
// backend opens it is used alone; when neither does, ErrStorageUnavailable.
func Open(ctx context.Context, dir string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stores []Store

	sqlStore, sqlErr := OpenSQLiteStore(filepath.Join(dir, "outbox.db"))
	if sqlErr != nil {
		logger.Warn("sqlite outbox store unavailable", "err", sqlErr)
	} else {
		stores = append(stores, sqlStore)
	}

	fileStore, fileErr := OpenFileStore(filepath.Join(dir, "outbox.json"))
	if fileErr != nil {
		logger.Warn("file outbox store unavailable", "err", fileErr)
	} else if sqlStore != nil {
		// legacy entries move into the indexed store exactly once; after
		// that the file store is empty and this is a no-op
		if legacy, err := fileStore.List(ctx); err == nil && len(legacy) > 0 {
			if err := Migrate(ctx, fileStore, sqlStore); err != nil {
				logger.Warn("legacy outbox migration failed", "err", err)
			} else {
				logger.Info("migrated legacy outbox entries", "count", len(legacy))
			}
		}
		stores = append(stores, fileStore)
	} else {
		stores = append(stores, fileStore)
	}

	switch len(stores) {
	case 0:
		return nil, ErrStorageUnavailable
	case 1:
		return stores[0], nil
	default:
		return NewChain(logger, stores...), nil
	}
}
