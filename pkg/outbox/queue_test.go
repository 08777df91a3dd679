package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDraft(amount string) Draft {
	return Draft{
		WalletID: 1,
		Type:     "expense",
		Amount:   decimal.RequireFromString(amount),
		Date:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Note:     "queued offline",
	}
}

func newSQLiteQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewQueue(store, slog.Default()), path
}

func TestEnqueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	q, path := newSQLiteQueue(t)

	localID, err := q.Enqueue(ctx, testDraft("150000"))
	require.NoError(t, err)
	require.NoError(t, q.Store().Close())

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	reopened := NewQueue(store, slog.Default())

	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, localID, pending[0].LocalID)
	assert.Equal(t, StatePending, pending[0].State)
	assert.True(t, pending[0].Draft.Amount.Equal(decimal.RequireFromString("150000")))
}

func TestListPendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	q, _ := newSQLiteQueue(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, testDraft(fmt.Sprintf("%d000", i+1)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, e := range pending {
		assert.Equal(t, ids[i], e.LocalID, "entry %d out of order", i)
	}
}

func TestMarkSyncedRekeysAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newSQLiteQueue(t)

	localID, err := q.Enqueue(ctx, testDraft("150000"))
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, localID, "42"))
	// retry delivery of the same ack changes nothing
	require.NoError(t, q.MarkSynced(ctx, localID, "42"))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// the entry is now addressable by its server identity and still
	// findable by its local one
	byServer, err := q.Store().Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, StateSynced, byServer.State)
	assert.Equal(t, localID, byServer.LocalID)

	byLocal, err := q.Store().Find(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "42", byLocal.ServerID)

	// the old key no longer addresses anything
	_, err = q.Store().Get(ctx, localID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMarkSyncedAfterCleanupIsNoop(t *testing.T) {
	ctx := context.Background()
	q, _ := newSQLiteQueue(t)

	localID, err := q.Enqueue(ctx, testDraft("150000"))
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, localID, "42"))
	require.NoError(t, q.Cleanup(ctx))

	require.NoError(t, q.MarkSynced(ctx, localID, "42"))
	all, err := q.Store().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMarkFailedStopsRetry(t *testing.T) {
	ctx := context.Background()
	q, _ := newSQLiteQueue(t)

	localID, err := q.Enqueue(ctx, testDraft("300000"))
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, localID, "Insufficient budget"))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	e, err := q.Store().Find(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, e.State)
	assert.Equal(t, "Insufficient budget", e.FailReason)

	// a second rejection does not overwrite the recorded reason
	require.NoError(t, q.MarkFailed(ctx, localID, "other reason"))
	e, err = q.Store().Find(ctx, localID)
	require.NoError(t, err)
	assert.Equal(t, "Insufficient budget", e.FailReason)
}

func TestCleanupKeepsPendingAndFailed(t *testing.T) {
	ctx := context.Background()
	q, _ := newSQLiteQueue(t)

	syncedID, err := q.Enqueue(ctx, testDraft("100000"))
	require.NoError(t, err)
	pendingID, err := q.Enqueue(ctx, testDraft("200000"))
	require.NoError(t, err)
	failedID, err := q.Enqueue(ctx, testDraft("300000"))
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, syncedID, "7"))
	require.NoError(t, q.MarkFailed(ctx, failedID, "Insufficient budget"))
	require.NoError(t, q.Cleanup(ctx))

	all, err := q.Store().List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	states := map[string]State{}
	for _, e := range all {
		states[e.LocalID] = e.State
	}
	assert.Equal(t, StatePending, states[pendingID])
	assert.Equal(t, StateFailed, states[failedID])
}

func TestMigrateMovesAllEntriesOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fileStore, err := OpenFileStore(filepath.Join(dir, "outbox.json"))
	require.NoError(t, err)
	defer fileStore.Close()
	legacy := NewQueue(fileStore, slog.Default())

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := legacy.Enqueue(ctx, testDraft(fmt.Sprintf("%d0000", i+1)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	sqlStore, err := OpenSQLiteStore(filepath.Join(dir, "outbox.db"))
	require.NoError(t, err)
	defer sqlStore.Close()

	require.NoError(t, Migrate(ctx, fileStore, sqlStore))

	migrated, err := sqlStore.List(ctx)
	require.NoError(t, err)
	require.Len(t, migrated, 5)
	for i, e := range migrated {
		assert.Equal(t, ids[i], e.LocalID)
		assert.Equal(t, StatePending, e.State)
		assert.True(t, e.Draft.Amount.Equal(decimal.RequireFromString(fmt.Sprintf("%d0000", i+1))))
	}

	left, err := fileStore.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	// re-running against the already-drained source cannot duplicate
	require.NoError(t, Migrate(ctx, fileStore, sqlStore))
	migrated, err = sqlStore.List(ctx)
	require.NoError(t, err)
	assert.Len(t, migrated, 5)
}

func TestOpenMigratesLegacyFileEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fileStore, err := OpenFileStore(filepath.Join(dir, "outbox.json"))
	require.NoError(t, err)
	legacy := NewQueue(fileStore, slog.Default())
	id, err := legacy.Enqueue(ctx, testDraft("150000"))
	require.NoError(t, err)
	require.NoError(t, fileStore.Close())

	store, err := Open(ctx, dir, slog.Default())
	require.NoError(t, err)
	defer store.Close()

	e, err := store.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, e.State)

	// the legacy file no longer holds the entry; it moved into sqlite
	reread, err := OpenFileStore(filepath.Join(dir, "outbox.json"))
	require.NoError(t, err)
	defer reread.Close()
	left, err := reread.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

// brokenStore simulates an unavailable backend for chain fallthrough tests.
type brokenStore struct{}

var errBroken = errors.New("disk offline")

func (brokenStore) Put(context.Context, Entry) error           { return errBroken }
func (brokenStore) Get(context.Context, string) (Entry, error) { return Entry{}, errBroken }
func (brokenStore) Find(context.Context, string) (Entry, error) {
	return Entry{}, errBroken
}
func (brokenStore) List(context.Context) ([]Entry, error) { return nil, errBroken }
func (brokenStore) Delete(context.Context, string) error  { return errBroken }
func (brokenStore) Clear(context.Context) error           { return errBroken }
func (brokenStore) Close() error                          { return nil }

func TestChainFallsThroughToHealthyStore(t *testing.T) {
	ctx := context.Background()
	fileStore, err := OpenFileStore(filepath.Join(t.TempDir(), "outbox.json"))
	require.NoError(t, err)
	defer fileStore.Close()

	chain := NewChain(slog.Default(), brokenStore{}, fileStore)
	q := NewQueue(chain, slog.Default())

	id, err := q.Enqueue(ctx, testDraft("150000"))
	require.NoError(t, err)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].LocalID)

	// the entry observably landed in the fallback
	direct, err := fileStore.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, direct.LocalID)
}

func TestChainAllStoresDown(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(slog.Default(), brokenStore{}, brokenStore{})
	q := NewQueue(chain, slog.Default())

	_, err := q.Enqueue(ctx, testDraft("150000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBroken)
}
