package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore is the richer indexed backend. The autoincrement seq column
// preserves insertion order across restarts and across migration from the
// file store.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outbox_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	key         TEXT NOT NULL UNIQUE,
	local_id    TEXT NOT NULL,
	server_id   TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT 'pending' CHECK (state IN ('pending','synced','failed')),
	fail_reason TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_local_id ON outbox_entries(local_id);
CREATE INDEX IF NOT EXISTS idx_outbox_state ON outbox_entries(state);
`

// OpenSQLiteStore opens (or creates) the queue database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite store")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set synchronous")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Draft)
	if err != nil {
		return errors.Wrap(err, "encode draft")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_entries (key, local_id, server_id, state, fail_reason, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			local_id = excluded.local_id,
			server_id = excluded.server_id,
			state = excluded.state,
			fail_reason = excluded.fail_reason,
			payload = excluded.payload,
			created_at = excluded.created_at
	`, e.Key(), e.LocalID, e.ServerID, string(e.State), e.FailReason, string(payload), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "put entry")
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, server_id, state, fail_reason, payload, created_at
		FROM outbox_entries WHERE key = ?`, key)
	return scanEntry(row)
}

func (s *SQLiteStore) Find(ctx context.Context, localID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, server_id, state, fail_reason, payload, created_at
		FROM outbox_entries WHERE local_id = ? ORDER BY seq LIMIT 1`, localID)
	return scanEntry(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var state, payload, createdAt string
	err := row.Scan(&e.LocalID, &e.ServerID, &state, &e.FailReason, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, errors.Wrap(err, "scan entry")
	}
	e.State = State(state)
	if err := json.Unmarshal([]byte(payload), &e.Draft); err != nil {
		return Entry{}, errors.Wrap(err, "decode draft")
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, server_id, state, fail_reason, payload, created_at
		FROM outbox_entries ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate entries")
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox_entries WHERE key = ?`, key)
	return errors.Wrap(err, "delete entry")
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox_entries`)
	return errors.Wrap(err, "clear entries")
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
