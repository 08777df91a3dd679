package outbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileStore is the simple synchronous backend: one JSON document holding the
// flat entry list, loaded at open and rewritten atomically on every
// mutation. It doubles as the legacy storage layout that Migrate moves into
// the indexed store.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries []Entry // insertion order
}

// OpenFileStore loads (or initializes) the JSON document at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open file store")
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.entries); err != nil {
			return nil, errors.Wrap(err, "decode file store")
		}
	}
	return s, nil
}

// persist rewrites the whole document via a temp file and rename, so a crash
// mid-write never leaves a truncated list behind. Caller holds mu.
func (s *FileStore) persist() error {
	raw, err := json.Marshal(s.entries)
	if err != nil {
		return errors.Wrap(err, "encode file store")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create store dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "write file store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace file store")
	}
	return nil
}

func (s *FileStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].Key() == e.Key() {
			s.entries[i] = e
			return s.persist()
		}
	}
	s.entries = append(s.entries, e)
	return s.persist()
}

func (s *FileStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Key() == key {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (s *FileStore) Find(_ context.Context, localID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.LocalID == localID {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].Key() == key {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return s.persist()
		}
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return s.persist()
}

func (s *FileStore) Close() error { return nil }
