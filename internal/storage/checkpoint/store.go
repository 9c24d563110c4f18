// Package checkpoint persists evaluation output as a JSON array of
// single-key objects, {questionId: record} or {questionId: {}}.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/utils"
)

// ErrLocked is returned by Open when another process holds the store.
var ErrLocked = errors.New("checkpoint store is locked by another process")

// Store is the in-memory copy of an output file plus an exclusive advisory
// lock on it. Every mutation rewrites the whole file atomically.
type Store struct {
	path string
	lock *flock.Flock

	mu      sync.RWMutex
	entries []qa.Entry
}

// Open locks path and loads its entries. A missing file is an empty store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	entries, err := Load(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	logger.Info("Checkpoint store opened",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
	)

	return &Store{path: path, lock: lock, entries: entries}, nil
}

// Load reads the entries at path without locking. A missing or blank file
// yields an empty collection.
func Load(path string) ([]qa.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []qa.Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []qa.Entry{}, nil
	}

	var entries []qa.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	if entries == nil {
		entries = []qa.Entry{}
	}
	return entries, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.lock.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the collection in file order.
func (s *Store) Entries() []qa.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]qa.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Has reports whether any entry, empty or not, exists for id.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.QuestionID == id {
			return true
		}
	}
	return false
}

// HasAnswered reports whether a non-empty entry exists for id.
func (s *Store) HasAnswered(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.QuestionID == id && !e.Empty() {
			return true
		}
	}
	return false
}

// Append adds entry at the end and persists the collection.
func (s *Store) Append(entry qa.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if err := s.saveLocked(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return err
	}
	return nil
}

// Upsert replaces the first entry with the same id in place, or appends when
// there is none, and persists the collection.
func (s *Store) Upsert(entry qa.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.QuestionID == entry.QuestionID {
			prev := s.entries[i]
			s.entries[i] = entry
			if err := s.saveLocked(); err != nil {
				s.entries[i] = prev
				return err
			}
			return nil
		}
	}

	s.entries = append(s.entries, entry)
	if err := s.saveLocked(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return err
	}
	return nil
}

// Save rewrites the file from memory.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	entries := s.entries
	if entries == nil {
		entries = []qa.Entry{}
	}

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return utils.WriteFileAtomic(s.path, data)
}
