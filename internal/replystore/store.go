// ABOUTME: Durable set of already-greeted correspondent ids
// ABOUTME: JSON-array file storage with atomic rewrite on every mutation

package replystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store tracks which correspondents have already been greeted. The
// in-memory set is the source of truth for the running process;
// persistence is best-effort durability, not atomicity.
type Store struct {
	mu     sync.Mutex
	path   string
	seen   map[string]struct{}
	order  []string // insertion order, preserved in the persisted file
	logger *slog.Logger
}

// Open loads the store from path. A missing file yields an empty store
// and no error. A corrupt file yields an empty store and a logged
// warning; it is never fatal.
func Open(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		seen:   make(map[string]struct{}),
		logger: logger.With("component", "replystore"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading replied store, starting empty", "path", path, "error", err)
		}
		return s
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn("parsing replied store, starting empty", "path", path, "error", err)
		return s
	}

	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.order = append(s.order, id)
	}

	s.logger.Info("loaded replied store", "path", path, "count", len(s.order))
	return s
}

// Has reports whether the correspondent has already been greeted.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// MarkReplied records that the correspondent has been greeted and saves
// the store. It is idempotent. A save failure is returned for logging
// but the in-memory add is not rolled back.
func (s *Store) MarkReplied(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return nil
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)

	return s.saveLocked()
}

// Count returns the number of correspondents greeted so far.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Save persists the current set. Called on shutdown in addition to the
// per-mutation saves.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the full id list as a JSON array via a temp file and
// rename, so a crash mid-write never corrupts the previous state.
// Must be called with mu held.
func (s *Store) saveLocked() error {
	ids := s.order
	if ids == nil {
		ids = []string{}
	}

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding replied store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".replied-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing replied store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing replied store: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing replied store: %w", err)
	}

	return nil
}
