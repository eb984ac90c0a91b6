// Package file is a kvstore driver that keeps every entry in a single JSON
// document on disk. It suits CLIs that need a session to survive between
// invocations.
//
// SECURITY: the document holds credentials. It is written with 0600
// permissions inside a 0700 directory and values are never logged.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// document is the on-disk shape. []byte values are base64 encoded by
// encoding/json.
type document struct {
	Version int               `json:"version"`
	Entries map[string][]byte `json:"entries"`
}

// Store is a file-backed kvstore. All reads are served from memory; every
// mutation rewrites the document atomically (temp file + rename).
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string][]byte
}

var _ kvstore.Store = (*Store)(nil)

// Open loads the document at path, creating parent directories as needed.
// A missing file is an empty store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}

	s := &Store{
		path:    path,
		logger:  slogx.OrDefault(logger),
		entries: make(map[string][]byte),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", path, err)
	}
	if doc.Entries != nil {
		s.entries = doc.Entries
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.MultiSet(ctx, map[string][]byte{key: value})
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *Store) MultiSet(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyEntries()
	for k, v := range entries {
		b := make([]byte, len(v))
		copy(b, v)
		next[k] = b
	}
	return s.commit(ctx, next)
}

func (s *Store) MultiRemove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyEntries()
	changed := false
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.commit(ctx, next)
}

func (s *Store) copyEntries() map[string][]byte {
	out := make(map[string][]byte, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// commit persists next and only then swaps it in, so a failed write leaves
// the in-memory view matching the file. Caller holds s.mu.
func (s *Store) commit(ctx context.Context, next map[string][]byte) error {
	raw, err := json.Marshal(document{Version: 1, Entries: next})
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".kvstore-*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file store: chmod: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		s.logger.WarnContext(ctx, "kvstore_file_write_failed", "path", s.path, "err", err)
		return fmt.Errorf("file store: rename: %w", err)
	}

	s.entries = next
	s.logger.DebugContext(ctx, "kvstore_file_written", "path", s.path, "keys", len(next))
	return nil
}
