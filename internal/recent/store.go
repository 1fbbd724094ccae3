// Package recent keeps the list of recently opened scene files.
package recent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// DefaultLimit caps the number of remembered files.
const DefaultLimit = 30

// Store persists recently opened paths as a JSON array, most recent first.
type Store struct {
	mu     sync.Mutex
	path   string
	limit  int
	logger *zap.Logger
}

// NewStore constructs a Store backed by the file at path.
func NewStore(path string, limit int, logger *zap.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, limit: limit, logger: logger}
}

// List returns the remembered paths. A missing or unreadable history is treated as empty.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Add records path as the most recent entry, removing any earlier occurrence, and returns the
// updated list.
func (s *Store) Add(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("recent: empty path")
	}
	if absolute, err := filepath.Abs(path); err == nil {
		path = absolute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read()
	if err != nil {
		return nil, err
	}
	entries := make([]string, 0, len(existing)+1)
	entries = append(entries, path)
	for _, entry := range existing {
		if entry != path {
			entries = append(entries, entry)
		}
	}
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	if err := s.write(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Clear forgets every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("recent: clear %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) read() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recent: read %s: %w", s.path, err)
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("discarding unreadable history", zap.String("path", s.path), zap.Error(err))
		return []string{}, nil
	}
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

func (s *Store) write(entries []string) error {
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("recent: create directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("recent: write %s: %w", s.path, err)
	}
	return nil
}
