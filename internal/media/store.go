// Package media keeps short-lived audio artifacts that the messaging
// platform downloads exactly once.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a file does not exist or was already read.
var ErrNotFound = errors.New("media: file not found")

var idPattern = regexp.MustCompile(`^[a-f0-9-]{36}(\.[a-z0-9]{1,5})?$`)

// File is a stored artifact.
type File struct {
	ID          string
	ContentType string
	Data        []byte
}

// Store writes artifacts to a directory and deletes them on first read.
type Store struct {
	dir string
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
}

// NewStore creates the directory if needed. Files older than ttl are removed
// by Sweep; a zero ttl keeps unread files until they are read.
func NewStore(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &Store{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Save stores data under a fresh id with the given extension and returns the id.
func (s *Store) Save(data []byte, ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	}
	id := uuid.NewString()
	if ext != "" {
		id += "." + ext
	}
	if err := os.WriteFile(filepath.Join(s.dir, id), data, 0o600); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}
	return id, nil
}

// Take returns the file and removes it. A second Take of the same id fails
// with ErrNotFound.
func (s *Store) Take(id string) (*File, error) {
	if !idPattern.MatchString(id) {
		return nil, ErrNotFound
	}
	path := filepath.Join(s.dir, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading media file: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing media file: %w", err)
	}
	return &File{ID: id, ContentType: mimetype.Detect(data).String(), Data: data}, nil
}

// Sweep removes files older than the store ttl and returns how many were
// removed.
func (s *Store) Sweep() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing media dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := s.now().Add(-s.ttl)
	for _, e := range entries {
		if e.IsDir() || !idPattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
