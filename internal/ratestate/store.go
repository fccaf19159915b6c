package ratestate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// DeadlineStore persists the circuit-breaker deadline so other processes
// sharing the cache directory observe it.
type DeadlineStore interface {
	// Load returns the stored deadline, or the zero time when none is set.
	Load() (time.Time, error)
	Save(deadline time.Time) error
	Clear() error
}

// DefaultDeadlineFile is the breaker file name inside the cache directory.
const DefaultDeadlineFile = "api_disabled_until.txt"

// FileStore keeps the deadline as a single float unix timestamp in a file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the deadline. A missing, empty or corrupt file reads as no
// deadline.
func (f *FileStore) Load() (time.Time, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	ts, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || ts <= 0 {
		return time.Time{}, nil
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), nil
}

// Save replaces the file atomically.
func (f *FileStore) Save(deadline time.Time) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating breaker dir: %w", err)
	}
	ts := float64(deadline.UnixNano()) / 1e9
	if err := renameio.WriteFile(f.path, []byte(strconv.FormatFloat(ts, 'f', 3, 64)), 0o644); err != nil {
		return fmt.Errorf("writing breaker file: %w", err)
	}
	return nil
}

// Clear removes the file.
func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is an in-process DeadlineStore, shareable between limiters to
// simulate processes on the same cache directory.
type MemoryStore struct {
	mu       sync.Mutex
	deadline time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline, nil
}

func (m *MemoryStore) Save(deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = deadline
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = time.Time{}
	return nil
}
