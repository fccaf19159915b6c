// Package cache holds raw provider payloads in memory and on disk.
//
// Entries never expire: the key space (calendar day x coordinate bucket x
// year) is finite, so neither tier evicts.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/weather"
)

// Memory is the in-process tier keyed by RequestKey.String().
type Memory struct {
	c *gocache.Cache
}

// NewMemory returns an empty memory tier without expiry or janitor.
func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the payload for key.
func (m *Memory) Get(key weather.RequestKey) ([]byte, bool) {
	v, ok := m.c.Get(key.String())
	if !ok {
		return nil, false
	}
	payload, ok := v.([]byte)
	return payload, ok
}

// Set stores the payload for key.
func (m *Memory) Set(key weather.RequestKey, payload []byte) {
	m.c.Set(key.String(), payload, gocache.NoExpiration)
}

// Len returns the number of cached payloads.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}

// Disk mirrors payloads to one file per key inside a directory.
type Disk struct {
	dir    string
	logger zerolog.Logger
}

// NewDisk returns a disk tier rooted at dir, creating it if needed.
func NewDisk(dir string, logger zerolog.Logger) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Disk{
		dir:    dir,
		logger: logger.With().Str("component", "disk_cache").Logger(),
	}, nil
}

// Dir returns the cache directory.
func (d *Disk) Dir() string { return d.dir }

// Path returns the file that holds key.
func (d *Disk) Path(key weather.RequestKey) string {
	return filepath.Join(d.dir, key.Filename())
}

// Get reads the payload for key. Keys that are not disk-cached, missing
// files and files that are not valid JSON all read as a miss.
func (d *Disk) Get(key weather.RequestKey) ([]byte, bool) {
	if !key.DiskCached() {
		return nil, false
	}

	data, err := os.ReadFile(d.Path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn().Err(err).Str("key", key.String()).Msg("reading cache file")
		}
		return nil, false
	}
	if !json.Valid(data) {
		d.logger.Warn().Str("key", key.String()).Msg("ignoring corrupt cache file")
		return nil, false
	}
	return data, true
}

// Put replaces the file for key atomically. Keys that are not disk-cached
// are ignored.
func (d *Disk) Put(key weather.RequestKey, payload []byte) error {
	if !key.DiskCached() {
		return nil
	}
	if err := renameio.WriteFile(d.Path(key), payload, 0o644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}
