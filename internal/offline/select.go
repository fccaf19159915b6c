package offline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrNoStore is returned when no candidate file is a valid store.
var ErrNoStore = errors.New("no usable offline store")

// DefaultPattern matches per-year and combined store builds.
const DefaultPattern = "offline_weather*.sqlite"

// better reports whether a should be preferred over b: most populated tiles,
// then widest year span, then most recent modification time.
func better(a, b Meta) bool {
	if a.PopulatedTiles != b.PopulatedTiles {
		return a.PopulatedTiles > b.PopulatedTiles
	}
	if a.YearSpan() != b.YearSpan() {
		return a.YearSpan() > b.YearSpan()
	}
	return a.ModTime.After(b.ModTime)
}

// Select opens every candidate and keeps the best one. Rejected or
// unreadable candidates are logged and skipped.
func Select(ctx context.Context, paths []string, logger zerolog.Logger) (*Store, error) {
	var best *Store
	for _, p := range paths {
		s, err := Open(ctx, p, logger)
		if err != nil {
			logger.Warn().Err(err).Str("path", p).Msg("skipping offline store candidate")
			continue
		}
		if best == nil || better(s.meta, best.meta) {
			if best != nil {
				best.Close()
			}
			best = s
			continue
		}
		s.Close()
	}

	if best == nil {
		return nil, fmt.Errorf("%w among %d candidates", ErrNoStore, len(paths))
	}

	logger.Info().
		Str("path", best.meta.Path).
		Int("candidates", len(paths)).
		Msg("selected offline store")

	return best, nil
}

// Discover selects the best store among files in dir matching pattern
// (DefaultPattern when empty).
func Discover(ctx context.Context, dir, pattern string, logger zerolog.Logger) (*Store, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("globbing offline stores: %w", err)
	}
	return Select(ctx, paths, logger)
}
