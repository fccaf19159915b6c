package cache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaglyph/climaglyph/internal/weather"
	"github.com/climaglyph/climaglyph/internal/weather/cache"
)

func TestMemory(t *testing.T) {
	m := cache.NewMemory()
	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)

	_, ok := m.Get(key)
	assert.False(t, ok)

	m.Set(key, []byte(`{"daily":{}}`))

	got, ok := m.Get(weather.DailyKey(43.52, -1.48, 2020, 3, 12))
	require.True(t, ok, "quantised neighbour hits")
	assert.Equal(t, `{"daily":{}}`, string(got))
	assert.Equal(t, 1, m.Len())
}

func TestDisk_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := cache.NewDisk(dir, zerolog.Nop())
	require.NoError(t, err)

	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)
	require.NoError(t, d.Put(key, []byte(`{"daily":{"time":["2020-03-12"]}}`)))

	_, err = os.Stat(filepath.Join(dir, "daily_oneday_lat43.5_lon-1.5_y2020_m03_d12.json"))
	require.NoError(t, err)

	got, ok := d.Get(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"daily":{"time":["2020-03-12"]}}`, string(got))
}

func TestDisk_HourlyIsMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	d, err := cache.NewDisk(dir, zerolog.Nop())
	require.NoError(t, err)

	key := weather.HourlyKey(43.5, -1.5, 2020, 3, 12)
	require.NoError(t, d.Put(key, []byte(`{}`)))

	_, ok := d.Get(key)
	assert.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDisk_CorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	d, err := cache.NewDisk(dir, zerolog.Nop())
	require.NoError(t, err)

	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)
	require.NoError(t, os.WriteFile(d.Path(key), []byte(`{"daily":`), 0o644))

	_, ok := d.Get(key)
	assert.False(t, ok)
}

func TestDisk_PutReplacesFile(t *testing.T) {
	dir := t.TempDir()
	d, err := cache.NewDisk(dir, zerolog.Nop())
	require.NoError(t, err)

	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)
	require.NoError(t, d.Put(key, []byte(`{"v":1}`)))
	require.NoError(t, d.Put(key, []byte(`{"v":2}`)))

	got, ok := d.Get(key)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, key.Filename(), entries[0].Name())
}
