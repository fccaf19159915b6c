package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaglyph/climaglyph/internal/config"
)

const sampleTOML = `
[server]
port = 9090
rate_limit = 30

[logging]
level = "debug"
format = "console"

[offline]
db_path = "data/offline_weather_10y.sqlite"
strict = true

[pacing]
base_interval = "500ms"
max_interval = "10s"
retry_delays = ["1s", "2s"]
cooldown = "30s"
fan_out = 2

[meteostat]
api_key = "from-file"

[warm]
days = ["03-12", "07-14"]
spacing_km = 10

[[warm.targets]]
name = "Biarritz"
points = [[43.48, -1.56]]

[[warm.targets]]
name = "Col de Marie-Blanque"
polyline = "_p~iF~ps|U_ulLnnqC"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, t.TempDir(), "climaglyph.toml", sampleTOML)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.RateLimit)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Offline.Strict)
	assert.Equal(t, 500*time.Millisecond, cfg.Pacing.BaseInterval)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Pacing.RetryDelays)
	assert.Equal(t, "from-file", cfg.Meteostat.APIKey)
	require.Len(t, cfg.Warm.Targets, 2)
	assert.Equal(t, [][]float64{{43.48, -1.56}}, cfg.Warm.Targets[0].Points)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Climatology.YearsWindow)
	assert.Equal(t, "https://archive-api.open-meteo.com/v1/archive", cfg.OpenMeteo.BaseURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "climaglyph.toml", sampleTOML)

	t.Setenv("APP_PORT", "7070")
	t.Setenv("METEOSTAT_API_KEY", "from-env")
	t.Setenv("OFFLINE_STRICT", "off")
	t.Setenv("PROVIDER_RETRY_DELAYS", "10ms, 20ms")
	t.Setenv("WARM_DAYS", "01-01,02-29")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Meteostat.APIKey)
	assert.False(t, cfg.Offline.Strict)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, cfg.Pacing.RetryDelays)
	assert.Equal(t, []string{"01-01", "02-29"}, cfg.Warm.Days)
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("PROVIDER_COOLDOWN", "soon")

	_, err := config.Load("")
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "APP_PORT")
	assert.Contains(t, err.Error(), "PROVIDER_COOLDOWN")
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := writeFile(t, t.TempDir(), "broken.toml", "[server\nport = ")
	_, err = config.Load(path)
	require.Error(t, err)
}

func TestLoadWithFallback(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := config.LoadWithFallback("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Path, "defaults without any file")
	assert.Equal(t, 8080, cfg.Server.Port)

	writeFile(t, dir, "config/climaglyph.toml", "[server]\nport = 9191\n")
	cfg, err = config.LoadWithFallback("nowhere.toml")
	require.NoError(t, err)
	assert.Equal(t, "config/climaglyph.toml", cfg.Path)
	assert.Equal(t, 9191, cfg.Server.Port)

	writeFile(t, dir, ".env", "APP_PORT=6060\n")
	t.Cleanup(func() { os.Unsetenv("APP_PORT") })
	cfg, err = config.LoadWithFallback("")
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port, ".env applies on top of the file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port", func(c *config.Config) { c.Server.Port = 70000 }},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"log level", func(c *config.Config) { c.Logging.Level = "chatty" }},
		{"telemetry endpoint", func(c *config.Config) { c.Telemetry.Enabled = true; c.Telemetry.OTLPEndpoint = "" }},
		{"cache dir", func(c *config.Config) { c.Cache.Dir = "" }},
		{"interval order", func(c *config.Config) { c.Pacing.MaxInterval = time.Millisecond }},
		{"negative delay", func(c *config.Config) { c.Pacing.RetryDelays = []time.Duration{-time.Second} }},
		{"fan out", func(c *config.Config) { c.Pacing.FanOut = 0 }},
		{"years window", func(c *config.Config) { c.Climatology.YearsWindow = 0 }},
		{"warm day", func(c *config.Config) { c.Warm.Days = []string{"13-01"} }},
		{"empty target", func(c *config.Config) { c.Warm.Targets = []config.WarmTarget{{Name: "x"}} }},
		{"bad polyline", func(c *config.Config) {
			c.Warm.Targets = []config.WarmTarget{{Name: "x", Polyline: "_p~iF~ps|"}}
		}},
		{"bad point", func(c *config.Config) {
			c.Warm.Targets = []config.WarmTarget{{Name: "x", Points: [][]float64{{95, 0}}}}
		}},
	}

	def := config.Default()
	require.NoError(t, def.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}
}

func TestParseMonthDay(t *testing.T) {
	m, d, err := config.ParseMonthDay("02-29")
	require.NoError(t, err)
	assert.Equal(t, 2, m)
	assert.Equal(t, 29, d)

	for _, bad := range []string{"2-29x", "02-30", "12", ""} {
		_, _, err := config.ParseMonthDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestDeadlinePath(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = "/var/cache/climaglyph"
	assert.Equal(t, "/var/cache/climaglyph/api_disabled_until.txt", cfg.DeadlinePath())

	cfg.Cache.DeadlineFile = ""
	assert.Empty(t, cfg.DeadlinePath())
}
