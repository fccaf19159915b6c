// Package config loads climaglyph configuration from an optional .env file,
// an optional TOML file and environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/climaglyph/climaglyph/pkg/polyline"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultSearchPaths are tried in order by LoadWithFallback after the
// preferred path.
var DefaultSearchPaths = []string{
	"climaglyph.toml",
	"config/climaglyph.toml",
}

// Config is the complete application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Cache       CacheConfig       `toml:"cache"`
	Offline     OfflineConfig     `toml:"offline"`
	OpenMeteo   OpenMeteoConfig   `toml:"open_meteo"`
	Meteostat   MeteostatConfig   `toml:"meteostat"`
	Pacing      PacingConfig      `toml:"pacing"`
	Climatology ClimatologyConfig `toml:"climatology"`
	Warm        WarmConfig        `toml:"warm"`

	// Path is the TOML file the values came from, empty when none was found.
	Path string `toml:"-"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port         int           `toml:"port"`
	Environment  string        `toml:"environment"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`

	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or console
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// CacheConfig locates the on-disk tiers.
type CacheConfig struct {
	// Dir holds the disk cache and the breaker deadline file.
	Dir string `toml:"dir"`

	// DeadlineFile is the breaker file name inside Dir.
	DeadlineFile string `toml:"deadline_file"`
}

// OfflineConfig locates the offline climatology store.
type OfflineConfig struct {
	// DBPath pins a single store file. When empty SearchDir is scanned.
	DBPath    string `toml:"db_path"`
	SearchDir string `toml:"search_dir"`
	Pattern   string `toml:"pattern"`

	// Strict makes lookups default to strict offline mode.
	Strict bool `toml:"strict"`
}

// OpenMeteoConfig configures the primary archive provider.
type OpenMeteoConfig struct {
	BaseURL string        `toml:"base_url"`
	Timeout time.Duration `toml:"timeout"`
}

// MeteostatConfig configures the secondary provider. It is disabled without
// an API key.
type MeteostatConfig struct {
	BaseURL string        `toml:"base_url"`
	APIKey  string        `toml:"api_key"`
	Host    string        `toml:"host"`
	Timeout time.Duration `toml:"timeout"`
}

// PacingConfig configures the per-provider rate state and retry ladder.
type PacingConfig struct {
	BaseInterval time.Duration   `toml:"base_interval"`
	MaxInterval  time.Duration   `toml:"max_interval"`
	RetryDelays  []time.Duration `toml:"retry_delays"`
	Cooldown     time.Duration   `toml:"cooldown"`
	FanOut       int             `toml:"fan_out"`
}

// ClimatologyConfig configures the lookup service.
type ClimatologyConfig struct {
	YearsWindow   int `toml:"years_window"`
	MinUsableRows int `toml:"min_usable_rows"`
}

// WarmConfig configures the cache warming worker.
type WarmConfig struct {
	// Days are calendar days as MM-DD.
	Days        []string      `toml:"days"`
	Concurrency int           `toml:"concurrency"`
	Timeout     time.Duration `toml:"timeout"`
	Interval    time.Duration `toml:"interval"`

	// SpacingKm thins polyline targets to one point per SpacingKm.
	SpacingKm float64 `toml:"spacing_km"`

	Targets []WarmTarget `toml:"targets"`
}

// WarmTarget is a named set of points or an encoded polyline.
type WarmTarget struct {
	Name     string      `toml:"name"`
	Priority int         `toml:"priority"`
	Points   [][]float64 `toml:"points"`
	Polyline string      `toml:"polyline"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			Environment:  "development",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit:    120,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
		Cache: CacheConfig{
			Dir:          "cache",
			DeadlineFile: "api_disabled_until.txt",
		},
		Offline: OfflineConfig{
			SearchDir: "data",
			Pattern:   "offline_weather*.sqlite",
		},
		OpenMeteo: OpenMeteoConfig{
			BaseURL: "https://archive-api.open-meteo.com/v1/archive",
			Timeout: 30 * time.Second,
		},
		Meteostat: MeteostatConfig{
			BaseURL: "https://meteostat.p.rapidapi.com",
			Host:    "meteostat.p.rapidapi.com",
			Timeout: 30 * time.Second,
		},
		Pacing: PacingConfig{
			BaseInterval: 1150 * time.Millisecond,
			MaxInterval:  30 * time.Second,
			RetryDelays: []time.Duration{
				2 * time.Second, 5 * time.Second, 10 * time.Second,
				20 * time.Second, 40 * time.Second, 80 * time.Second,
			},
			Cooldown: 60 * time.Second,
			FanOut:   4,
		},
		Climatology: ClimatologyConfig{
			YearsWindow:   10,
			MinUsableRows: 1,
		},
		Warm: WarmConfig{
			Concurrency: 2,
			Timeout:     5 * time.Minute,
			SpacingKm:   25,
		},
	}
}

// Load builds the configuration from the TOML file at path (defaults only
// when path is empty), then applies environment overrides. A .env file in
// the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		cfg.Path = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithFallback loads the first existing file among preferredPath and
// DefaultSearchPaths. Without any file the defaults plus environment are
// used.
func LoadWithFallback(preferredPath string) (*Config, error) {
	seen := make(map[string]bool)
	for _, p := range append([]string{preferredPath}, DefaultSearchPaths...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Load("")
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.Server.Port = getEnvInt("PORT", c.Server.Port, collect)
	c.Server.Port = getEnvInt("APP_PORT", c.Server.Port, collect)
	c.Server.Environment = getEnvOrDefault("APP_ENV", c.Server.Environment)
	c.Server.RateLimit = getEnvInt("RATE_LIMIT_PER_MINUTE", c.Server.RateLimit, collect)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)

	c.Telemetry.Enabled = getEnvBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)

	c.Cache.Dir = getEnvOrDefault("CACHE_DIR", c.Cache.Dir)

	c.Offline.DBPath = getEnvOrDefault("OFFLINE_WEATHER_DB", c.Offline.DBPath)
	c.Offline.SearchDir = getEnvOrDefault("OFFLINE_WEATHER_DIR", c.Offline.SearchDir)
	c.Offline.Strict = getEnvBool("OFFLINE_STRICT", c.Offline.Strict)

	c.OpenMeteo.BaseURL = getEnvOrDefault("OPEN_METEO_BASE_URL", c.OpenMeteo.BaseURL)

	c.Meteostat.BaseURL = getEnvOrDefault("METEOSTAT_BASE_URL", c.Meteostat.BaseURL)
	c.Meteostat.APIKey = getEnvOrDefault("METEOSTAT_API_KEY", c.Meteostat.APIKey)
	c.Meteostat.Host = getEnvOrDefault("METEOSTAT_HOST", c.Meteostat.Host)

	c.Pacing.BaseInterval = getEnvDuration("PROVIDER_BASE_INTERVAL", c.Pacing.BaseInterval, collect)
	c.Pacing.MaxInterval = getEnvDuration("PROVIDER_MAX_INTERVAL", c.Pacing.MaxInterval, collect)
	c.Pacing.Cooldown = getEnvDuration("PROVIDER_COOLDOWN", c.Pacing.Cooldown, collect)
	if v := os.Getenv("PROVIDER_RETRY_DELAYS"); v != "" {
		delays, err := parseDurations(v)
		if err != nil {
			collect(fmt.Errorf("%w: PROVIDER_RETRY_DELAYS: %w", ErrInvalidConfig, err))
		} else {
			c.Pacing.RetryDelays = delays
		}
	}

	c.Climatology.YearsWindow = getEnvInt("YEARS_WINDOW", c.Climatology.YearsWindow, collect)

	if v := os.Getenv("WARM_DAYS"); v != "" {
		c.Warm.Days = splitList(v)
	}

	return errors.Join(errs...)
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("server port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		fail("rate_limit must be >= 0")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		fail("logging format %q (want json or console)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		fail("logging level %q", c.Logging.Level)
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		fail("telemetry enabled without otlp_endpoint")
	}
	if c.Cache.Dir == "" {
		fail("cache dir is required")
	}
	if c.OpenMeteo.BaseURL == "" {
		fail("open_meteo base_url is required")
	}
	if c.Pacing.BaseInterval <= 0 {
		fail("pacing base_interval must be positive")
	}
	if c.Pacing.MaxInterval < c.Pacing.BaseInterval {
		fail("pacing max_interval %s below base_interval %s", c.Pacing.MaxInterval, c.Pacing.BaseInterval)
	}
	for _, d := range c.Pacing.RetryDelays {
		if d < 0 {
			fail("negative retry delay %s", d)
		}
	}
	if c.Pacing.FanOut < 1 {
		fail("pacing fan_out must be >= 1")
	}
	if c.Climatology.YearsWindow < 1 {
		fail("climatology years_window must be >= 1")
	}
	if c.Climatology.MinUsableRows < 1 {
		fail("climatology min_usable_rows must be >= 1")
	}

	for _, d := range c.Warm.Days {
		if _, _, err := ParseMonthDay(d); err != nil {
			fail("warm day: %v", err)
		}
	}
	for i, t := range c.Warm.Targets {
		if len(t.Points) == 0 && t.Polyline == "" {
			fail("warm target %d (%s) has neither points nor polyline", i, t.Name)
		}
		if t.Polyline != "" {
			if err := polyline.Validate(t.Polyline); err != nil {
				fail("warm target %s: %v", t.Name, err)
			}
		}
		for _, p := range t.Points {
			if len(p) != 2 || p[0] < -90 || p[0] > 90 || p[1] < -180 || p[1] > 180 {
				fail("warm target %s: invalid point %v", t.Name, p)
			}
		}
	}
	if len(c.Warm.Targets) > 0 && c.Warm.SpacingKm <= 0 {
		fail("warm spacing_km must be positive")
	}

	return errors.Join(errs...)
}

// DeadlinePath is the breaker deadline file location.
func (c *Config) DeadlinePath() string {
	if c.Cache.DeadlineFile == "" {
		return ""
	}
	return filepath.Join(c.Cache.Dir, c.Cache.DeadlineFile)
}

// ParseMonthDay parses an MM-DD calendar day. 29 Feb is accepted.
func ParseMonthDay(s string) (month, day int, err error) {
	t, err := time.Parse("2006-01-02", "2000-"+strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("calendar day %q: want MM-DD", s)
	}
	return int(t.Month()), t.Day(), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, collect func(error)) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		collect(fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, collect func(error)) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		collect(fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v))
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func parseDurations(s string) ([]time.Duration, error) {
	parts := splitList(s)
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
