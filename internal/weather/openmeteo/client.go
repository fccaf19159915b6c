// Package openmeteo is the primary historical archive adapter. All calls go
// through the request coordinator, which owns caching, pacing and retries.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/weather"
	"github.com/climaglyph/climaglyph/internal/weather/coordinator"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "open-meteo"

	// DefaultBaseURL is the Open-Meteo historical archive endpoint.
	DefaultBaseURL = "https://archive-api.open-meteo.com/v1/archive"

	dailyFields = "temperature_2m_mean,temperature_2m_min,temperature_2m_max,precipitation_sum,windspeed_10m_mean,winddirection_10m_dominant"

	dateLayout = "2006-01-02"
	hourLayout = "2006-01-02T15:04"
)

// Resolver resolves raw payloads; *coordinator.Coordinator satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, r coordinator.Requester, key weather.RequestKey) (coordinator.Result, error)
}

// ClientConfig holds configuration for the Open-Meteo client.
type ClientConfig struct {
	// BaseURL is the archive endpoint (optional, defaults to DefaultBaseURL).
	BaseURL string

	// Resolver serves raw payloads (required).
	Resolver Resolver

	// FanOut bounds concurrent per-year fetches (default: weather.DefaultFanOut).
	FanOut int

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an Open-Meteo archive client.
type Client struct {
	baseURL  string
	resolver Resolver
	fanOut   int
	logger   zerolog.Logger
}

// NewClient creates a new Open-Meteo client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:  baseURL,
		resolver: cfg.Resolver,
		fanOut:   cfg.FanOut,
		logger:   cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return ProviderName
}

// BuildRequest returns the archive request for a daily, daily_range or
// hourly key. Coordinates are taken from the quantised key so every caller
// sharing a key sends the same URL.
func (c *Client) BuildRequest(ctx context.Context, key weather.RequestKey) (*http.Request, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.6f", key.Lat()))
	q.Set("longitude", fmt.Sprintf("%.6f", key.Lon()))

	switch key.Kind {
	case weather.KindDaily, weather.KindDailyRange:
		q.Set("start_date", key.StartDate().Format(dateLayout))
		q.Set("end_date", key.EndDate().Format(dateLayout))
		q.Set("daily", dailyFields)
		q.Set("timezone", "UTC")
		q.Set("wind_speed_unit", "ms")
	case weather.KindHourly:
		q.Set("start_date", key.StartDate().Format(dateLayout))
		q.Set("end_date", key.EndDate().Format(dateLayout))
		q.Set("hourly", "temperature_2m")
		q.Set("timezone", "auto")
	default:
		return nil, fmt.Errorf("unsupported key kind %q", key.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// FetchDaily fetches daily aggregates for one date.
func (c *Client) FetchDaily(ctx context.Context, lat, lon float64, year, month, day int) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if !weather.ValidDate(year, month, day) {
		return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true,
			Err: fmt.Errorf("invalid date %04d-%02d-%02d", year, month, day)}
	}

	res, err := c.resolver.Resolve(ctx, c, weather.DailyKey(lat, lon, year, month, day))
	if err != nil {
		return nil, err
	}
	rows, err := ParseDaily(res.Payload)
	if err != nil {
		return nil, err
	}
	return c.dailySeries(rows, res.Tier)
}

// FetchDailyRange fetches daily aggregates over an inclusive range.
func (c *Client) FetchDailyRange(ctx context.Context, lat, lon float64, start, end time.Time) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end %s before start %s", weather.ErrConfiguration,
			end.Format(dateLayout), start.Format(dateLayout))
	}

	res, err := c.resolver.Resolve(ctx, c, weather.DailyRangeKey(lat, lon, start, end))
	if err != nil {
		return nil, err
	}
	rows, err := ParseDaily(res.Payload)
	if err != nil {
		return nil, err
	}
	return c.dailySeries(rows, res.Tier)
}

// FetchHourly fetches hourly temperatures for one date.
func (c *Client) FetchHourly(ctx context.Context, lat, lon float64, year, month, day int) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if !weather.ValidDate(year, month, day) {
		return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true,
			Err: fmt.Errorf("invalid date %04d-%02d-%02d", year, month, day)}
	}

	res, err := c.resolver.Resolve(ctx, c, weather.HourlyKey(lat, lon, year, month, day))
	if err != nil {
		return nil, err
	}
	rows, err := ParseHourly(res.Payload)
	if err != nil {
		return nil, err
	}

	s := &weather.Series{Provider: ProviderName, Years: make(map[int]weather.Tier)}
	for _, r := range rows {
		if math.IsNaN(r.Temp) {
			continue
		}
		s.Hourly = append(s.Hourly, r)
		s.Years[r.Time.Year()] = res.Tier
	}
	if len(s.Hourly) == 0 {
		return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true}
	}
	return s, nil
}

// FetchSameDay fetches month/day for each year, one request per year.
func (c *Client) FetchSameDay(ctx context.Context, lat, lon float64, month, day int, years []int) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	s, err := weather.SameDay(ctx, ProviderName, years, month, day, c.fanOut, func(ctx context.Context, year int) (*weather.Series, error) {
		return c.FetchDaily(ctx, lat, lon, year, month, day)
	})
	if err != nil {
		c.logger.Info().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("no daily rows")
		return nil, err
	}

	c.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Int("years", s.MatchYears()).
		Ints("failed", s.Failed).
		Msg("same-day daily fetched")
	return s, nil
}

// FetchWindow fetches days consecutive days starting at month/day in each
// year with one range request per year. Rows are attributed to the year the
// window starts in, so a window crossing New Year counts once per year.
func (c *Client) FetchWindow(ctx context.Context, lat, lon float64, month, day, days int, years []int) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("%w: window of %d days", weather.ErrConfiguration, days)
	}

	return weather.SameDay(ctx, ProviderName, years, month, day, c.fanOut, func(ctx context.Context, year int) (*weather.Series, error) {
		start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		s, err := c.FetchDailyRange(ctx, lat, lon, start, start.AddDate(0, 0, days-1))
		if err != nil {
			return nil, err
		}
		tier := weather.TierNetwork
		for _, t := range s.Years {
			tier = t
		}
		s.Years = map[int]weather.Tier{year: tier}
		return s, nil
	})
}

// FetchHourlySameDay is FetchSameDay for hourly temperatures.
func (c *Client) FetchHourlySameDay(ctx context.Context, lat, lon float64, month, day int, years []int) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	return weather.SameDay(ctx, ProviderName, years, month, day, c.fanOut, func(ctx context.Context, year int) (*weather.Series, error) {
		return c.FetchHourly(ctx, lat, lon, year, month, day)
	})
}

func (c *Client) dailySeries(rows []weather.DailyRow, tier weather.Tier) (*weather.Series, error) {
	s := &weather.Series{Provider: ProviderName, Years: make(map[int]weather.Tier)}
	for _, r := range rows {
		if !r.Usable() {
			continue
		}
		s.Daily = append(s.Daily, r)
		s.Years[r.Date.Year()] = tier
	}
	if len(s.Daily) == 0 {
		return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true}
	}
	return s, nil
}

// archiveResponse is the subset of the archive payload we read. Nullable
// values decode to nil pointers.
type archiveResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`

	Daily *struct {
		Time      []string   `json:"time"`
		TempMean  []*float64 `json:"temperature_2m_mean"`
		TempMin   []*float64 `json:"temperature_2m_min"`
		TempMax   []*float64 `json:"temperature_2m_max"`
		Precip    []*float64 `json:"precipitation_sum"`
		WindSpeed []*float64 `json:"windspeed_10m_mean"`
		WindDir   []*float64 `json:"winddirection_10m_dominant"`
	} `json:"daily"`

	Hourly *struct {
		Time []string   `json:"time"`
		Temp []*float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

func decode(payload []byte) (*archiveResponse, error) {
	var resp archiveResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", weather.ErrMalformedResponse, ProviderName, err)
	}
	if resp.Error {
		return nil, fmt.Errorf("%w: %s: %s", weather.ErrInsufficientData, ProviderName, resp.Reason)
	}
	return &resp, nil
}

// ParseDaily converts an archive payload into rows sorted by date. Columns
// absent from the payload read as NaN.
func ParseDaily(payload []byte) ([]weather.DailyRow, error) {
	resp, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if resp.Daily == nil {
		return nil, fmt.Errorf("%w: %s: no daily block", weather.ErrMalformedResponse, ProviderName)
	}

	d := resp.Daily
	n := len(d.Time)
	for _, col := range [][]*float64{d.TempMean, d.TempMin, d.TempMax, d.Precip, d.WindSpeed, d.WindDir} {
		if col != nil && len(col) != n {
			return nil, fmt.Errorf("%w: %s: daily column length %d, want %d",
				weather.ErrMalformedResponse, ProviderName, len(col), n)
		}
	}

	rows := make([]weather.DailyRow, 0, n)
	for i, ts := range d.Time {
		date, err := time.Parse(dateLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad date %q", weather.ErrMalformedResponse, ProviderName, ts)
		}
		rows = append(rows, weather.DailyRow{
			Date:      date,
			MeanTemp:  at(d.TempMean, i),
			MinTemp:   at(d.TempMin, i),
			MaxTemp:   at(d.TempMax, i),
			Precip:    at(d.Precip, i),
			WindSpeed: at(d.WindSpeed, i),
			WindDir:   at(d.WindDir, i),
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

// ParseHourly converts an archive payload into hourly samples. Times are
// the provider's local wall time, stored as UTC.
func ParseHourly(payload []byte) ([]weather.HourlyRow, error) {
	resp, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if resp.Hourly == nil {
		return nil, fmt.Errorf("%w: %s: no hourly block", weather.ErrMalformedResponse, ProviderName)
	}

	h := resp.Hourly
	if h.Temp != nil && len(h.Temp) != len(h.Time) {
		return nil, fmt.Errorf("%w: %s: hourly column length %d, want %d",
			weather.ErrMalformedResponse, ProviderName, len(h.Temp), len(h.Time))
	}

	rows := make([]weather.HourlyRow, 0, len(h.Time))
	for i, ts := range h.Time {
		t, err := time.Parse(hourLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad time %q", weather.ErrMalformedResponse, ProviderName, ts)
		}
		rows = append(rows, weather.HourlyRow{Time: t, Temp: at(h.Temp, i)})
	}
	return rows, nil
}

func at(col []*float64, i int) float64 {
	if i >= len(col) || col[i] == nil {
		return math.NaN()
	}
	return *col[i]
}
