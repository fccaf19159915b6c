// Package meteostat is the secondary adapter, used when the archive yields
// no usable rows. Meteostat serves station observations, so every point
// query first discovers nearby stations and then walks them by distance.
package meteostat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/weather"
	"github.com/climaglyph/climaglyph/internal/weather/coordinator"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "meteostat"

	// DefaultBaseURL is the Meteostat JSON API on RapidAPI.
	DefaultBaseURL = "https://meteostat.p.rapidapi.com"

	// DefaultHost is the RapidAPI host header value.
	DefaultHost = "meteostat.p.rapidapi.com"

	// DefaultStationLimit and DefaultRadius bound station discovery.
	DefaultStationLimit = 10
	DefaultRadius       = 75000 // meters

	kmhPerMs   = 3.6
	dateLayout = "2006-01-02"
)

// Resolver resolves raw payloads; *coordinator.Coordinator satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, r coordinator.Requester, key weather.RequestKey) (coordinator.Result, error)
}

// ClientConfig holds configuration for the Meteostat client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to DefaultBaseURL).
	BaseURL string

	// APIKey is the RapidAPI key. Requests fail with a configuration error
	// when it is empty.
	APIKey string

	// Host is the RapidAPI host header (optional, defaults to DefaultHost).
	Host string

	// Resolver serves raw payloads (required).
	Resolver Resolver

	// StationLimit and Radius tune station discovery.
	StationLimit int
	Radius       int

	// FanOut bounds concurrent per-year fetches.
	FanOut int

	Logger zerolog.Logger
}

// Client is a Meteostat API client.
type Client struct {
	baseURL      string
	apiKey       string
	host         string
	resolver     Resolver
	stationLimit int
	radius       int
	fanOut       int
	logger       zerolog.Logger
}

// NewClient creates a new Meteostat client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	limit := cfg.StationLimit
	if limit <= 0 {
		limit = DefaultStationLimit
	}
	radius := cfg.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}

	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		host:         host,
		resolver:     cfg.Resolver,
		stationLimit: limit,
		radius:       radius,
		fanOut:       cfg.FanOut,
		logger:       cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return ProviderName
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// BuildRequest returns the request for a station_nearby or station_daily key.
func (c *Client) BuildRequest(ctx context.Context, key weather.RequestKey) (*http.Request, error) {
	if c.apiKey == "" {
		return nil, errors.New("meteostat api key not configured")
	}

	var endpoint string
	q := url.Values{}

	switch key.Kind {
	case weather.KindStationNearby:
		endpoint = "/stations/nearby"
		q.Set("lat", strconv.FormatFloat(key.Lat(), 'f', 4, 64))
		q.Set("lon", strconv.FormatFloat(key.Lon(), 'f', 4, 64))
		q.Set("limit", strconv.Itoa(c.stationLimit))
		q.Set("radius", strconv.Itoa(c.radius))
	case weather.KindStationDaily:
		endpoint = "/stations/daily"
		q.Set("station", key.Station)
		q.Set("start", key.StartDate().Format(dateLayout))
		q.Set("end", key.EndDate().Format(dateLayout))
	default:
		return nil, fmt.Errorf("unsupported key kind %q", key.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Station is a nearby observing station.
type Station struct {
	ID       string
	Name     string
	Distance float64 // meters
}

// Stations returns stations near the point ordered by distance.
func (c *Client) Stations(ctx context.Context, lat, lon float64) ([]Station, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	res, err := c.resolver.Resolve(ctx, c, weather.StationNearbyKey(lat, lon))
	if err != nil {
		return nil, err
	}
	stations, err := ParseStations(res.Payload)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true, Err: errors.New("no station nearby")}
	}
	return stations, nil
}

// FetchDaily returns one date of observations from the nearest station that
// has a usable row for it.
func (c *Client) FetchDaily(ctx context.Context, lat, lon float64, year, month, day int) (*weather.Series, error) {
	if !weather.ValidDate(year, month, day) {
		return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true,
			Err: fmt.Errorf("invalid date %04d-%02d-%02d", year, month, day)}
	}

	stations, err := c.Stations(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	for _, st := range stations {
		res, err := c.resolver.Resolve(ctx, c, weather.StationDailyKey(st.ID, date, date))
		if err != nil {
			if weather.IsInsufficient(err) {
				c.logger.Debug().Err(err).Str("station", st.ID).Msg("station rejected, trying next")
				continue
			}
			return nil, err
		}

		rows, err := ParseDaily(res.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Str("station", st.ID).Msg("unreadable station payload")
			continue
		}

		s := &weather.Series{Provider: ProviderName, Years: make(map[int]weather.Tier)}
		for _, r := range rows {
			if r.Usable() {
				s.Daily = append(s.Daily, r)
				s.Years[r.Date.Year()] = res.Tier
			}
		}
		if len(s.Daily) > 0 {
			c.logger.Debug().Str("station", st.ID).Int("year", year).Msg("station yielded rows")
			return s, nil
		}
	}

	return nil, &weather.NoDataError{Provider: ProviderName, Reachable: true,
		Err: fmt.Errorf("none of %d stations had data", len(stations))}
}

// FetchSameDay fetches month/day for each year.
func (c *Client) FetchSameDay(ctx context.Context, lat, lon float64, month, day int, years []int) (*weather.Series, error) {
	if err := weather.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	return weather.SameDay(ctx, ProviderName, years, month, day, c.fanOut, func(ctx context.Context, year int) (*weather.Series, error) {
		return c.FetchDaily(ctx, lat, lon, year, month, day)
	})
}

type nearbyResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name struct {
			En string `json:"en"`
		} `json:"name"`
		Distance float64 `json:"distance"`
	} `json:"data"`
}

// ParseStations decodes a /stations/nearby payload ordered by distance.
func ParseStations(payload []byte) ([]Station, error) {
	var resp nearbyResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", weather.ErrMalformedResponse, ProviderName, err)
	}

	stations := make([]Station, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.ID == "" {
			continue
		}
		stations = append(stations, Station{ID: d.ID, Name: d.Name.En, Distance: d.Distance})
	}
	sort.SliceStable(stations, func(i, j int) bool { return stations[i].Distance < stations[j].Distance })
	return stations, nil
}

type dailyResponse struct {
	Data []struct {
		Date string   `json:"date"`
		Tavg *float64 `json:"tavg"`
		Tmin *float64 `json:"tmin"`
		Tmax *float64 `json:"tmax"`
		Prcp *float64 `json:"prcp"`
		Wspd *float64 `json:"wspd"`
		Wdir *float64 `json:"wdir"`
	} `json:"data"`
}

// ParseDaily decodes a /stations/daily payload into normalised rows: wind
// speed converted from km/h to m/s, a missing mean replaced by the min/max
// midpoint.
func ParseDaily(payload []byte) ([]weather.DailyRow, error) {
	var resp dailyResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", weather.ErrMalformedResponse, ProviderName, err)
	}

	rows := make([]weather.DailyRow, 0, len(resp.Data))
	for _, d := range resp.Data {
		// Station daily dates carry a time part on some endpoints.
		ts := d.Date
		if len(ts) > len(dateLayout) {
			ts = ts[:len(dateLayout)]
		}
		date, err := time.Parse(dateLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad date %q", weather.ErrMalformedResponse, ProviderName, d.Date)
		}

		row := weather.DailyRow{
			Date:      date,
			MeanTemp:  val(d.Tavg),
			MinTemp:   val(d.Tmin),
			MaxTemp:   val(d.Tmax),
			Precip:    val(d.Prcp),
			WindSpeed: val(d.Wspd) / kmhPerMs,
			WindDir:   val(d.Wdir),
		}
		if math.IsNaN(row.MeanTemp) && !math.IsNaN(row.MinTemp) && !math.IsNaN(row.MaxTemp) {
			row.MeanTemp = (row.MinTemp + row.MaxTemp) / 2
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

func val(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
