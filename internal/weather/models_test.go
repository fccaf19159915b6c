package weather_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/climaglyph/climaglyph/internal/weather"
)

func TestDailyKey_Quantization(t *testing.T) {
	a := weather.DailyKey(43.51, -1.54, 2020, 3, 12)
	b := weather.DailyKey(43.49, -1.46, 2020, 3, 12)

	assert.Equal(t, a, b, "nearby points share a key")
	assert.Equal(t, "daily:43.50_-1.50_2020_03_12", a.String())
	assert.Equal(t, "daily_oneday_lat43.5_lon-1.5_y2020_m03_d12.json", a.Filename())
}

func TestRequestKey_Filenames(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  weather.RequestKey
		want string
	}{
		{"hourly", weather.HourlyKey(52.37, 4.9, 2019, 7, 1), "hourly_oneday_lat52.4_lon4.9_y2019_m07_d01.json"},
		{"range", weather.DailyRangeKey(52.37, 4.9, start, end), "daily_range_lat52.4_lon4.9_20200101_20201231.json"},
		{"nearby", weather.StationNearbyKey(52.37, 4.9), "meteostat_nearby_lat52.4_lon4.9.json"},
		{"station", weather.StationDailyKey("06240", start, start), "meteostat_daily_06240_20200101_20200101.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Filename())
		})
	}
}

func TestRequestKey_Dates(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)
	key := weather.DailyRangeKey(0, 0, start, end)

	assert.Equal(t, start, key.StartDate())
	assert.Equal(t, end, key.EndDate())

	day := weather.DailyKey(0, 0, 2021, 6, 5)
	assert.Equal(t, time.Date(2021, 6, 5, 0, 0, 0, 0, time.UTC), day.StartDate())
	assert.Equal(t, day.StartDate(), day.EndDate())
}

func TestRequestKey_DiskCached(t *testing.T) {
	assert.True(t, weather.DailyKey(0, 0, 2020, 1, 1).DiskCached())
	assert.False(t, weather.HourlyKey(0, 0, 2020, 1, 1).DiskCached())
}

func TestNoDataError(t *testing.T) {
	reachable := &weather.NoDataError{Provider: "open-meteo", Reachable: true}
	assert.True(t, errors.Is(reachable, weather.ErrInsufficientData))
	assert.False(t, errors.Is(reachable, weather.ErrTemporarilyUnavailable))

	cause := errors.New("dial tcp: refused")
	unreachable := &weather.NoDataError{Provider: "open-meteo", Err: cause}
	assert.True(t, errors.Is(unreachable, weather.ErrTemporarilyUnavailable))
	assert.True(t, errors.Is(unreachable, cause))
	assert.Contains(t, unreachable.Error(), "unreachable")
}

func TestDailyRow_Usable(t *testing.T) {
	nan := math.NaN()

	assert.True(t, weather.DailyRow{MeanTemp: 10, MinTemp: nan, MaxTemp: nan}.Usable())
	assert.True(t, weather.DailyRow{MeanTemp: nan, MinTemp: 5, MaxTemp: 15}.Usable())
	assert.False(t, weather.DailyRow{MeanTemp: nan, MinTemp: 5, MaxTemp: nan}.Usable())
}

func TestValidDate(t *testing.T) {
	assert.True(t, weather.ValidDate(2020, 2, 29))
	assert.False(t, weather.ValidDate(2021, 2, 29))
	assert.False(t, weather.ValidDate(2021, 13, 1))
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, weather.ValidateCoordinates(43.5, -1.5))
	assert.ErrorIs(t, weather.ValidateCoordinates(91, 0), weather.ErrInvalidCoordinates)
	assert.ErrorIs(t, weather.ValidateCoordinates(0, 181), weather.ErrInvalidCoordinates)
}
