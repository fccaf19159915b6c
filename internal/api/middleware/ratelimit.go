package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/climaglyph/climaglyph/internal/api/models"
)

// RateLimitConfig is a fixed-window request budget per client IP.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

var (
	// LookupRateLimit applies to climatology lookups.
	LookupRateLimit = PerMinute(120)

	// OpsRateLimit applies to mutating ops endpoints.
	OpsRateLimit = PerMinute(10)
)

// PerMinute returns a one minute window allowing n requests.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

// RateLimitByIP limits requests per client IP, as resolved by chi's RealIP
// middleware. A non-positive limit disables limiting.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	// httprate does not expose the window reset; a full window is an upper bound.
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	detail := fmt.Sprintf("Rate limit of %d requests per %s exceeded. Please try again later.",
		cfg.RequestLimit, cfg.WindowLength)

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewTooManyRequests(GetRequestID(r.Context()), detail)
			problem.Instance = r.URL.Path
			w.Header().Set("Retry-After", retryAfter)
			problem.Write(w)
		}),
	)
}
