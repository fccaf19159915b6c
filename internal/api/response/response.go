// Package response writes JSON and problem responses for the API.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/climaglyph/climaglyph/internal/api/middleware"
	"github.com/climaglyph/climaglyph/internal/api/models"
)

// Max ages for lookups. Offline and archive statistics only change when a
// new year completes; synthetic fallbacks are never cached.
const (
	ClimatologyMaxAge = time.Hour
	OfflineMaxAge     = 24 * time.Hour
)

func echoRequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := middleware.GetRequestID(r.Context())
	if requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	return requestID
}

// JSON writes a JSON response with the given status code and echoes the
// request ID.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	echoRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Cached writes a 200 JSON response that clients may keep for maxAge.
// A non-positive maxAge marks the response no-store.
func Cached(w http.ResponseWriter, r *http.Request, maxAge time.Duration, data any) {
	if maxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge/time.Second)))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	JSON(w, r, http.StatusOK, data)
}

// Error writes a Problem+JSON error response for the request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// fail builds a problem with the request ID as trace ID and writes it.
func fail(w http.ResponseWriter, r *http.Request, build func(traceID string) *models.Problem) {
	Error(w, r, build(echoRequestID(w, r)))
}

// BadRequest writes a 400 listing the offending fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	fail(w, r, func(id string) *models.Problem { return models.NewBadRequest(id, detail, errors) })
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, func(id string) *models.Problem { return models.NewNotFound(id, detail) })
}

// OfflineDataMissing writes the 404 returned by strict offline lookups.
func OfflineDataMissing(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, func(id string) *models.Problem { return models.NewOfflineDataMissing(id, detail) })
}

// InternalError writes a 500. detail must not carry internal error text.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, func(id string) *models.Problem { return models.NewInternalError(id, detail) })
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, func(id string) *models.Problem { return models.NewServiceUnavailable(id, detail) })
}

// NoContent writes a 204 and echoes the request ID.
func NoContent(w http.ResponseWriter, r *http.Request) {
	echoRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}
