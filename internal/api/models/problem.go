package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError is one rejected query parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem type URIs.
const (
	ProblemTypeValidation      = "https://climaglyph.dev/problems/validation-error"
	ProblemTypeNotFound        = "https://climaglyph.dev/problems/not-found"
	ProblemTypeOfflineMissing  = "https://climaglyph.dev/problems/offline-data-missing"
	ProblemTypeTooManyRequests = "https://climaglyph.dev/problems/too-many-requests"
	ProblemTypeInternal        = "https://climaglyph.dev/problems/internal-error"
	ProblemTypeUnavailable     = "https://climaglyph.dev/problems/service-unavailable"
)

// NewProblem creates a Problem without detail.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// Write sends the problem. The trace ID doubles as the X-Request-Id header.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func detailed(problemType, title string, status int, traceID, detail string) *Problem {
	p := NewProblem(problemType, title, status, traceID)
	p.Detail = detail
	return p
}

// NewBadRequest creates a 400 listing every rejected field.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := detailed(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// NewNotFound creates a 404.
func NewNotFound(traceID, detail string) *Problem {
	return detailed(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewOfflineDataMissing creates the 404 for a strict offline lookup that
// found no offline record.
func NewOfflineDataMissing(traceID, detail string) *Problem {
	return detailed(ProblemTypeOfflineMissing, "Offline climatology missing", http.StatusNotFound, traceID, detail)
}

// NewTooManyRequests creates a 429.
func NewTooManyRequests(traceID, detail string) *Problem {
	return detailed(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500.
func NewInternalError(traceID, detail string) *Problem {
	return detailed(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return detailed(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}
