package weather

import (
	"errors"
	"fmt"
)

// Weather errors.
var (
	// ErrTemporarilyUnavailable means the provider could not be reached, the
	// circuit breaker is open, or retries were exhausted. Callers fall back.
	ErrTemporarilyUnavailable = errors.New("weather provider temporarily unavailable")

	// ErrInsufficientData means the provider answered but produced fewer
	// usable rows than required.
	ErrInsufficientData = errors.New("insufficient weather data")

	// ErrMalformedResponse means the payload did not match the expected schema.
	// It is treated as ErrInsufficientData by the fallback chain.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrConfiguration covers invalid offline stores, grids and settings.
	ErrConfiguration = errors.New("weather configuration error")

	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// NoDataError reports that a provider produced no usable rows. Reachable
// distinguishes "answered with zero matching rows" from "could not be reached".
type NoDataError struct {
	Provider  string
	Reachable bool
	Err       error
}

func (e *NoDataError) Error() string {
	state := "unreachable"
	if e.Reachable {
		state = "returned no rows"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, state, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Provider, state)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *NoDataError) Unwrap() []error {
	kind := ErrTemporarilyUnavailable
	if e.Reachable {
		kind = ErrInsufficientData
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// IsInsufficient reports whether err should trigger provider fallback as
// "no usable data" (including malformed payloads).
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrMalformedResponse)
}
