package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// OfflineStatus describes the attached offline climatology store.
type OfflineStatus struct {
	Path           string  `json:"path"`
	Provider       string  `json:"provider"`
	TileKm         float64 `json:"tileKm"`
	YearStart      int     `json:"yearStart,omitempty"`
	YearEnd        int     `json:"yearEnd,omitempty"`
	PopulatedTiles int     `json:"populatedTiles"`
}

// ProvidersStatus is the body of the providers endpoint.
type ProvidersStatus struct {
	Status        HealthStatus     `json:"status"`
	Time          Timestamp        `json:"time"`
	Providers     []ProviderStatus `json:"providers"`
	Pending       int              `json:"pending"`
	Queued        int              `json:"queued"`
	MemoryEntries int              `json:"memoryEntries"`
}

// ProviderStatus represents the pacing and breaker state of one upstream
// provider.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	IntervalMs    int64        `json:"intervalMs"`
	LastDispatch  *Timestamp   `json:"lastDispatch,omitempty"`
	DisabledUntil *Timestamp   `json:"disabledUntil,omitempty"`
	CircuitState  string       `json:"circuitState,omitempty"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	RateLimitHits int          `json:"rateLimitHits"`
	LastRateLimit *Timestamp   `json:"lastRateLimit,omitempty"`
	Message       *string      `json:"message,omitempty"`
}
