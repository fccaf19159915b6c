package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/climaglyph/climaglyph/internal/climatology"
)

// StatsProvider computes climatology for a point. *climatology.Service
// satisfies it.
type StatsProvider interface {
	StatsAt(ctx context.Context, q climatology.Query) (climatology.Stats, error)
}

// RefreshJob warms the caches behind StatsProvider for every configured
// point and day.
type RefreshJob struct {
	config RefreshConfig
	logger zerolog.Logger
	stats  StatsProvider
	now    func() time.Time

	// Metrics
	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes    int64
	SuccessfulRefresh int64
	FailedRefreshes   int64

	// Outcomes by provenance
	CacheHits      int64
	NetworkFetches int64
	Synthetic      int64

	// Timings
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config RefreshConfig
	Logger zerolog.Logger
	Stats  StatsProvider
	Now    func() time.Time
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	def := DefaultRefreshConfig()
	if len(config.Targets) == 0 {
		config.Targets = def.Targets
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.SpacingKm <= 0 {
		config.SpacingKm = def.SpacingKm
	}
	if config.Mode == "" {
		config.Mode = def.Mode
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RefreshJob{
		config:  config,
		logger:  cfg.Logger.With().Str("component", "warm").Logger(),
		stats:   cfg.Stats,
		now:     now,
		metrics: &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh operation.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// TotalTasks is points times days.
	TotalTasks int
	Successful int
	Failed     int
	// Skipped counts tasks not attempted because the context ended.
	Skipped int

	CacheHits      int
	NetworkFetches int
	Synthetic      int

	Errors []RefreshError
}

// RefreshError represents an error during refresh.
type RefreshError struct {
	Point Point
	Day   CalendarDay
	Error string
}

type task struct {
	point Point
	day   CalendarDay
}

type taskResult struct {
	task   task
	source climatology.Source
	err    error
}

// Run warms every point for every day and returns once all lookups have
// finished or ctx is done.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	startTime := j.now()
	points := j.config.AllPoints()
	days := j.config.days(startTime)

	result := &RefreshResult{
		StartTime:  startTime,
		TotalTasks: len(points) * len(days),
	}

	if j.stats == nil {
		j.logger.Warn().Msg("no climatology service configured, skipping warm")
		result.Skipped = result.TotalTasks
		result.EndTime = startTime
		return result
	}

	j.logger.Info().
		Int("points", len(points)).
		Int("days", len(days)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting cache warm")

	tasks := make(chan task, result.TotalTasks)
	results := make(chan taskResult, result.TotalTasks)

	for _, p := range points {
		for _, d := range days {
			tasks <- task{point: p, day: d}
		}
	}
	close(tasks)

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.refreshWorker(ctx, tasks, results)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for tr := range results {
		if tr.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RefreshError{
				Point: tr.task.point,
				Day:   tr.task.day,
				Error: tr.err.Error(),
			})
			continue
		}
		result.Successful++
		switch tr.source {
		case climatology.SourceOfflineTile, climatology.SourceDiskCache:
			result.CacheHits++
		case climatology.SourceSynthetic:
			result.Synthetic++
		default:
			result.NetworkFetches++
		}
	}
	result.Skipped = result.TotalTasks - result.Successful - result.Failed

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("cache_hits", result.CacheHits).
		Int("network_fetches", result.NetworkFetches).
		Int("synthetic", result.Synthetic).
		Msg("cache warm completed")

	return result
}

func (j *RefreshJob) refreshWorker(ctx context.Context, tasks <-chan task, results chan<- taskResult) {
	for t := range tasks {
		select {
		case <-ctx.Done():
			return
		default:
			results <- j.refreshTask(ctx, t)
		}
	}
}

func (j *RefreshJob) refreshTask(ctx context.Context, t task) taskResult {
	taskCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats, err := j.stats.StatsAt(taskCtx, climatology.Query{
		Lat:   t.point.Lat,
		Lon:   t.point.Lon,
		Month: t.day.Month,
		Day:   t.day.Day,
		Mode:  j.config.Mode,
	})
	if err != nil {
		j.logger.Warn().
			Err(err).
			Float64("lat", t.point.Lat).
			Float64("lon", t.point.Lon).
			Str("day", t.day.String()).
			Msg("warm lookup failed")
		return taskResult{task: t, err: err}
	}
	return taskResult{task: t, source: stats.Source}
}

// RunEvery runs the job immediately and then every interval until ctx is
// done. A non-positive interval runs once.
func (j *RefreshJob) RunEvery(ctx context.Context, interval time.Duration) {
	j.Run(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	j.metrics.SuccessfulRefresh += int64(result.Successful)
	j.metrics.FailedRefreshes += int64(result.Failed)
	j.metrics.CacheHits += int64(result.CacheHits)
	j.metrics.NetworkFetches += int64(result.NetworkFetches)
	j.metrics.Synthetic += int64(result.Synthetic)
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefresh:   j.metrics.SuccessfulRefresh,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		CacheHits:           j.metrics.CacheHits,
		NetworkFetches:      j.metrics.NetworkFetches,
		Synthetic:           j.metrics.Synthetic,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefresh,
		"failed_refreshes":      m.FailedRefreshes,
		"cache_hits":            m.CacheHits,
		"network_fetches":       m.NetworkFetches,
		"synthetic":             m.Synthetic,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
