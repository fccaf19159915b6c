package weather

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultFanOut bounds the number of per-year fetches started at once. The
// coordinator still serializes the outbound calls; this only limits how many
// callers wait in its queue.
const DefaultFanOut = 4

// YearFetcher fetches one year of a same-day series.
type YearFetcher func(ctx context.Context, year int) (*Series, error)

// SameDay runs fetch for every year in which month/day is a real date and
// merges the results. Years that error are listed in Series.Failed; they do
// not cancel the others. When no year produces rows a *NoDataError is
// returned whose Reachable flag is set if at least one year got an answer
// from the provider.
func SameDay(ctx context.Context, provider string, years []int, month, day, limit int, fetch YearFetcher) (*Series, error) {
	if limit <= 0 {
		limit = DefaultFanOut
	}

	type outcome struct {
		year   int
		series *Series
		err    error
	}

	var (
		mu       sync.Mutex
		outcomes []outcome
	)

	var g errgroup.Group
	g.SetLimit(limit)

	for _, year := range years {
		if !ValidDate(year, month, day) {
			continue
		}
		g.Go(func() error {
			s, err := fetch(ctx, year)
			mu.Lock()
			outcomes = append(outcomes, outcome{year: year, series: s, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].year < outcomes[j].year })

	merged := &Series{Provider: provider, Years: make(map[int]Tier)}
	reachable := false
	var errs []error

	for _, o := range outcomes {
		if o.err != nil {
			merged.Failed = append(merged.Failed, o.year)
			errs = append(errs, o.err)
			if IsInsufficient(o.err) {
				reachable = true
			}
			continue
		}
		reachable = true
		if o.series == nil || (len(o.series.Daily) == 0 && len(o.series.Hourly) == 0) {
			continue
		}
		merged.Daily = append(merged.Daily, o.series.Daily...)
		merged.Hourly = append(merged.Hourly, o.series.Hourly...)
		for y, tier := range o.series.Years {
			merged.Years[y] = tier
		}
	}

	if merged.MatchYears() == 0 {
		return nil, &NoDataError{Provider: provider, Reachable: reachable, Err: errors.Join(errs...)}
	}
	return merged, nil
}

// YearRange returns the inclusive list of years from start to end.
func YearRange(start, end int) []int {
	if end < start {
		return nil
	}
	years := make([]int, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, y)
	}
	return years
}
