package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
	"github.com/kjstillabower/wetdry-service/internal/period"
)

// DailyFetcher is implemented by the service layer to fetch (and cache) one day of climate.
// Used by Prefetcher to avoid a circular dependency on the service package.
type DailyFetcher interface {
	GetDailyClimate(ctx context.Context, date time.Time, coord models.Coordinate) (models.DailyClimate, error)
}

// PrefetchWindow describes which days to prefetch relative to today: the Lookback days
// ending Lag days ago. Lag covers the delay before reanalysis data is published.
type PrefetchWindow struct {
	Lookback int
	Lag      int
}

// Range returns the window as a DateRange ending (exclusively) Lag days before now.
func (w PrefetchWindow) Range(now time.Time) models.DateRange {
	today := now.UTC().Truncate(24 * time.Hour)
	end := today.AddDate(0, 0, -w.Lag)
	return models.DateRange{Start: end.AddDate(0, 0, -w.Lookback), End: end}
}

// Prefetcher warms the cache by fetching every day of a window for a list of sites.
type Prefetcher struct {
	fetcher DailyFetcher
	logger  *zap.Logger
	clock   clockwork.Clock
	workers int
}

// NewPrefetcher creates a Prefetcher. workers bounds concurrent upstream fetches.
func NewPrefetcher(fetcher DailyFetcher, logger *zap.Logger, clock clockwork.Clock, workers int) *Prefetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Prefetcher{fetcher: fetcher, logger: logger, clock: clock, workers: workers}
}

// Warm fetches each day of r for each site. A failed day does not stop the others;
// all failures are returned joined.
func (p *Prefetcher) Warm(ctx context.Context, sites []models.Site, r models.DateRange) error {
	start := p.clock.Now()
	observability.PrefetchRunsTotal.Inc()
	p.logger.Info("prefetching climate", zap.Int("sites", len(sites)), zap.Stringer("range", r))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, site := range sites {
		for d := range period.Days(r) {
			g.Go(func() error {
				if _, err := p.fetcher.GetDailyClimate(gctx, d, site.Coordinate); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("prefetch %s %s: %w", site.Name, d.Format(time.DateOnly), err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	duration := p.clock.Since(start).Seconds()
	observability.PrefetchDurationSeconds.Observe(duration)
	p.logger.Info("prefetch complete",
		zap.Int("sites", len(sites)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.PrefetchErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
// The window is recomputed from the clock on every run.
func (p *Prefetcher) WarmPeriodic(ctx context.Context, sites []models.Site, window PrefetchWindow, interval time.Duration) error {
	if err := p.Warm(ctx, sites, window.Range(p.clock.Now())); err != nil {
		p.logger.Warn("initial prefetch failed", zap.Error(err))
	}
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := p.Warm(ctx, sites, window.Range(p.clock.Now())); err != nil {
				p.logger.Warn("periodic prefetch failed", zap.Error(err))
			}
		}
	}
}
