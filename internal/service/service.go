package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/wetdry-service/internal/cache"
	"github.com/kjstillabower/wetdry-service/internal/client"
	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
)

// ClimateService serves daily climate records cache-aside with upstream fallback.
// Concurrent misses on the same (date, location) share one upstream call.
// It implements period.ClimateSource and period.PrecipitationSource.
type ClimateService struct {
	client client.ClimateClient
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
	misses *missTracker
}

// NewClimateService creates a ClimateService. ttl is the cache expiration for daily records.
func NewClimateService(client client.ClimateClient, cache cache.Cache, ttl time.Duration) *ClimateService {
	return &ClimateService{
		client: client,
		cache:  cache,
		ttl:    ttl,
		misses: newMissTracker(),
	}
}

// GetDailyObservation returns the weather observation for one day.
func (s *ClimateService) GetDailyObservation(ctx context.Context, date time.Time, coord models.Coordinate) (models.ClimateObservation, error) {
	rec, err := s.GetDailyClimate(ctx, date, coord)
	if err != nil {
		return models.ClimateObservation{}, err
	}
	return rec.Observation, nil
}

// GetDailyPrecipitation returns the precipitation total (mm) for one day.
func (s *ClimateService) GetDailyPrecipitation(ctx context.Context, date time.Time, coord models.Coordinate) (float64, error) {
	rec, err := s.GetDailyClimate(ctx, date, coord)
	if err != nil {
		return 0, err
	}
	return rec.Precipitation, nil
}

// GetDailyClimate checks the cache first, falls back to upstream on miss, and populates
// the cache on success. Cache errors are logged and treated as misses.
func (s *ClimateService) GetDailyClimate(ctx context.Context, date time.Time, coord models.Coordinate) (models.DailyClimate, error) {
	key := cache.Key(date, coord)
	logger := observability.LoggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("daily_climate").Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	}

	concurrent, leave := s.misses.Enter(key)
	defer leave()
	if concurrent > 1 {
		observability.CacheStampedeConcurrency.Observe(float64(concurrent))
	}
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	// The shared fetch outlives any single caller; each caller still honours its own ctx.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), key, date, coord)
	})
	select {
	case <-ctx.Done():
		return models.DailyClimate{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			observability.FetchCoalescedTotal.Inc()
		}
		if res.Err != nil {
			return models.DailyClimate{}, res.Err
		}
		return res.Val.(models.DailyClimate), nil
	}
}

func (s *ClimateService) fetchAndStore(ctx context.Context, key string, date time.Time, coord models.Coordinate) (models.DailyClimate, error) {
	logger := observability.LoggerFromContext(ctx)

	data, err := s.client.GetDailyClimate(ctx, date, coord)
	if err != nil {
		return models.DailyClimate{}, fmt.Errorf("fetch climate %s: %w", key, err)
	}
	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	}
	return data, nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
