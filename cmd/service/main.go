package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wetdry-service/internal/cache"
	"github.com/kjstillabower/wetdry-service/internal/circuitbreaker"
	"github.com/kjstillabower/wetdry-service/internal/classify"
	"github.com/kjstillabower/wetdry-service/internal/client"
	"github.com/kjstillabower/wetdry-service/internal/config"
	"github.com/kjstillabower/wetdry-service/internal/decision"
	"github.com/kjstillabower/wetdry-service/internal/events"
	"github.com/kjstillabower/wetdry-service/internal/history"
	httphandler "github.com/kjstillabower/wetdry-service/internal/http"
	"github.com/kjstillabower/wetdry-service/internal/lifecycle"
	"github.com/kjstillabower/wetdry-service/internal/observability"
	"github.com/kjstillabower/wetdry-service/internal/period"
	"github.com/kjstillabower/wetdry-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "climate_api",
		IsFailure:        client.IsBreakerFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordBreakerTransition("climate_api", from.String(), to.String(), float64(to))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues("climate_api").Set(float64(circuitbreaker.StateClosed))

	archive, err := client.NewArchiveClient(client.Config{
		APIURL:         cfg.ClimateAPIURL,
		APIKey:         cfg.ClimateAPIKey,
		Timeout:        cfg.ClimateAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker:        breaker,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("climate client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	climate := service.NewClimateService(archive, cacheSvc, cfg.CacheTTL)
	accumulator := period.NewAccumulator(climate, climate, cfg.AccumulatorWorkers)

	zoneGrid, err := classify.LoadASCIIGrid(cfg.ZoneGridPath)
	if err != nil {
		logger.Fatal("zone grid", zap.Error(err))
	}
	zones := classify.NewRasterZoneLookup(zoneGrid)
	opts := httphandler.Options{Zones: zones, MaxRangeDays: cfg.MaxRangeDays, DataLag: cfg.ClimateDataLag}
	var procOpts []decision.Option
	if cfg.SoilGridPath != "" {
		soilGrid, err := classify.LoadASCIIGrid(cfg.SoilGridPath)
		if err != nil {
			logger.Fatal("soil grid", zap.Error(err))
		}
		soils := classify.NewRasterSoilLookup(soilGrid)
		opts.Soils = soils
		procOpts = append(procOpts, decision.WithSoilLookup(soils))
	}

	healthConfig := &httphandler.HealthConfig{
		ErrorWindow:      cfg.TrafficWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		BreakerState:     breaker.State,
		ClimatePing:      archive.Ping,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}
	opts.Health = healthConfig

	var historyCloser interface{ Close() error }
	if cfg.HistoryEnabled {
		db, err := history.OpenDB(history.DBConfig{Path: cfg.HistoryPath, MaxOpenConns: 1})
		if err != nil {
			logger.Fatal("history db", zap.Error(err))
		}
		historyCloser = db
		store, err := history.NewStore(context.Background(), db, logger)
		if err != nil {
			logger.Fatal("history store", zap.Error(err))
		}
		opts.History = store
		healthConfig.HistoryPing = db.PingContext
		procOpts = append(procOpts, decision.WithRecorder(store))
		logger.Info("decision history enabled", zap.String("path", cfg.HistoryPath))
	}

	var eventWriter *events.Writer
	if cfg.EventsEnabled {
		eventWriter = events.NewWriter(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.EventsTopic}, logger)
		procOpts = append(procOpts, decision.WithPublisher(eventWriter))
		logger.Info("decision events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.EventsTopic))
	}

	procedure := decision.NewProcedure(zones, accumulator, procOpts...)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(procedure, accumulator, logger, opts)

	observability.RegisterTrafficGauges(cfg.TrafficWindow)
	if len(cfg.TrackedSites) > 0 {
		observability.SetTrackedSites(cfg.TrackedSites)
	}

	warmCtx, warmCancel := context.WithCancel(context.Background())
	defer warmCancel()
	if cfg.WarmingEnabled && len(cfg.TrackedSites) > 0 {
		prefetcher := cache.NewPrefetcher(climate, logger, nil, cfg.WarmingWorkers)
		window := prefetchWindow(cfg.WarmingLookback, cfg.WarmingLag)
		go func() {
			if err := prefetcher.WarmPeriodic(warmCtx, cfg.TrackedSites, window, cfg.WarmingInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic prefetch stopped", zap.Error(err))
			}
		}()
		logger.Info("prefetch enabled", zap.Int("sites", len(cfg.TrackedSites)), zap.Duration("interval", cfg.WarmingInterval))
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	api := router.NewRoute().Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	handler.Routes(router, api)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetReady(true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	warmCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if eventWriter != nil {
		if err := eventWriter.Close(); err != nil {
			logger.Error("event writer close", zap.Error(err))
		}
	}
	if historyCloser != nil {
		if err := historyCloser.Close(); err != nil {
			logger.Error("history db close", zap.Error(err))
		}
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// prefetchWindow converts configured durations to whole days, rounding up so that a
// partial day is still fetched.
func prefetchWindow(lookback, lag time.Duration) cache.PrefetchWindow {
	return cache.PrefetchWindow{Lookback: ceilDays(lookback), Lag: ceilDays(lag)}
}

func ceilDays(d time.Duration) int {
	const day = 24 * time.Hour
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}
