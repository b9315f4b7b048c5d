package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kjstillabower/wetdry-service/internal/circuitbreaker"
	"github.com/kjstillabower/wetdry-service/internal/et0"
	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
)

// ClimateClient fetches one day of reanalysis climate data for a location.
type ClimateClient interface {
	GetDailyClimate(ctx context.Context, date time.Time, coord models.Coordinate) (models.DailyClimate, error)
	Ping(ctx context.Context) error
}

var (
	ErrBadRequest      = errors.New("bad request")
	ErrNoData          = errors.New("no reanalysis data for date")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// SourceERA5 tags records fetched from the ERA5 archive.
const SourceERA5 = "era5"

// dailyVariables are requested from the archive in this order.
var dailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"relative_humidity_2m_max",
	"relative_humidity_2m_min",
	"shortwave_radiation_sum",
	"wind_speed_10m_mean",
	"precipitation_sum",
}

// windHeight is the measurement height of reanalysis wind speeds (m).
const windHeight = 10

// Config configures an ArchiveClient.
type Config struct {
	APIURL         string
	APIKey         string // optional; sent as apikey for the commercial tier
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Breaker        *circuitbreaker.CircuitBreaker // optional
	Logger         *zap.Logger                    // optional
}

// ArchiveClient reads ERA5 daily aggregates from the Open-Meteo archive API.
type ArchiveClient struct {
	apiURL         string
	apiKey         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewArchiveClient validates cfg and returns a client.
func NewArchiveClient(cfg Config) (*ArchiveClient, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: API URL is required", ErrBadRequest)
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("%w: invalid API URL: %v", ErrBadRequest, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ArchiveClient{
		apiURL:         cfg.APIURL,
		apiKey:         cfg.APIKey,
		timeout:        cfg.Timeout,
		client:         &http.Client{Timeout: cfg.Timeout},
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		breaker:        cfg.Breaker,
		logger:         cfg.Logger,
	}, nil
}

type archiveResponse struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Elevation float64                    `json:"elevation"`
	Daily     map[string]json.RawMessage `json:"daily"`
}

type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// GetDailyClimate fetches the daily aggregates for date (UTC) at coord, retrying
// transient failures with exponential backoff.
func (c *ArchiveClient) GetDailyClimate(ctx context.Context, date time.Time, coord models.Coordinate) (models.DailyClimate, error) {
	var result models.DailyClimate

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBaseDelay
	bo.MaxInterval = c.retryMaxDelay
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryAttempts-1)), ctx)

	op := func() error {
		var err error
		result, err = c.callWithBreaker(ctx, date, coord)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		observability.ClimateAPIRetriesTotal.Inc()
		c.logger.Debug("retrying reanalysis call",
			zap.String("date", date.Format(time.DateOnly)),
			zap.Stringer("coord", coord),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		observability.ClimateAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.DailyClimate{}, err
	}
	return result, nil
}

func (c *ArchiveClient) callWithBreaker(ctx context.Context, date time.Time, coord models.Coordinate) (models.DailyClimate, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, date, coord)
	}
	var result models.DailyClimate
	err := c.breaker.Call(ctx, func() error {
		var err error
		result, err = c.callAPI(ctx, date, coord)
		return err
	})
	return result, err
}

func (c *ArchiveClient) callAPI(ctx context.Context, date time.Time, coord models.Coordinate) (models.DailyClimate, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, date, coord)
	if err != nil {
		observability.ClimateAPICallsTotal.WithLabelValues("error").Inc()
		return models.DailyClimate{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ClimateAPICallsTotal.WithLabelValues("error").Inc()
		observability.ClimateAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.DailyClimate{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.DailyClimate{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ClimateAPICallsTotal.WithLabelValues(status).Inc()
	observability.ClimateAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.DailyClimate{}, fmt.Errorf("read response body: %w", err)
	}
	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return models.DailyClimate{}, err
	}

	var apiResp archiveResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.DailyClimate{}, fmt.Errorf("parse response: %w", err)
	}
	return mapResponse(apiResp, date, coord)
}

// IsBreakerFailure reports whether err should count against the circuit breaker.
// Rejections caused by the request itself (bad date, no data for the day) and caller
// cancellation say nothing about upstream health.
func IsBreakerFailure(err error) bool {
	return !errors.Is(err, ErrBadRequest) &&
		!errors.Is(err, ErrNoData) &&
		!errors.Is(err, context.Canceled)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "http request failed")
}

func (c *ArchiveClient) buildRequest(ctx context.Context, date time.Time, coord models.Coordinate) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	day := date.UTC().Format(time.DateOnly)
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(coord.Lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(coord.Lon, 'f', 4, 64))
	params.Set("start_date", day)
	params.Set("end_date", day)
	params.Set("daily", strings.Join(dailyVariables, ","))
	params.Set("wind_speed_unit", "ms")
	params.Set("timezone", "GMT")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode == http.StatusBadRequest:
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Reason != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, e.Reason)
		}
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, statusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
}

func mapResponse(r archiveResponse, date time.Time, coord models.Coordinate) (models.DailyClimate, error) {
	day := date.UTC().Format(time.DateOnly)

	var times []string
	if err := json.Unmarshal(r.Daily["time"], &times); err != nil {
		return models.DailyClimate{}, fmt.Errorf("parse response: daily.time: %w", err)
	}
	idx := -1
	for i, t := range times {
		if t == day {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.DailyClimate{}, fmt.Errorf("%w: %s not in response", ErrNoData, day)
	}

	vals := make(map[string]float64, len(dailyVariables))
	for _, name := range dailyVariables {
		var series []*float64
		if raw, ok := r.Daily[name]; ok {
			if err := json.Unmarshal(raw, &series); err != nil {
				return models.DailyClimate{}, fmt.Errorf("parse response: daily.%s: %w", name, err)
			}
		}
		if idx >= len(series) || series[idx] == nil {
			return models.DailyClimate{}, fmt.Errorf("%w: %s missing %s", ErrNoData, day, name)
		}
		vals[name] = *series[idx]
	}

	return models.DailyClimate{
		Date:       date.UTC().Truncate(24 * time.Hour),
		Coordinate: coord,
		Observation: models.ClimateObservation{
			TMax:           vals["temperature_2m_max"],
			TMin:           vals["temperature_2m_min"],
			RHMax:          vals["relative_humidity_2m_max"],
			RHMin:          vals["relative_humidity_2m_min"],
			SolarRadiation: vals["shortwave_radiation_sum"],
			WindSpeed2m:    et0.WindAt2m(vals["wind_speed_10m_mean"], windHeight),
			Altitude:       r.Elevation,
		},
		Precipitation: vals["precipitation_sum"],
		Source:        SourceERA5,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// Ping issues a single-day request at a fixed site to verify the upstream is reachable.
func (c *ArchiveClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	probe := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	req, err := c.buildRequest(ctx, probe, models.Coordinate{Lon: 0, Lat: 51.5})
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
