package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/wetdry-service/internal/circuitbreaker"
	"github.com/kjstillabower/wetdry-service/internal/classify"
	"github.com/kjstillabower/wetdry-service/internal/et0"
	"github.com/kjstillabower/wetdry-service/internal/history"
	"github.com/kjstillabower/wetdry-service/internal/lifecycle"
	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
	"github.com/kjstillabower/wetdry-service/internal/period"
	"github.com/kjstillabower/wetdry-service/internal/traffic"
	"github.com/kjstillabower/wetdry-service/internal/validation"
)

const maxBodyBytes = 1 << 20

// Decider runs the wet/dry decision tree. *decision.Procedure implements it.
type Decider interface {
	Decide(ctx context.Context, in models.DecisionInput) (models.Outcome, error)
}

// SeriesSource returns period totals with their per-day terms. *period.Accumulator implements it.
type SeriesSource interface {
	FPPETSeries(ctx context.Context, coord models.Coordinate, r models.DateRange) (period.Series, error)
	FPPSeries(ctx context.Context, coord models.Coordinate, r models.DateRange) (period.Series, error)
}

// HistoryReader lists recorded outcomes. *history.Store implements it.
type HistoryReader interface {
	List(ctx context.Context, q history.Query) ([]models.Outcome, error)
	Get(ctx context.Context, id string) (models.Outcome, error)
}

// ZoneLookup and SoilLookup back GET /lookup.
type ZoneLookup interface {
	Classify(ctx context.Context, coord models.Coordinate) (classify.ZoneInfo, error)
}

type SoilLookup interface {
	ClassifySoil(ctx context.Context, coord models.Coordinate) (classify.SoilInfo, error)
}

// HealthConfig holds dependency probes and thresholds for the health handler.
type HealthConfig struct {
	// ErrorWindow and DegradedErrorPct report degraded when the share of failed
	// requests in the window reaches the threshold. Zero disables the check.
	ErrorWindow      time.Duration
	DegradedErrorPct int
	// BreakerState, when set, reports degraded while the climate API breaker is open.
	BreakerState func() circuitbreaker.State
	// ClimatePing, when set, is called to check upstream reachability.
	ClimatePing func(ctx context.Context) error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// HistoryPing, when set, is called to check the history database.
	HistoryPing func(ctx context.Context) error
}

// Options carries optional handler dependencies. Nil fields disable the matching routes.
type Options struct {
	History      HistoryReader
	Zones        ZoneLookup
	Soils        SoilLookup
	Health       *HealthConfig
	MaxRangeDays int
	// DataLag is how far behind today the archive publishes. Ranges ending after
	// today minus DataLag are rejected before any upstream call. Zero disables the check.
	DataLag time.Duration
	Clock   clockwork.Clock
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	decider          Decider
	series           SeriesSource
	history          HistoryReader
	zones            ZoneLookup
	soils            SoilLookup
	healthConfig     *HealthConfig
	maxRangeDays     int
	dataLag          time.Duration
	clock            clockwork.Clock
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(decider Decider, series SeriesSource, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		decider:      decider,
		series:       series,
		history:      opts.History,
		zones:        opts.Zones,
		soils:        opts.Soils,
		healthConfig: opts.Health,
		maxRangeDays: opts.MaxRangeDays,
		dataLag:      opts.DataLag,
		clock:        clock,
		logger:       logger,
	}
}

// Routes registers every route on router. Rate-limited, time-bounded routes go on api.
func (h *Handler) Routes(router, api *mux.Router) {
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api.HandleFunc("/decisions", h.PostDecision).Methods(http.MethodPost)
	api.HandleFunc("/decisions", h.ListDecisions).Methods(http.MethodGet)
	api.HandleFunc("/decisions/{id}", h.GetDecision).Methods(http.MethodGet)
	api.HandleFunc("/et0", h.GetET0).Methods(http.MethodGet)
	api.HandleFunc("/periods/fppet", h.GetFPPET).Methods(http.MethodGet)
	api.HandleFunc("/periods/fpp", h.GetFPP).Methods(http.MethodGet)
	api.HandleFunc("/lookup", h.GetLookup).Methods(http.MethodGet)
}

// decisionRequest is the body of POST /decisions. Lon and Lat are pointers so that
// a missing field is distinguishable from zero.
type decisionRequest struct {
	Lon         *float64 `json:"lon"`
	Lat         *float64 `json:"lat"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	WellDrained bool     `json:"wellDrained"`
	Soil        string   `json:"soil"`
}

func (req decisionRequest) toInput(maxRangeDays int) (models.DecisionInput, error) {
	if req.Lon == nil || req.Lat == nil {
		return models.DecisionInput{}, validation.ErrCoordinateMissing
	}
	coord := models.Coordinate{Lon: *req.Lon, Lat: *req.Lat}
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.DecisionInput{}, err
	}
	rng, err := validation.ParseDateRange(req.Start, req.End, maxRangeDays)
	if err != nil {
		return models.DecisionInput{}, err
	}
	soil, err := validation.ParseSoil(req.Soil)
	if err != nil {
		return models.DecisionInput{}, err
	}
	return models.DecisionInput{Coordinate: coord, Range: rng, WellDrained: req.WellDrained, Soil: soil}, nil
}

// checkAvailable rejects ranges the archive has not published yet.
func (h *Handler) checkAvailable(rng models.DateRange) error {
	if h.dataLag <= 0 {
		return nil
	}
	return validation.ValidateRangeAvailable(rng, h.clock.Now().UTC().Add(-h.dataLag))
}

// PostDecision handles POST /decisions.
func (h *Handler) PostDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body: "+err.Error())
		return
	}
	in, err := req.toInput(h.maxRangeDays)
	if err == nil {
		err = h.checkAvailable(in.Range)
	}
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	out, err := h.decider.Decide(r.Context(), in)
	if err != nil {
		writeFaultError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, out)
}

// ListDecisions handles GET /decisions?lon=&lat=&limit=&offset=.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "decision history is not enabled")
		return
	}
	q := r.URL.Query()
	var query history.Query
	if q.Has("lon") || q.Has("lat") {
		coord, err := validation.ParseCoordinate(q.Get("lon"), q.Get("lat"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		query.Coordinate = &coord
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "limit: "+err.Error())
		return
	}
	if query.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "offset: "+err.Error())
		return
	}

	outcomes, err := h.history.List(r.Context(), query)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": outcomes})
}

// GetDecision handles GET /decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "decision history is not enabled")
		return
	}
	out, err := h.history.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "decision not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// et0Response is the body of GET /et0.
type et0Response struct {
	ET0         float64                   `json:"et0"`
	Observation models.ClimateObservation `json:"observation"`
	Components  et0.Components            `json:"components"`
}

// GetET0 handles GET /et0?tmax=&tmin=&rhmax=&rhmin=&rs=&u2=&z=. Wind may be given at
// another height as uz with zm (default 10 m) instead of u2.
func (h *Handler) GetET0(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var obs models.ClimateObservation
	fields := []struct {
		name string
		dst  *float64
	}{
		{"tmax", &obs.TMax},
		{"tmin", &obs.TMin},
		{"rhmax", &obs.RHMax},
		{"rhmin", &obs.RHMin},
		{"rs", &obs.SolarRadiation},
		{"z", &obs.Altitude},
	}
	for _, f := range fields {
		v, err := floatParam(q, f.name)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		*f.dst = v
	}

	switch {
	case q.Has("u2"):
		v, err := floatParam(q, "u2")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		obs.WindSpeed2m = v
	case q.Has("uz"):
		uz, err := floatParam(q, "uz")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		zm := 10.0
		if q.Has("zm") {
			if zm, err = floatParam(q, "zm"); err != nil || zm <= 0 {
				writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "zm must be a positive height in metres")
				return
			}
		}
		obs.WindSpeed2m = et0.WindAt2m(uz, zm)
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "u2 or uz is required")
		return
	}

	c, err := et0.Evaluate(obs)
	if err != nil {
		observability.ET0EstimatesTotal.WithLabelValues("invalid").Inc()
		writeFaultError(w, r, err)
		return
	}
	observability.ET0EstimatesTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, et0Response{
		ET0:         et0.Round2(c.UnroundedValue),
		Observation: obs,
		Components:  c,
	})
}

// GetFPPET handles GET /periods/fppet?lon=&lat=&start=&end=.
func (h *Handler) GetFPPET(w http.ResponseWriter, r *http.Request) {
	h.getSeries(w, r, "fppet", h.series.FPPETSeries)
}

// GetFPP handles GET /periods/fpp?lon=&lat=&start=&end=.
func (h *Handler) GetFPP(w http.ResponseWriter, r *http.Request) {
	h.getSeries(w, r, "fpp", h.series.FPPSeries)
}

type seriesFunc func(ctx context.Context, coord models.Coordinate, r models.DateRange) (period.Series, error)

func (h *Handler) getSeries(w http.ResponseWriter, r *http.Request, quantity string, fn seriesFunc) {
	q := r.URL.Query()
	coord, err := validation.ParseCoordinate(q.Get("lon"), q.Get("lat"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	rng, err := validation.ParseDateRange(q.Get("start"), q.Get("end"), h.maxRangeDays)
	if err == nil {
		err = h.checkAvailable(rng)
	}
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	s, err := fn(r.Context(), coord, rng)
	if err != nil {
		writeFaultError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	if s.Days == nil {
		s.Days = []period.DailyValue{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quantity":   quantity,
		"coordinate": coord,
		"series":     s,
	})
}

// lookupResponse is the body of GET /lookup.
type lookupResponse struct {
	Coordinate models.Coordinate `json:"coordinate"`
	Zone       classify.ZoneInfo `json:"zone"`
	Soil       *classify.SoilInfo `json:"soil,omitempty"`
}

// GetLookup handles GET /lookup?lon=&lat=, returning the climate zone and, when a
// soil raster is configured, the soil texture at the coordinate.
func (h *Handler) GetLookup(w http.ResponseWriter, r *http.Request) {
	if h.zones == nil {
		writeError(w, r, http.StatusNotFound, "LOOKUP_DISABLED", "zone lookup is not configured")
		return
	}
	coord, err := validation.ParseCoordinate(r.URL.Query().Get("lon"), r.URL.Query().Get("lat"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	zone, err := h.zones.Classify(r.Context(), coord)
	if err != nil {
		writeFaultError(w, r, err)
		return
	}
	resp := lookupResponse{Coordinate: coord, Zone: zone}
	if h.soils != nil {
		soil, err := h.soils.ClassifySoil(r.Context(), coord)
		if err == nil {
			resp.Soil = &soil
		} else {
			observability.LoggerFromContext(r.Context()).Debug("soil lookup failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "wetdry-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > degraded > healthy. Dependency checks are always reported.
func (h *Handler) computeHealthStatus(ctx context.Context) (healthResult, map[string]string) {
	checks := make(map[string]string)
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "not_ready"}, checks
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}, checks
	}
	cfg := h.healthConfig

	degradedReason := ""
	if cfg.ClimatePing != nil {
		if err := cfg.ClimatePing(ctx); err != nil {
			checks["climateApi"] = "unhealthy"
			degradedReason = "climate_api_unreachable"
		} else {
			checks["climateApi"] = "healthy"
		}
	}
	if cfg.BreakerState != nil {
		state := cfg.BreakerState()
		checks["circuitBreaker"] = state.String()
		if state == circuitbreaker.StateOpen && degradedReason == "" {
			degradedReason = "circuit_open"
		}
	}
	if cfg.CachePing != nil {
		if cfg.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if cfg.HistoryPing != nil {
		if cfg.HistoryPing(ctx) == nil {
			checks["history"] = "healthy"
		} else {
			checks["history"] = "unhealthy"
		}
	}
	if degradedReason == "" && cfg.ErrorWindow > 0 && cfg.DegradedErrorPct > 0 {
		failed, total := traffic.ErrorRate(cfg.ErrorWindow)
		if total > 0 && float64(failed)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			degradedReason = "error_rate_breach"
		}
	}
	if degradedReason != "" {
		return healthResult{"degraded", http.StatusServiceUnavailable, degradedReason}, checks
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

// floatParam parses a required float query parameter.
func floatParam(q map[string][]string, name string) (float64, error) {
	vals := q[name]
	if len(vals) == 0 || vals[0] == "" {
		return 0, errors.New(name + " is required")
	}
	v, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return v, nil
}

// intParam parses an optional non-negative integer query parameter.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}
