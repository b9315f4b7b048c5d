// Package decision classifies a farm location as wet or dry for a fertiliser period.
package decision

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/wetdry-service/internal/classify"
	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
)

// ZoneLookup classifies a coordinate into a climate zone.
type ZoneLookup interface {
	Classify(ctx context.Context, coord models.Coordinate) (classify.ZoneInfo, error)
}

// SoilLookup classifies a coordinate into a soil texture.
type SoilLookup interface {
	ClassifySoil(ctx context.Context, coord models.Coordinate) (classify.SoilInfo, error)
}

// PeriodTotals supplies the fertiliser-period totals. *period.Accumulator implements it.
type PeriodTotals interface {
	FPPET(ctx context.Context, coord models.Coordinate, r models.DateRange) (float64, error)
	FPP(ctx context.Context, coord models.Coordinate, r models.DateRange) (float64, error)
}

// Recorder persists outcomes.
type Recorder interface {
	Record(ctx context.Context, o models.Outcome) error
}

// Publisher emits outcomes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, o models.Outcome) error
}

// Procedure runs the wet/dry decision tree.
type Procedure struct {
	zones     ZoneLookup
	soils     SoilLookup
	totals    PeriodTotals
	clock     clockwork.Clock
	recorder  Recorder
	publisher Publisher
}

// Option configures a Procedure.
type Option func(*Procedure)

// WithSoilLookup enables soil lookup for requests that omit the soil texture.
func WithSoilLookup(l SoilLookup) Option {
	return func(p *Procedure) { p.soils = l }
}

// WithClock sets the clock used to timestamp outcomes.
func WithClock(c clockwork.Clock) Option {
	return func(p *Procedure) { p.clock = c }
}

// WithRecorder persists every completed outcome. Recording failures are logged, not returned.
func WithRecorder(r Recorder) Option {
	return func(p *Procedure) { p.recorder = r }
}

// WithPublisher publishes every completed outcome. Publishing failures are logged, not returned.
func WithPublisher(pub Publisher) Option {
	return func(p *Procedure) { p.publisher = pub }
}

// NewProcedure returns a Procedure over the given zone lookup and period totals.
func NewProcedure(zones ZoneLookup, totals PeriodTotals, opts ...Option) *Procedure {
	p := &Procedure{zones: zones, totals: totals, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide classifies in. Non-Temperate zones short-circuit to ResultDeferred without
// touching climate data or validating the range. Every failure is a *fault.Error.
func (p *Procedure) Decide(ctx context.Context, in models.DecisionInput) (models.Outcome, error) {
	out, err := p.decide(ctx, in)
	logger := observability.LoggerFromContext(ctx)
	if err != nil {
		kind := fault.KindOf(err)
		observability.DecisionFailuresTotal.WithLabelValues(string(kind)).Inc()
		logger.Info("decision failed",
			zap.Stringer("coordinate", in.Coordinate),
			zap.Stringer("range", in.Range),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return models.Outcome{}, err
	}

	out.ID = uuid.NewString()
	out.DecidedAt = p.clock.Now().UTC()
	observability.RecordDecision(in.Coordinate, out.Result)
	logger.Info("decision made",
		zap.String("outcome_id", out.ID),
		zap.Stringer("coordinate", in.Coordinate),
		zap.String("zone", string(out.Zone)),
		zap.Float64("fpp", out.FPP),
		zap.Float64("fppet", out.FPPET),
		zap.Float64("ratio", out.Ratio),
		zap.String("result", string(out.Result)))

	p.emit(ctx, out)
	return out, nil
}

func (p *Procedure) decide(ctx context.Context, in models.DecisionInput) (models.Outcome, error) {
	out := models.Outcome{Input: in, Soil: in.Soil}
	zone, err := p.zones.Classify(ctx, in.Coordinate)
	if err != nil {
		return out, asLookupFailure("zone", in.Coordinate, err)
	}
	out.Zone, out.ZoneName = zone.Zone, zone.Name
	switch zone.Zone {
	case models.ZoneNonTemperate:
		out.Result = models.ResultDeferred
		return out, nil
	case models.ZoneTemperate:
	default:
		return out, fault.New(fault.KindLookupFailure, "zone", in.Coordinate.String(), errors.New("zone unknown"))
	}
	if !in.Range.End.After(in.Range.Start) {
		return out, fault.New(fault.KindInvalidRange, "decide", in.Range.String(), nil)
	}

	fppet, err := p.totals.FPPET(ctx, in.Coordinate, in.Range)
	if err != nil {
		return out, err
	}
	fpp, err := p.totals.FPP(ctx, in.Coordinate, in.Range)
	if err != nil {
		return out, err
	}
	out.FPPET, out.FPP = fppet, fpp
	if fppet == 0 {
		return out, fault.Newf(fault.KindZeroDivision, "decide", nil, "fpp=%g fppet=0 range=%s", fpp, in.Range)
	}
	out.Ratio = fpp / fppet

	if out.Ratio <= 1 {
		out.Result = models.ResultDry
		return out, nil
	}
	if !in.WellDrained {
		out.Result = models.ResultWet
		return out, nil
	}

	soil, err := p.resolveSoil(ctx, in)
	if err != nil {
		return out, err
	}
	out.Soil = soil
	switch soil {
	case models.SoilClay:
		out.Result = models.ResultWet
	case models.SoilSandy:
		out.Result = models.ResultDry
	default:
		return out, fault.New(fault.KindUnclassifiedSoil, "decide", "soil="+string(soil), nil)
	}
	return out, nil
}

// resolveSoil returns the request's soil, looking it up by coordinate when the request
// leaves it unknown and a soil lookup is configured.
func (p *Procedure) resolveSoil(ctx context.Context, in models.DecisionInput) (models.Soil, error) {
	if in.Soil != "" && in.Soil != models.SoilUnknown {
		return in.Soil, nil
	}
	if p.soils == nil {
		return models.SoilUnknown, nil
	}
	info, err := p.soils.ClassifySoil(ctx, in.Coordinate)
	if err != nil {
		return models.SoilUnknown, asLookupFailure("soil", in.Coordinate, err)
	}
	return info.Soil, nil
}

func asLookupFailure(op string, coord models.Coordinate, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fault.New(fault.KindLookupFailure, op, coord.String(), err)
}

func (p *Procedure) emit(ctx context.Context, out models.Outcome) {
	logger := observability.LoggerFromContext(ctx)
	if p.recorder != nil {
		if err := p.recorder.Record(ctx, out); err != nil {
			logger.Warn("record outcome failed", zap.String("outcome_id", out.ID), zap.Error(err))
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, out); err != nil {
			logger.Warn("publish outcome failed", zap.String("outcome_id", out.ID), zap.Error(err))
		}
	}
}
