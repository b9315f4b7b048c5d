// Package period accumulates daily quantities over a fertiliser period: reference
// evapotranspiration (FPPET) and precipitation (FPP).
package period

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/wetdry-service/internal/et0"
	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
)

// ClimateSource supplies the weather observation for one day at one location.
type ClimateSource interface {
	GetDailyObservation(ctx context.Context, date time.Time, coord models.Coordinate) (models.ClimateObservation, error)
}

// PrecipitationSource supplies the precipitation total (mm) for one day at one location.
type PrecipitationSource interface {
	GetDailyPrecipitation(ctx context.Context, date time.Time, coord models.Coordinate) (float64, error)
}

// DailyValue is one day's contribution to a period total.
type DailyValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a period total together with its per-day terms in date order.
type Series struct {
	Range models.DateRange `json:"range"`
	Total float64          `json:"total"`
	Days  []DailyValue     `json:"days"`
}

// Accumulator sums per-day values over a DateRange. Day fetches may run on up to
// workers goroutines; summation always runs in ascending date order.
type Accumulator struct {
	climate  ClimateSource
	precip   PrecipitationSource
	workers  int
	estimate func(models.ClimateObservation) (float64, error)
}

// NewAccumulator returns an Accumulator. workers <= 0 means sequential fetching.
func NewAccumulator(climate ClimateSource, precip PrecipitationSource, workers int) *Accumulator {
	if workers <= 0 {
		workers = 1
	}
	return &Accumulator{
		climate:  climate,
		precip:   precip,
		workers:  workers,
		estimate: et0.Estimate,
	}
}

// FPPET returns the fertiliser-period potential evapotranspiration in mm.
func (a *Accumulator) FPPET(ctx context.Context, coord models.Coordinate, r models.DateRange) (float64, error) {
	s, err := a.FPPETSeries(ctx, coord, r)
	if err != nil {
		return 0, err
	}
	return s.Total, nil
}

// FPP returns the fertiliser-period precipitation in mm.
func (a *Accumulator) FPP(ctx context.Context, coord models.Coordinate, r models.DateRange) (float64, error) {
	s, err := a.FPPSeries(ctx, coord, r)
	if err != nil {
		return 0, err
	}
	return s.Total, nil
}

// FPPETSeries estimates ET0 for every day in r. Each day is rounded to two decimals
// by the estimator; the total is rounded again only once, after summation.
func (a *Accumulator) FPPETSeries(ctx context.Context, coord models.Coordinate, r models.DateRange) (Series, error) {
	return a.accumulate(ctx, "fppet", coord, r, func(ctx context.Context, day time.Time) (float64, error) {
		obs, err := a.climate.GetDailyObservation(ctx, day, coord)
		if err != nil {
			return 0, unavailable("fppet", day, coord, err)
		}
		v, err := a.estimate(obs)
		if err != nil {
			observability.ET0EstimatesTotal.WithLabelValues("invalid").Inc()
			return 0, fault.Newf(fault.KindInvalidInput, "fppet", err, "date=%s coord=%s", day.Format(time.DateOnly), coord)
		}
		observability.ET0EstimatesTotal.WithLabelValues("ok").Inc()
		return v, nil
	})
}

// FPPSeries sums daily precipitation for every day in r.
func (a *Accumulator) FPPSeries(ctx context.Context, coord models.Coordinate, r models.DateRange) (Series, error) {
	return a.accumulate(ctx, "fpp", coord, r, func(ctx context.Context, day time.Time) (float64, error) {
		v, err := a.precip.GetDailyPrecipitation(ctx, day, coord)
		if err != nil {
			return 0, unavailable("fpp", day, coord, err)
		}
		if v < 0 {
			return 0, fault.Newf(fault.KindInvalidInput, "fpp", nil, "date=%s precipitation=%g", day.Format(time.DateOnly), v)
		}
		return v, nil
	})
}

func (a *Accumulator) accumulate(ctx context.Context, op string, coord models.Coordinate, r models.DateRange, fetch func(context.Context, time.Time) (float64, error)) (Series, error) {
	days := slices.Collect(Days(r))
	series := Series{Range: r, Days: make([]DailyValue, len(days))}
	if len(days) == 0 {
		return series, nil
	}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, day := range days {
		g.Go(func() error {
			v, err := fetch(gctx, day)
			if err != nil {
				return err
			}
			series.Days[i] = DailyValue{Date: day, Value: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Series{}, err
	}

	var sum float64
	for _, d := range series.Days {
		sum += d.Value
	}
	series.Total = et0.Round2(sum)

	observability.PeriodAccumulationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	observability.LoggerFromContext(ctx).Debug("period accumulated",
		zap.String("quantity", op),
		zap.Stringer("coordinate", coord),
		zap.Stringer("range", r),
		zap.Int("days", len(days)),
		zap.Float64("total", series.Total))
	return series, nil
}

func unavailable(op string, day time.Time, coord models.Coordinate, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Newf(fault.KindDataUnavailable, op, err, "date=%s coord=%s", day.Format(time.DateOnly), coord)
}
