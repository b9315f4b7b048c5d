package period

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/wetdry-service/internal/models"
)

var referenceObservation = models.ClimateObservation{
	TMax: 30, TMin: 20, RHMax: 80, RHMin: 50, SolarRadiation: 20, WindSpeed2m: 2, Altitude: 100,
}

// constantSource returns the same observation and precipitation for every day.
type constantSource struct {
	obs    models.ClimateObservation
	precip float64
	calls  atomic.Int64
}

func (s *constantSource) GetDailyObservation(ctx context.Context, date time.Time, coord models.Coordinate) (models.ClimateObservation, error) {
	s.calls.Add(1)
	return s.obs, nil
}

func (s *constantSource) GetDailyPrecipitation(ctx context.Context, date time.Time, coord models.Coordinate) (float64, error) {
	s.calls.Add(1)
	return s.precip, nil
}

// dailySource derives each day's observation from its date so that a shuffled
// summation order would be detectable.
type dailySource struct {
	failOn time.Time
	err    error
}

func (s *dailySource) GetDailyObservation(ctx context.Context, date time.Time, coord models.Coordinate) (models.ClimateObservation, error) {
	if !s.failOn.IsZero() && date.Equal(s.failOn) {
		return models.ClimateObservation{}, s.err
	}
	obs := referenceObservation
	obs.TMax += float64(date.Day() % 7)
	obs.SolarRadiation = 8 + float64(date.Day()%11)
	obs.RHMin = 40 + float64(date.Day()%5)*3
	return obs, nil
}

// normalPrecipitation samples a seeded normal distribution. It stands in for real
// precipitation in tests only.
type normalPrecipitation struct {
	mu     sync.Mutex
	rng    *rand.Rand
	mean   float64
	stddev float64
	drawn  map[time.Time]float64
}

func newNormalPrecipitation(seed uint64, mean, stddev float64) *normalPrecipitation {
	return &normalPrecipitation{
		rng:    rand.New(rand.NewPCG(seed, seed)),
		mean:   mean,
		stddev: stddev,
		drawn:  make(map[time.Time]float64),
	}
}

func (p *normalPrecipitation) GetDailyPrecipitation(ctx context.Context, date time.Time, coord models.Coordinate) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.drawn[date]; ok {
		return v, nil
	}
	v := p.mean + p.stddev*p.rng.NormFloat64()
	if v < 0 {
		v = 0
	}
	p.drawn[date] = v
	return v, nil
}

var errUpstream = errors.New("upstream 503")

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
