package period

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/wetdry-service/internal/et0"
	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
)

var york = models.Coordinate{Lon: -1.0815, Lat: 53.9590}

func TestDays_SingleDay(t *testing.T) {
	start := day(2025, time.January, 1)
	got := slices.Collect(Days(models.DateRange{Start: start, End: start.AddDate(0, 0, 1)}))
	if len(got) != 1 || !got[0].Equal(start) {
		t.Errorf("Days() = %v, want [%v]", got, start)
	}
}

func TestDays_EndExclusive(t *testing.T) {
	r := models.DateRange{Start: day(2025, time.February, 27), End: day(2025, time.March, 2)}
	got := slices.Collect(Days(r))
	want := []time.Time{day(2025, time.February, 27), day(2025, time.February, 28), day(2025, time.March, 1)}
	if !slices.EqualFunc(got, want, time.Time.Equal) {
		t.Errorf("Days() = %v, want %v", got, want)
	}
	if n := Len(r); n != 3 {
		t.Errorf("Len() = %d, want 3", n)
	}
}

func TestDays_EmptyWhenEndNotAfterStart(t *testing.T) {
	start := day(2025, time.January, 10)
	for _, end := range []time.Time{start, start.AddDate(0, 0, -3)} {
		r := models.DateRange{Start: start, End: end}
		if got := slices.Collect(Days(r)); len(got) != 0 {
			t.Errorf("Days(%v) = %v, want empty", r, got)
		}
		if n := Len(r); n != 0 {
			t.Errorf("Len(%v) = %d, want 0", r, n)
		}
	}
}

func TestDays_StopsEarly(t *testing.T) {
	r := models.DateRange{Start: day(2025, time.January, 1), End: day(2025, time.December, 31)}
	n := 0
	for range Days(r) {
		n++
		if n == 5 {
			break
		}
	}
	if n != 5 {
		t.Errorf("iterated %d days, want 5", n)
	}
}

func TestNewDateRange(t *testing.T) {
	start := time.Date(2025, time.March, 1, 15, 30, 0, 0, time.UTC)
	r, err := NewDateRange(start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("NewDateRange() error = %v", err)
	}
	if !r.Start.Equal(day(2025, time.March, 1)) {
		t.Errorf("Start = %v, want truncated to midnight", r.Start)
	}

	_, err = NewDateRange(start, start)
	if !errors.Is(err, fault.ErrInvalidRange) {
		t.Errorf("NewDateRange(equal) error = %v, want ErrInvalidRange", err)
	}
	_, err = NewDateRange(start, start.AddDate(0, 0, -1))
	if !errors.Is(err, fault.ErrInvalidRange) {
		t.Errorf("NewDateRange(reversed) error = %v, want ErrInvalidRange", err)
	}
}

// TestAccumulator_EmptyRange verifies that an empty range totals zero without
// touching the data source or the estimator.
func TestAccumulator_EmptyRange(t *testing.T) {
	src := &constantSource{obs: referenceObservation, precip: 3}
	acc := NewAccumulator(src, src, 4)
	estimated := 0
	acc.estimate = func(o models.ClimateObservation) (float64, error) {
		estimated++
		return et0.Estimate(o)
	}

	start := day(2025, time.January, 1)
	r := models.DateRange{Start: start, End: start}
	fppet, err := acc.FPPET(context.Background(), york, r)
	if err != nil {
		t.Fatalf("FPPET() error = %v", err)
	}
	fpp, err := acc.FPP(context.Background(), york, r)
	if err != nil {
		t.Fatalf("FPP() error = %v", err)
	}
	if fppet != 0 || fpp != 0 {
		t.Errorf("FPPET, FPP = %v, %v, want 0, 0", fppet, fpp)
	}
	if estimated != 0 || src.calls.Load() != 0 {
		t.Errorf("estimator calls = %d, source calls = %d, want 0, 0", estimated, src.calls.Load())
	}
}

// TestAccumulator_IdenticalDays verifies FPPET over N identical days equals N times the single-day ET0.
func TestAccumulator_IdenticalDays(t *testing.T) {
	single, err := et0.Estimate(referenceObservation)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	for _, n := range []int{1, 7, 31, 90} {
		src := &constantSource{obs: referenceObservation}
		acc := NewAccumulator(src, src, 3)
		start := day(2025, time.January, 1)
		got, err := acc.FPPET(context.Background(), york, models.DateRange{Start: start, End: start.AddDate(0, 0, n)})
		if err != nil {
			t.Fatalf("FPPET() error = %v", err)
		}
		want := et0.Round2(float64(n) * single)
		if math.Abs(got-want) > 0.005 {
			t.Errorf("FPPET(%d days) = %v, want %v", n, got, want)
		}
		if int(src.calls.Load()) != n {
			t.Errorf("source calls = %d, want %d", src.calls.Load(), n)
		}
	}
}

// TestAccumulator_RoundsPerDayThenTotal verifies each day's ET0 is rounded before it
// is summed and that the total is rounded once at the end.
func TestAccumulator_RoundsPerDayThenTotal(t *testing.T) {
	src := &dailySource{}
	r := models.DateRange{Start: day(2025, time.March, 1), End: day(2025, time.May, 1)}

	var want float64
	for d := range Days(r) {
		obs, _ := src.GetDailyObservation(context.Background(), d, york)
		v, err := et0.Estimate(obs)
		if err != nil {
			t.Fatalf("Estimate() error = %v", err)
		}
		want += v
	}
	want = et0.Round2(want)

	s, err := NewAccumulator(src, nil, 1).FPPETSeries(context.Background(), york, r)
	if err != nil {
		t.Fatalf("FPPETSeries() error = %v", err)
	}
	if s.Total != want {
		t.Errorf("Total = %v, want %v", s.Total, want)
	}
	if len(s.Days) != Len(r) {
		t.Fatalf("len(Days) = %d, want %d", len(s.Days), Len(r))
	}
	for i := 1; i < len(s.Days); i++ {
		if !s.Days[i].Date.After(s.Days[i-1].Date) {
			t.Fatalf("Days not in ascending order at %d", i)
		}
	}
	for _, d := range s.Days {
		if d.Value != et0.Round2(d.Value) {
			t.Errorf("day %s value %v not rounded to 2 decimals", d.Date.Format(time.DateOnly), d.Value)
		}
	}
}

// TestAccumulator_ParallelMatchesSequential verifies that fanning out fetches does
// not change the total.
func TestAccumulator_ParallelMatchesSequential(t *testing.T) {
	src := &dailySource{}
	r := models.DateRange{Start: day(2024, time.January, 1), End: day(2025, time.January, 1)}
	seq, err := NewAccumulator(src, nil, 1).FPPET(context.Background(), york, r)
	if err != nil {
		t.Fatalf("sequential FPPET() error = %v", err)
	}
	par, err := NewAccumulator(src, nil, 16).FPPET(context.Background(), york, r)
	if err != nil {
		t.Fatalf("parallel FPPET() error = %v", err)
	}
	if seq != par {
		t.Errorf("parallel total %v != sequential total %v", par, seq)
	}
}

func TestAccumulator_SourceFailure(t *testing.T) {
	failDay := day(2025, time.January, 15)
	src := &dailySource{failOn: failDay, err: errUpstream}
	acc := NewAccumulator(src, nil, 4)

	_, err := acc.FPPET(context.Background(), york, models.DateRange{Start: day(2025, time.January, 1), End: day(2025, time.February, 1)})
	if err == nil {
		t.Fatal("FPPET() expected error, got nil")
	}
	if !errors.Is(err, fault.ErrDataUnavailable) {
		t.Errorf("error = %v, want ErrDataUnavailable", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Errorf("error = %v, want wrapped upstream cause", err)
	}
	if !strings.Contains(err.Error(), "2025-01-15") {
		t.Errorf("error = %q, want failing date attached", err.Error())
	}
}

func TestAccumulator_InvalidObservation(t *testing.T) {
	bad := referenceObservation
	bad.WindSpeed2m = -1
	src := &constantSource{obs: bad}
	_, err := NewAccumulator(src, src, 1).FPPET(context.Background(), york, models.DateRange{Start: day(2025, time.January, 1), End: day(2025, time.January, 3)})
	if !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("FPPET() error = %v, want ErrInvalidInput", err)
	}
}

// TestAccumulator_FPPWithSampledFixture sums a seeded random precipitation fixture and
// checks the total against a direct sum of the same draws.
func TestAccumulator_FPPWithSampledFixture(t *testing.T) {
	precip := newNormalPrecipitation(42, 2.5, 1.5)
	r := models.DateRange{Start: day(2025, time.March, 1), End: day(2025, time.April, 30)}
	got, err := NewAccumulator(nil, precip, 8).FPP(context.Background(), york, r)
	if err != nil {
		t.Fatalf("FPP() error = %v", err)
	}

	var want float64
	for d := range Days(r) {
		v, _ := precip.GetDailyPrecipitation(context.Background(), d, york)
		want += v
	}
	if got != et0.Round2(want) {
		t.Errorf("FPP() = %v, want %v", got, et0.Round2(want))
	}
}

func TestAccumulator_NegativePrecipitation(t *testing.T) {
	src := &constantSource{precip: -0.5}
	_, err := NewAccumulator(src, src, 1).FPP(context.Background(), york, models.DateRange{Start: day(2025, time.January, 1), End: day(2025, time.January, 2)})
	if !errors.Is(err, fault.ErrInvalidInput) {
		t.Errorf("FPP() error = %v, want ErrInvalidInput", err)
	}
}

func TestAccumulator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &dailySource{failOn: day(2025, time.January, 1), err: context.Canceled}
	_, err := NewAccumulator(src, nil, 1).FPPET(ctx, york, models.DateRange{Start: day(2025, time.January, 1), End: day(2025, time.January, 2)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FPPET() error = %v, want context.Canceled in chain", err)
	}
}
