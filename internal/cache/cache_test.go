package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/wetdry-service/internal/models"
)

var york = models.Coordinate{Lon: -1.0815, Lat: 53.959}

func testRecord(day time.Time) models.DailyClimate {
	return models.DailyClimate{
		Date:          day,
		Coordinate:    york,
		Observation:   models.ClimateObservation{TMax: 30, TMin: 20, RHMax: 80, RHMin: 50, SolarRadiation: 20, WindSpeed2m: 2, Altitude: 100},
		Precipitation: 3.4,
		Source:        "era5",
	}
}

func TestKey(t *testing.T) {
	d := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		coord models.Coordinate
		want  string
	}{
		{"rounded to 4 places", models.Coordinate{Lon: -1.08154, Lat: 53.95904}, "2024-03-01@53.9590,-1.0815"},
		{"same key for nearby points", models.Coordinate{Lon: -1.081501, Lat: 53.959049}, "2024-03-01@53.9590,-1.0815"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(d, tt.coord); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
	if Key(d, york) == Key(d.AddDate(0, 0, 1), york) {
		t.Error("Key() collides across days")
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	val := testRecord(day)

	if err := c.Set(ctx, Key(day, york), val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, Key(day, york))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Observation != val.Observation || got.Precipitation != val.Precipitation {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()
	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that entries expire exactly at their TTL
// and are evicted on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC))
	c := NewInMemoryCacheWithClock(clock)

	if err := c.Set(ctx, "k", testRecord(clock.Now()), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() before TTL ok = false, want true")
	}

	clock.Advance(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() at TTL ok = true, want false")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expired Get, want 0", c.Len())
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := day.AddDate(0, 0, i%10)
			_ = c.Set(ctx, Key(d, york), testRecord(d), time.Minute)
			_, _, _ = c.Get(ctx, Key(d, york))
		}(i)
	}
	wg.Wait()

	if c.Len() != 10 {
		t.Errorf("Len() = %d, want 10", c.Len())
	}
}

func TestExpiration(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{time.Minute, 60},
		{24 * time.Hour, 86400},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expiration(tt.ttl); got != tt.want {
			t.Errorf("expiration(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
