//go:build integration
// +build integration

// Package testhelpers assembles the full decision stack against a live archive API
// for integration tests.
package testhelpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/wetdry-service/internal/cache"
	"github.com/kjstillabower/wetdry-service/internal/classify"
	"github.com/kjstillabower/wetdry-service/internal/client"
	"github.com/kjstillabower/wetdry-service/internal/decision"
	"github.com/kjstillabower/wetdry-service/internal/period"
	"github.com/kjstillabower/wetdry-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
	ZoneGrid      string
	SoilGrid      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if CLIMATE_API_URL is not set. Grids default to the bundled samples.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiURL := os.Getenv("CLIMATE_API_URL")
	if apiURL == "" {
		t.Skip("CLIMATE_API_URL not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	root := projectRoot(t)
	return IntegrationTestConfig{
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		ZoneGrid:      filepath.Join(root, "data", "grids", "ipcc_zones_uk.asc"),
		SoilGrid:      filepath.Join(root, "data", "grids", "usda_texture_uk.asc"),
	}
}

// Stack is the assembled decision pipeline.
type Stack struct {
	Climate     *service.ClimateService
	Accumulator *period.Accumulator
	Zones       *classify.RasterZoneLookup
	Soils       *classify.RasterSoilLookup
	Procedure   *decision.Procedure
	Cache       cache.Cache
}

// SetupIntegrationStack wires client, cache, accumulator, lookups and procedure.
// Extra procedure options (recorder, publisher) are appended.
func SetupIntegrationStack(t *testing.T, cfg IntegrationTestConfig, opts ...decision.Option) *Stack {
	t.Helper()
	archive, err := client.NewArchiveClient(client.Config{APIURL: cfg.APIURL, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewArchiveClient() error = %v", err)
	}

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}

	zoneGrid, err := classify.LoadASCIIGrid(cfg.ZoneGrid)
	if err != nil {
		t.Fatalf("load zone grid: %v", err)
	}
	soilGrid, err := classify.LoadASCIIGrid(cfg.SoilGrid)
	if err != nil {
		t.Fatalf("load soil grid: %v", err)
	}

	climate := service.NewClimateService(archive, cacheSvc, time.Hour)
	acc := period.NewAccumulator(climate, climate, 4)
	zones := classify.NewRasterZoneLookup(zoneGrid)
	soils := classify.NewRasterSoilLookup(soilGrid)
	opts = append([]decision.Option{decision.WithSoilLookup(soils)}, opts...)

	return &Stack{
		Climate:     climate,
		Accumulator: acc,
		Zones:       zones,
		Soils:       soils,
		Procedure:   decision.NewProcedure(zones, acc, opts...),
		Cache:       cacheSvc,
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}
