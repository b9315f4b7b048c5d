//go:build integration
// +build integration

package client

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/wetdry-service/internal/et0"
	"github.com/kjstillabower/wetdry-service/internal/models"
)

func archiveURL(t *testing.T) string {
	t.Helper()
	u := os.Getenv("CLIMATE_API_URL")
	if u == "" {
		t.Skip("CLIMATE_API_URL not set, skipping integration test")
	}
	return u
}

func TestArchiveClient_Ping_Integration(t *testing.T) {
	c, err := NewArchiveClient(Config{APIURL: archiveURL(t), Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewArchiveClient() error = %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// TestArchiveClient_GetDailyClimate_Integration fetches a known summer day and checks
// that the record is plausible and accepted by the ET0 estimator.
func TestArchiveClient_GetDailyClimate_Integration(t *testing.T) {
	c, err := NewArchiveClient(Config{APIURL: archiveURL(t), Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewArchiveClient() error = %v", err)
	}

	york := models.Coordinate{Lon: -1.0815, Lat: 53.959}
	got, err := c.GetDailyClimate(context.Background(), time.Date(2022, 7, 19, 0, 0, 0, 0, time.UTC), york)
	if err != nil {
		t.Fatalf("GetDailyClimate() error = %v", err)
	}
	if got.Observation.TMax < got.Observation.TMin {
		t.Errorf("TMax %v < TMin %v", got.Observation.TMax, got.Observation.TMin)
	}
	if _, err := et0.Estimate(got.Observation); err != nil {
		t.Errorf("et0.Estimate(fetched) error = %v", err)
	}
}
