// Package validation parses and checks request parameters before they reach the
// decision procedure. Errors are suitable for 400 INVALID_REQUEST responses.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/wetdry-service/internal/models"
)

var (
	// ErrCoordinateMissing is returned when lon or lat is absent.
	ErrCoordinateMissing = errors.New("lon and lat are required")
	// ErrCoordinateInvalid is returned when lon or lat is not a finite number.
	ErrCoordinateInvalid = errors.New("coordinate is not a number")
	// ErrLongitudeOutOfRange is returned when lon is outside [-180, 180].
	ErrLongitudeOutOfRange = errors.New("lon must be within [-180, 180]")
	// ErrLatitudeOutOfRange is returned when lat is outside [-90, 90].
	ErrLatitudeOutOfRange = errors.New("lat must be within [-90, 90]")
	// ErrDateMissing is returned when a required date is absent.
	ErrDateMissing = errors.New("date is required")
	// ErrDateInvalid is returned when a date is not YYYY-MM-DD.
	ErrDateInvalid = errors.New("date must be YYYY-MM-DD")
	// ErrRangeTooLong is returned when a date range exceeds the configured maximum.
	ErrRangeTooLong = errors.New("date range too long")
	// ErrRangeUnavailable is returned when a date range ends after the latest published
	// reanalysis day.
	ErrRangeUnavailable = errors.New("date range ends after the latest available reanalysis day")
	// ErrSoilInvalid is returned for soil values other than clay, sandy or unknown.
	ErrSoilInvalid = errors.New("soil must be clay, sandy or unknown")
)

// ParseCoordinate parses query-string lon and lat values.
func ParseCoordinate(lon, lat string) (models.Coordinate, error) {
	lon, lat = strings.TrimSpace(lon), strings.TrimSpace(lat)
	if lon == "" || lat == "" {
		return models.Coordinate{}, ErrCoordinateMissing
	}
	x, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("%w: lon %q", ErrCoordinateInvalid, lon)
	}
	y, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("%w: lat %q", ErrCoordinateInvalid, lat)
	}
	c := models.Coordinate{Lon: x, Lat: y}
	if err := ValidateCoordinate(c); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

// ValidateCoordinate checks that c is a finite WGS84 position.
func ValidateCoordinate(c models.Coordinate) error {
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) || math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return ErrCoordinateInvalid
	}
	if c.Lon < -180 || c.Lon > 180 {
		return ErrLongitudeOutOfRange
	}
	if c.Lat < -90 || c.Lat > 90 {
		return ErrLatitudeOutOfRange
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrDateMissing
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateInvalid, s)
	}
	return d, nil
}

// ParseDateRange parses start (inclusive) and end (exclusive). Ordering is not checked
// here: an end on or before start is an empty range for accumulation and an invalid
// range for decisions. maxDays <= 0 disables the length check.
func ParseDateRange(start, end string, maxDays int) (models.DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("end: %w", err)
	}
	r := models.DateRange{Start: s, End: e}
	if err := ValidateRangeLength(r, maxDays); err != nil {
		return models.DateRange{}, err
	}
	return r, nil
}

// ValidateRangeAvailable rejects non-empty ranges whose last day falls after latest.
func ValidateRangeAvailable(r models.DateRange, latest time.Time) error {
	if !r.End.After(r.Start) {
		return nil
	}
	last := r.End.AddDate(0, 0, -1)
	latest = time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, time.UTC)
	if last.After(latest) {
		return fmt.Errorf("%w: last day %s, latest %s", ErrRangeUnavailable,
			last.Format(time.DateOnly), latest.Format(time.DateOnly))
	}
	return nil
}

// ValidateRangeLength rejects ranges spanning more than maxDays days.
func ValidateRangeLength(r models.DateRange, maxDays int) error {
	if maxDays <= 0 {
		return nil
	}
	if days := int(r.End.Sub(r.Start).Hours() / 24); days > maxDays {
		return fmt.Errorf("%w: %d days exceeds %d", ErrRangeTooLong, days, maxDays)
	}
	return nil
}

// ParseSoil accepts clay, sandy, unknown or empty (case-insensitive).
func ParseSoil(s string) (models.Soil, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return models.SoilUnknown, nil
	case "clay":
		return models.SoilClay, nil
	case "sandy", "sand":
		return models.SoilSandy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrSoilInvalid, s)
	}
}
