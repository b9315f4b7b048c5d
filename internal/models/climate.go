package models

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", c.Lon, c.Lat)
}

// ClimateObservation is one day's weather at a site. Temperatures in °C, humidity in %,
// solar radiation in MJ/m²/day, wind speed at 2 m in m/s, altitude in m.
type ClimateObservation struct {
	TMax           float64 `json:"tMax"`
	TMin           float64 `json:"tMin"`
	RHMax          float64 `json:"rhMax"`
	RHMin          float64 `json:"rhMin"`
	SolarRadiation float64 `json:"solarRadiation"`
	WindSpeed2m    float64 `json:"windSpeed2m"`
	Altitude       float64 `json:"altitude"`
}

// DailyClimate is a single upstream record for one (date, location) pair. It is the unit
// that gets cached: both the observation and the precipitation total come from it.
type DailyClimate struct {
	Date          time.Time          `json:"date"`
	Coordinate    Coordinate         `json:"coordinate"`
	Observation   ClimateObservation `json:"observation"`
	Precipitation float64            `json:"precipitation"` // mm/day
	Source        string             `json:"source"`
	FetchedAt     time.Time          `json:"fetchedAt"`
}

// DateRange is an inclusive-start, exclusive-end span of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r DateRange) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}

// Site is a named farm location tracked for metrics and cache prefetch.
type Site struct {
	Name       string     `json:"name" yaml:"name"`
	Coordinate Coordinate `json:"coordinate" yaml:",inline"`
}
