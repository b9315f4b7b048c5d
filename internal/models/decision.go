package models

import "time"

// Zone is the coarse climate-zone class used by the decision tree.
type Zone string

const (
	ZoneTemperate    Zone = "Temperate"
	ZoneNonTemperate Zone = "Non-Temperate"
	ZoneUnknown      Zone = "Unknown"
)

// Soil is the coarse soil-texture class used by the decision tree.
type Soil string

const (
	SoilClay    Soil = "clay"
	SoilSandy   Soil = "sandy"
	SoilUnknown Soil = "unknown"
)

// ParseSoil maps free-form input onto a Soil. Empty input yields SoilUnknown.
func ParseSoil(s string) Soil {
	switch s {
	case "clay", "Clay", "CLAY":
		return SoilClay
	case "sandy", "Sandy", "SANDY", "sand", "Sand":
		return SoilSandy
	case "":
		return SoilUnknown
	default:
		return Soil(s)
	}
}

// DecisionResult is the terminal state of the wet/dry decision tree.
type DecisionResult string

const (
	ResultWet      DecisionResult = "wet"
	ResultDry      DecisionResult = "dry"
	ResultDeferred DecisionResult = "deferred-to-farm-settings"
)

// DecisionInput is one wet/dry classification request for a farm location.
type DecisionInput struct {
	Coordinate  Coordinate `json:"coordinate"`
	Range       DateRange  `json:"range"`
	WellDrained bool       `json:"wellDrained"`
	Soil        Soil       `json:"soil,omitempty"`
}

// Outcome records how a decision was reached. FPP, FPPET and Ratio are zero
// when the zone short-circuits the tree.
type Outcome struct {
	ID        string         `json:"id"`
	Input     DecisionInput  `json:"input"`
	Result    DecisionResult `json:"result"`
	Zone      Zone           `json:"zone"`
	ZoneName  string         `json:"zoneName,omitempty"`
	Soil      Soil           `json:"soil,omitempty"`
	FPP       float64        `json:"fpp"`
	FPPET     float64        `json:"fppet"`
	Ratio     float64        `json:"ratio"`
	DecidedAt time.Time      `json:"decidedAt"`
}
