// Package et0 estimates daily reference evapotranspiration with the FAO-56
// Penman-Monteith equation, using the fixed-albedo net radiation shortcut
// (Rn = 0.77·Rs) and zero soil heat flux.
package et0

import (
	"math"
	"strconv"

	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
)

const (
	netRadiationFactor = 0.77 // 1 - albedo (0.23)
	soilHeatFlux       = 0.0
	psychrometricCoeff = 0.000665
	minTemperature     = -237.3
)

// Components holds the intermediate terms of one ET0 evaluation.
type Components struct {
	NetRadiation   float64 `json:"netRadiation"`   // MJ/m²/day
	MeanTemp       float64 `json:"meanTemp"`       // °C
	Pressure       float64 `json:"pressure"`       // kPa
	Psychrometric  float64 `json:"psychrometric"`  // kPa/°C
	SaturationVP   float64 `json:"saturationVP"`   // kPa
	ActualVP       float64 `json:"actualVP"`       // kPa
	Slope          float64 `json:"slope"`          // kPa/°C
	Denominator    float64 `json:"denominator"`
	UnroundedValue float64 `json:"unroundedValue"` // mm/day
}

// Estimate returns ET0 in mm/day rounded to two decimals.
func Estimate(obs models.ClimateObservation) (float64, error) {
	c, err := Evaluate(obs)
	if err != nil {
		return 0, err
	}
	return Round2(c.UnroundedValue), nil
}

// Evaluate validates obs and computes every term of the equation.
func Evaluate(obs models.ClimateObservation) (Components, error) {
	if err := Validate(obs); err != nil {
		return Components{}, err
	}

	var c Components
	c.NetRadiation = netRadiationFactor * obs.SolarRadiation
	c.MeanTemp = (obs.TMax + obs.TMin) / 2
	c.Pressure = AtmosphericPressure(obs.Altitude)
	c.Psychrometric = psychrometricCoeff * c.Pressure

	esMax := SaturationVapourPressure(obs.TMax)
	esMin := SaturationVapourPressure(obs.TMin)
	c.SaturationVP = (esMax + esMin) / 2
	c.ActualVP = ((obs.RHMax/100)*esMin + (obs.RHMin/100)*esMax) / 2
	c.Slope = 4098 * c.SaturationVP / math.Pow(c.MeanTemp+237.3, 2)

	u2 := obs.WindSpeed2m
	c.Denominator = c.Slope + c.Psychrometric*(1+0.34*u2)
	if c.Denominator == 0 || !finite(c.Denominator) {
		return Components{}, fault.New(fault.KindInvalidInput, "et0", "denominator="+strconv.FormatFloat(c.Denominator, 'g', -1, 64), nil)
	}

	radiationTerm := 0.408 * c.Slope * (c.NetRadiation - soilHeatFlux)
	aeroTerm := c.Psychrometric * (900 / (c.MeanTemp + 273)) * u2 * (c.SaturationVP - c.ActualVP)
	c.UnroundedValue = (radiationTerm + aeroTerm) / c.Denominator
	if !finite(c.UnroundedValue) {
		return Components{}, fault.New(fault.KindInvalidInput, "et0", "result is not finite", nil)
	}
	return c, nil
}

// AtmosphericPressure returns pressure in kPa at altitude z metres (FAO-56 eq. 7).
func AtmosphericPressure(z float64) float64 {
	return 101.3 * math.Pow((293-0.0065*z)/293, 5.26)
}

// SaturationVapourPressure returns e°(T) in kPa (FAO-56 eq. 11).
func SaturationVapourPressure(t float64) float64 {
	return 0.6108 * math.Exp(17.27*t/(t+237.3))
}

// WindAt2m converts a wind speed measured at height z metres to 2 m (FAO-56 eq. 47).
func WindAt2m(uz, z float64) float64 {
	if z == 2 {
		return uz
	}
	return uz * 4.87 / math.Log(67.8*z-5.42)
}

// Round2 rounds to two decimals. Exact ties round away from zero, not to even.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validate rejects observations outside the physical domain of the equation.
func Validate(obs models.ClimateObservation) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"tMax", obs.TMax},
		{"tMin", obs.TMin},
		{"rhMax", obs.RHMax},
		{"rhMin", obs.RHMin},
		{"solarRadiation", obs.SolarRadiation},
		{"windSpeed2m", obs.WindSpeed2m},
		{"altitude", obs.Altitude},
	}
	for _, f := range fields {
		if !finite(f.v) {
			return invalid(f.name, f.v, "not finite")
		}
	}
	switch {
	case obs.TMin <= minTemperature:
		return invalid("tMin", obs.TMin, "below absolute limit")
	case obs.TMax < obs.TMin:
		return invalid("tMax", obs.TMax, "below tMin")
	case obs.RHMax < 0 || obs.RHMax > 100:
		return invalid("rhMax", obs.RHMax, "outside 0..100")
	case obs.RHMin < 0 || obs.RHMin > 100:
		return invalid("rhMin", obs.RHMin, "outside 0..100")
	case obs.RHMin > obs.RHMax:
		return invalid("rhMin", obs.RHMin, "above rhMax")
	case obs.SolarRadiation < 0:
		return invalid("solarRadiation", obs.SolarRadiation, "negative")
	case obs.WindSpeed2m < 0:
		return invalid("windSpeed2m", obs.WindSpeed2m, "negative")
	case 293-0.0065*obs.Altitude <= 0:
		return invalid("altitude", obs.Altitude, "outside atmosphere model")
	}
	return nil
}

func invalid(field string, v float64, reason string) error {
	return fault.Newf(fault.KindInvalidInput, "et0", nil, "%s=%s %s", field, strconv.FormatFloat(v, 'g', -1, 64), reason)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
