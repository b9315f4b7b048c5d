package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
)

var errOutsideCoverage = errors.New("outside raster coverage or nodata")

// usdaTextures is the USDA soil texture legend of the soil raster. Class 0 is nodata.
var usdaTextures = map[int]string{
	1:  "Clay",
	2:  "Silt Clay",
	3:  "Sandy Clay",
	4:  "Clay Loam",
	5:  "Silt Clay Loam",
	6:  "Sand Clay Loam",
	7:  "Loam",
	8:  "Silt Loam",
	9:  "Sand Loam",
	10: "Silt",
	11: "Loam Sand",
	12: "Sand",
}

// SoilInfo is a classified location: the coarse Soil plus the texture class it came from.
type SoilInfo struct {
	Soil models.Soil `json:"soil"`
	Code int         `json:"code"`
	Name string      `json:"name"`
}

// SoilFromCode maps a USDA texture code onto a SoilInfo: 1-6 clay, 7-12 sandy.
func SoilFromCode(code int) (SoilInfo, bool) {
	name, ok := usdaTextures[code]
	if !ok {
		return SoilInfo{Soil: models.SoilUnknown, Code: code}, false
	}
	soil := models.SoilSandy
	if code <= 6 {
		soil = models.SoilClay
	}
	return SoilInfo{Soil: soil, Code: code, Name: name}, true
}

// RasterSoilLookup classifies coordinates against a soil texture grid.
type RasterSoilLookup struct {
	grid *Grid
}

// NewRasterSoilLookup returns a lookup over grid.
func NewRasterSoilLookup(grid *Grid) *RasterSoilLookup {
	return &RasterSoilLookup{grid: grid}
}

// ClassifySoil returns the soil texture at coord. Class 0, nodata and points outside
// the grid fail with a LookupFailure.
func (l *RasterSoilLookup) ClassifySoil(ctx context.Context, coord models.Coordinate) (SoilInfo, error) {
	if err := ctx.Err(); err != nil {
		return SoilInfo{}, err
	}
	code, ok := l.grid.Value(coord.Lon, coord.Lat)
	if !ok || code == 0 {
		return SoilInfo{Soil: models.SoilUnknown}, fault.New(fault.KindLookupFailure, "soil", coord.String(), errOutsideCoverage)
	}
	info, ok := SoilFromCode(code)
	if !ok {
		return info, fault.New(fault.KindLookupFailure, "soil", coord.String(), fmt.Errorf("unknown texture class %d", code))
	}
	return info, nil
}
