package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/models"
)

// ipccZones is the IPCC climate-zone legend of the zone raster.
var ipccZones = map[int]string{
	1:  "Tropical Montane",
	2:  "Tropical Wet",
	3:  "Tropical Moist",
	4:  "Tropical Dry",
	5:  "Warm Temperate Moist",
	6:  "Warm Temperate Dry",
	7:  "Cool Temperate Moist",
	8:  "Cool Temperate Dry",
	9:  "Boreal Moist",
	10: "Boreal Dry",
	11: "Polar Moist",
	12: "Polar Dry",
}

// ZoneInfo is a classified location: the coarse Zone plus the raster class it came from.
type ZoneInfo struct {
	Zone models.Zone `json:"zone"`
	Code int         `json:"code"`
	Name string      `json:"name"`
}

// ZoneFromCode maps an IPCC class code onto a ZoneInfo. Any class whose name contains
// "Temperate" is Temperate; other known classes are Non-Temperate.
func ZoneFromCode(code int) (ZoneInfo, bool) {
	name, ok := ipccZones[code]
	if !ok {
		return ZoneInfo{Zone: models.ZoneUnknown, Code: code}, false
	}
	zone := models.ZoneNonTemperate
	if strings.Contains(name, "Temperate") {
		zone = models.ZoneTemperate
	}
	return ZoneInfo{Zone: zone, Code: code, Name: name}, true
}

// RasterZoneLookup classifies coordinates against an IPCC climate-zone grid.
type RasterZoneLookup struct {
	grid *Grid
}

// NewRasterZoneLookup returns a lookup over grid.
func NewRasterZoneLookup(grid *Grid) *RasterZoneLookup {
	return &RasterZoneLookup{grid: grid}
}

// Classify returns the climate zone at coord. Points outside the grid, on nodata cells,
// or on classes missing from the legend fail with a LookupFailure.
func (l *RasterZoneLookup) Classify(ctx context.Context, coord models.Coordinate) (ZoneInfo, error) {
	if err := ctx.Err(); err != nil {
		return ZoneInfo{}, err
	}
	code, ok := l.grid.Value(coord.Lon, coord.Lat)
	if !ok {
		return ZoneInfo{Zone: models.ZoneUnknown}, fault.New(fault.KindLookupFailure, "zone", coord.String(), errOutsideCoverage)
	}
	info, ok := ZoneFromCode(code)
	if !ok {
		return info, fault.New(fault.KindLookupFailure, "zone", coord.String(), fmt.Errorf("unknown zone class %d", code))
	}
	return info, nil
}
