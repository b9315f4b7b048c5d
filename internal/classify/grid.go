package classify

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Grid is a single-band integer raster in ESRI ASCII grid layout: rows run north to
// south, columns west to east, and the lower-left corner anchors the extent.
type Grid struct {
	NCols    int
	NRows    int
	XLL      float64 // west edge
	YLL      float64 // south edge
	CellSize float64
	NoData   int
	cells    []int32
}

// LoadASCIIGrid reads an ESRI ASCII grid from path. Files ending in .gz are decompressed.
func LoadASCIIGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grid: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open grid %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	g, err := ReadASCIIGrid(r)
	if err != nil {
		return nil, fmt.Errorf("read grid %s: %w", path, err)
	}
	return g, nil
}

// ReadASCIIGrid parses an ESRI ASCII grid. Both corner and center anchoring are accepted;
// NODATA_value defaults to -9999.
func ReadASCIIGrid(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	g := &Grid{NoData: -9999}
	var (
		xCenter, yCenter bool
		haveX, haveY     bool
		first            string
	)
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = sc.Text()
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %q has no value", key)
		}
		val := sc.Text()
		var err error
		switch key {
		case "ncols":
			g.NCols, err = strconv.Atoi(val)
		case "nrows":
			g.NRows, err = strconv.Atoi(val)
		case "xllcorner", "xllcenter":
			g.XLL, err = strconv.ParseFloat(val, 64)
			xCenter, haveX = key == "xllcenter", true
		case "yllcorner", "yllcenter":
			g.YLL, err = strconv.ParseFloat(val, 64)
			yCenter, haveY = key == "yllcenter", true
		case "cellsize":
			g.CellSize, err = strconv.ParseFloat(val, 64)
		case "nodata_value":
			var f float64
			f, err = strconv.ParseFloat(val, 64)
			g.NoData = int(f)
		default:
			return nil, fmt.Errorf("unknown header %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if g.NCols <= 0 || g.NRows <= 0 || g.CellSize <= 0 || !haveX || !haveY {
		return nil, fmt.Errorf("incomplete header: ncols=%d nrows=%d cellsize=%g", g.NCols, g.NRows, g.CellSize)
	}
	if xCenter {
		g.XLL -= g.CellSize / 2
	}
	if yCenter {
		g.YLL -= g.CellSize / 2
	}

	n := g.NCols * g.NRows
	g.cells = make([]int32, 0, n)
	parse := func(tok string) error {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("cell %d: %w", len(g.cells), err)
		}
		g.cells = append(g.cells, int32(math.Round(f)))
		return nil
	}
	if first != "" {
		if err := parse(first); err != nil {
			return nil, err
		}
	}
	for len(g.cells) < n && sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(g.cells) != n {
		return nil, fmt.Errorf("expected %d cells, got %d", n, len(g.cells))
	}
	return g, nil
}

// Value returns the cell value containing (lon, lat). ok is false outside the extent
// or on a nodata cell.
func (g *Grid) Value(lon, lat float64) (v int, ok bool) {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, false
	}
	col := int(math.Floor((lon - g.XLL) / g.CellSize))
	fromBottom := int(math.Floor((lat - g.YLL) / g.CellSize))
	if col < 0 || col >= g.NCols || fromBottom < 0 || fromBottom >= g.NRows {
		return 0, false
	}
	row := g.NRows - 1 - fromBottom
	v = int(g.cells[row*g.NCols+col])
	if v == g.NoData {
		return 0, false
	}
	return v, true
}
