package classify

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sampleGrid covers lon -2..1, lat 52..54 at 1-degree cells. The top row is lat 53..54.
const sampleGrid = `ncols        3
nrows        2
xllcorner    -2.0
yllcorner    52.0
cellsize     1.0
NODATA_value -9999
7 5 -9999
3 12 0
`

func TestReadASCIIGrid_Header(t *testing.T) {
	g, err := ReadASCIIGrid(strings.NewReader(sampleGrid))
	if err != nil {
		t.Fatalf("ReadASCIIGrid() error = %v", err)
	}
	if g.NCols != 3 || g.NRows != 2 || g.XLL != -2 || g.YLL != 52 || g.CellSize != 1 || g.NoData != -9999 {
		t.Errorf("header = %+v", g)
	}
}

// TestGrid_Value verifies row/column addressing, extent limits and nodata handling.
func TestGrid_Value(t *testing.T) {
	g, err := ReadASCIIGrid(strings.NewReader(sampleGrid))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		lon, lat float64
		want     int
		wantOK   bool
	}{
		{"york", -1.0815, 53.959, 7, true},
		{"top-middle", -0.5, 53.5, 5, true},
		{"top-left", -1.5, 53.5, 7, true},
		{"bottom-left", -1.5, 52.5, 3, true},
		{"bottom-middle", -0.5, 52.5, 12, true},
		{"zero class is a value", 0.5, 52.5, 0, true},
		{"nodata", 0.5, 53.5, 0, false},
		{"west of extent", -2.5, 53, 0, false},
		{"north of extent", -1.5, 54.5, 0, false},
		{"south of extent", -1.5, 51.9, 0, false},
		{"east edge is exclusive", 1.0, 53, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.Value(tt.lon, tt.lat)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Value(%v, %v) = %d, %v; want %d, %v", tt.lon, tt.lat, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestReadASCIIGrid_CenterAnchored(t *testing.T) {
	src := strings.Replace(strings.Replace(sampleGrid, "xllcorner    -2.0", "xllcenter -1.5", 1), "yllcorner    52.0", "yllcenter 52.5", 1)
	g, err := ReadASCIIGrid(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadASCIIGrid() error = %v", err)
	}
	if g.XLL != -2 || g.YLL != 52 {
		t.Errorf("corner = (%v, %v), want (-2, 52)", g.XLL, g.YLL)
	}
}

func TestReadASCIIGrid_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"short body", strings.Replace(sampleGrid, "3 12 0", "3 12", 1)},
		{"bad cell", strings.Replace(sampleGrid, "3 12 0", "3 x 0", 1)},
		{"missing cellsize", strings.Replace(sampleGrid, "cellsize     1.0\n", "", 1)},
		{"unknown header", "foo 1\n" + sampleGrid},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadASCIIGrid(strings.NewReader(tt.src)); err == nil {
				t.Error("ReadASCIIGrid() error = nil, want error")
			}
		})
	}
}

func TestLoadASCIIGrid_Gzip(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "zones.asc")
	if err := os.WriteFile(plain, []byte(sampleGrid), 0o600); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(sampleGrid))
	_ = zw.Close()
	compressed := filepath.Join(dir, "zones.asc.gz")
	if err := os.WriteFile(compressed, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{plain, compressed} {
		g, err := LoadASCIIGrid(p)
		if err != nil {
			t.Fatalf("LoadASCIIGrid(%s) error = %v", filepath.Base(p), err)
		}
		if v, ok := g.Value(-1.5, 53.5); !ok || v != 7 {
			t.Errorf("LoadASCIIGrid(%s).Value = %d, %v; want 7", filepath.Base(p), v, ok)
		}
	}

	if _, err := LoadASCIIGrid(filepath.Join(dir, "missing.asc")); err == nil {
		t.Error("LoadASCIIGrid(missing) error = nil")
	}
}
