// Package esri reads and writes the key/value header shared by ESRI ASCII
// grids and the .hdr sidecar of ESRI float grids.
package esri

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"rasterstat/raster"
)

// DefaultNoData applies when a header has no NODATA_value line.
const DefaultNoData = -9999.0

// Keywords are the header keys an ASCII grid may carry. Matching is
// case-insensitive.
var Keywords = map[string]bool{
	"ncols":        true,
	"nrows":        true,
	"xllcorner":    true,
	"yllcorner":    true,
	"xllcenter":    true,
	"yllcenter":    true,
	"cellsize":     true,
	"nodata_value": true,
	"byteorder":    true,
}

// IsKeyLine reports whether line starts with a header keyword. Data rows
// may begin with tokens such as nan or inf, so a leading letter is not
// enough.
func IsKeyLine(line string) bool {
	f := strings.Fields(line)
	return len(f) > 0 && Keywords[strings.ToLower(f[0])]
}

// Fields collects "key value" lines with lowercased keys.
type Fields map[string]string

// Add parses one header line.
func (f Fields) Add(line string) error {
	kv := strings.Fields(line)
	if len(kv) != 2 {
		return fmt.Errorf("esri: malformed header line %q", strings.TrimSpace(line))
	}
	f[strings.ToLower(kv[0])] = kv[1]
	return nil
}

// Header converts the collected fields. *center variants are shifted to
// corners by half a cell.
func (f Fields) Header() (raster.Header, error) {
	h := raster.Header{NoData: DefaultNoData}
	var err error
	if h.Cols, err = f.int("ncols"); err != nil {
		return h, err
	}
	if h.Rows, err = f.int("nrows"); err != nil {
		return h, err
	}
	if _, ok := f["cellsize"]; ok {
		if h.CellSize, err = f.float("cellsize"); err != nil {
			return h, err
		}
	}
	if _, ok := f["nodata_value"]; ok {
		if h.NoData, err = f.float("nodata_value"); err != nil {
			return h, err
		}
	}
	for _, axis := range []struct {
		corner, center string
		dst            *float64
	}{
		{"xllcorner", "xllcenter", &h.XLLCorner},
		{"yllcorner", "yllcenter", &h.YLLCorner},
	} {
		switch {
		case f[axis.corner] != "":
			if *axis.dst, err = f.float(axis.corner); err != nil {
				return h, err
			}
		case f[axis.center] != "":
			v, err := f.float(axis.center)
			if err != nil {
				return h, err
			}
			*axis.dst = v - h.CellSize/2
		}
	}
	return h, h.Validate()
}

func (f Fields) int(key string) (int, error) {
	s, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("esri: header missing %s", key)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("esri: %s: %w", key, err)
	}
	return n, nil
}

func (f Fields) float(key string) (float64, error) {
	v, err := strconv.ParseFloat(f[key], 64)
	if err != nil {
		return 0, fmt.Errorf("esri: %s: %w", key, err)
	}
	return v, nil
}

// Write emits the header lines for h followed by any extra key/value pairs.
func Write(w io.Writer, h raster.Header, extra ...[2]string) error {
	lines := [][2]string{
		{"ncols", strconv.Itoa(h.Cols)},
		{"nrows", strconv.Itoa(h.Rows)},
		{"xllcorner", Format(h.XLLCorner)},
		{"yllcorner", Format(h.YLLCorner)},
		{"cellsize", Format(h.CellSize)},
		{"NODATA_value", Format(h.NoData)},
	}
	for _, kv := range append(lines, extra...) {
		if _, err := fmt.Fprintf(w, "%-14s%s\n", kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// Format renders v with the shortest round-tripping representation.
func Format(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
