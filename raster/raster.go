// Package raster defines the row-oriented access contract between the
// statistics core and raster storage drivers.
//
// A Reader exposes a grid of Rows × Cols float64 cells with a no-data
// sentinel. A Writer accepts exactly one WriteRow call per row index.
// Both must tolerate concurrent calls on distinct rows.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupported is returned by drivers that cannot open or create a raster.
var ErrUnsupported = errors.New("raster: operation not supported by driver")

// Header describes grid geometry and the no-data sentinel. The geo fields
// are opaque to the core and copied from input to output.
type Header struct {
	Rows   int     `json:"rows"`
	Cols   int     `json:"cols"`
	NoData float64 `json:"nodata"`

	XLLCorner float64 `json:"xllcorner,omitempty"`
	YLLCorner float64 `json:"yllcorner,omitempty"`
	CellSize  float64 `json:"cellsize,omitempty"`
}

// IsNoData reports whether v is excluded from statistics. NaN and ±Inf
// are always no-data, whatever the sentinel: neither has a rank or a
// finite distance from the mean.
func (h Header) IsNoData(v float64) bool {
	return v == h.NoData || math.IsNaN(v) || math.IsInf(v, 0)
}

// Cells is Rows × Cols.
func (h Header) Cells() int64 { return int64(h.Rows) * int64(h.Cols) }

// Validate rejects non-positive dimensions.
func (h Header) Validate() error {
	if h.Rows <= 0 || h.Cols <= 0 {
		return fmt.Errorf("raster: invalid dimensions %dx%d", h.Rows, h.Cols)
	}
	return nil
}

// Reader is read access to an input raster.
type Reader interface {
	Header() Header
	// ReadRow fills dst (len Cols) with row values.
	ReadRow(row int, dst []float64) error
	Close() error
}

// Writer is write access to an output raster. Close flushes; a raster is
// not complete until Close returns nil.
type Writer interface {
	WriteRow(row int, vals []float64) error
	Close() error
}

// CreateFunc creates the output raster once the input header is known.
type CreateFunc func(Header) (Writer, error)

// CheckRow validates a row index and buffer length against h.
func CheckRow(h Header, row, n int) error {
	if row < 0 || row >= h.Rows {
		return fmt.Errorf("raster: row %d out of range [0,%d)", row, h.Rows)
	}
	if n != h.Cols {
		return fmt.Errorf("raster: row buffer has %d cells, want %d", n, h.Cols)
	}
	return nil
}
