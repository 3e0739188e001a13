// Package memory is an in-process raster driver backed by a row-major
// []float64. Grids registered under a name are reachable as mem://name.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"rasterstat/raster"
)

// Grid is a dense in-memory raster. It implements both raster.Reader and
// raster.Writer.
type Grid struct {
	hdr  raster.Header
	data []float64

	mu      sync.Mutex
	written []bool
	closed  bool
}

// New allocates a grid filled with the no-data sentinel.
func New(h raster.Header) *Grid {
	g := &Grid{
		hdr:     h,
		data:    make([]float64, h.Cells()),
		written: make([]bool, h.Rows),
	}
	for i := range g.data {
		g.data[i] = h.NoData
	}
	return g
}

// FromRows builds a grid from rows of equal length.
func FromRows(nodata float64, rows [][]float64) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("memory: empty grid")
	}
	h := raster.Header{Rows: len(rows), Cols: len(rows[0]), NoData: nodata}
	g := New(h)
	for i, r := range rows {
		if len(r) != h.Cols {
			return nil, fmt.Errorf("memory: row %d has %d cells, want %d", i, len(r), h.Cols)
		}
		copy(g.data[i*h.Cols:], r)
	}
	return g, nil
}

// MustFromRows is FromRows for tests and literals.
func MustFromRows(nodata float64, rows [][]float64) *Grid {
	g, err := FromRows(nodata, rows)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grid) Header() raster.Header { return g.hdr }

func (g *Grid) ReadRow(row int, dst []float64) error {
	if err := raster.CheckRow(g.hdr, row, len(dst)); err != nil {
		return err
	}
	copy(dst, g.data[row*g.hdr.Cols:(row+1)*g.hdr.Cols])
	return nil
}

func (g *Grid) WriteRow(row int, vals []float64) error {
	if err := raster.CheckRow(g.hdr, row, len(vals)); err != nil {
		return err
	}
	g.mu.Lock()
	if g.written[row] {
		g.mu.Unlock()
		return fmt.Errorf("memory: row %d written twice", row)
	}
	g.written[row] = true
	g.mu.Unlock()
	copy(g.data[row*g.hdr.Cols:], vals)
	return nil
}

// Close is idempotent.
func (g *Grid) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (g *Grid) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Rows returns a copy of the grid as rows.
func (g *Grid) Rows() [][]float64 {
	out := make([][]float64, g.hdr.Rows)
	for i := range out {
		out[i] = append([]float64(nil), g.data[i*g.hdr.Cols:(i+1)*g.hdr.Cols]...)
	}
	return out
}

// Values returns the row-major backing slice. Callers must not mutate it
// while the grid is in use.
func (g *Grid) Values() []float64 { return g.data }

// RowsWritten counts rows received through WriteRow.
func (g *Grid) RowsWritten() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.written {
		if w {
			n++
		}
	}
	return n
}

/*──────── named store (mem://name) ───────*/

// Store holds named grids for the mem:// scheme.
type Store struct {
	mu    sync.RWMutex
	grids map[string]*Grid
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{grids: make(map[string]*Grid)} }

// Default backs the mem:// driver registered by init.
var Default = NewStore()

// Put registers g under name, replacing any previous grid.
func (s *Store) Put(name string, g *Grid) {
	s.mu.Lock()
	s.grids[name] = g
	s.mu.Unlock()
}

// Get returns the grid registered under name.
func (s *Store) Get(name string) (*Grid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grids[name]
	return g, ok
}

func (s *Store) Open(_ context.Context, path string) (raster.Reader, error) {
	name, err := nameOf(path)
	if err != nil {
		return nil, err
	}
	g, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("memory: no grid named %q", name)
	}
	return g, nil
}

func (s *Store) Create(_ context.Context, path string, h raster.Header) (raster.Writer, error) {
	name, err := nameOf(path)
	if err != nil {
		return nil, err
	}
	g := New(h)
	s.Put(name, g)
	return g, nil
}

func nameOf(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("memory: %w", err)
	}
	name := u.Host + u.Path
	if name == "" {
		return "", fmt.Errorf("memory: empty grid name in %q", path)
	}
	return name, nil
}

func init() {
	raster.Register("mem", Default)
}
