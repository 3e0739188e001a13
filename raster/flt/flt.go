// Package flt reads and writes ESRI float grids: a raw float32 .flt body
// with a .hdr sidecar. Rows are fixed-width, so both sides are random
// access.
package flt

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"rasterstat/raster"
	"rasterstat/raster/internal/esri"
)

type Driver struct{}

func init() { raster.Register(".flt", Driver{}) }

// HeaderPath maps x.flt to x.hdr.
func HeaderPath(path string) string {
	return strings.TrimSuffix(path, ".flt") + ".hdr"
}

func (Driver) Open(_ context.Context, path string) (raster.Reader, error) {
	h, order, err := readHeader(HeaderPath(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if want := h.Cells() * 4; st.Size() != want {
		f.Close()
		return nil, fmt.Errorf("flt: %s is %d bytes, header implies %d", path, st.Size(), want)
	}
	return &grid{hdr: h, order: order, f: f}, nil
}

// Files names the body and its sidecar.
func (Driver) Files(path string) []string { return []string{path, HeaderPath(path)} }

func (Driver) Create(_ context.Context, path string, h raster.Header) (raster.Writer, error) {
	h.NoData = narrow(h.NoData)
	hf, err := os.Create(HeaderPath(path))
	if err != nil {
		return nil, err
	}
	err = esri.Write(hf, h, [2]string{"byteorder", "LSBFIRST"})
	if cerr := hf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(h.Cells() * 4); err != nil {
		f.Close()
		return nil, err
	}
	return &grid{hdr: h, order: binary.LittleEndian, f: f}, nil
}

func readHeader(path string) (raster.Header, binary.ByteOrder, error) {
	f, err := os.Open(path)
	if err != nil {
		return raster.Header{}, nil, err
	}
	defer f.Close()
	fields := esri.Fields{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		if err := fields.Add(sc.Text()); err != nil {
			return raster.Header{}, nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return raster.Header{}, nil, err
	}
	h, err := fields.Header()
	if err != nil {
		return h, nil, err
	}
	h.NoData = narrow(h.NoData)
	switch strings.ToUpper(fields["byteorder"]) {
	case "", "LSBFIRST", "I":
		return h, binary.LittleEndian, nil
	case "MSBFIRST", "M":
		return h, binary.BigEndian, nil
	default:
		return h, nil, fmt.Errorf("flt: unknown byteorder %q", fields["byteorder"])
	}
}

// narrow rounds the sentinel to the float32 the body stores, so a cell
// holding it compares equal once widened again.
func narrow(v float64) float64 { return float64(float32(v)) }

// grid is both Reader and Writer; os.File ReadAt/WriteAt are safe for
// concurrent use on disjoint ranges.
type grid struct {
	hdr   raster.Header
	order binary.ByteOrder
	f     *os.File
}

func (g *grid) Header() raster.Header { return g.hdr }

func (g *grid) offset(row int) int64 { return int64(row) * int64(g.hdr.Cols) * 4 }

func (g *grid) ReadRow(row int, dst []float64) error {
	if err := raster.CheckRow(g.hdr, row, len(dst)); err != nil {
		return err
	}
	buf := make([]byte, 4*len(dst))
	if _, err := g.f.ReadAt(buf, g.offset(row)); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = float64(math.Float32frombits(g.order.Uint32(buf[4*i:])))
	}
	return nil
}

// WriteRow narrows values to float32.
func (g *grid) WriteRow(row int, vals []float64) error {
	if err := raster.CheckRow(g.hdr, row, len(vals)); err != nil {
		return err
	}
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		g.order.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	_, err := g.f.WriteAt(buf, g.offset(row))
	return err
}

func (g *grid) Close() error { return g.f.Close() }
