// Package picture adapts raster images to the row contract. Reading yields
// 8-bit luminance with transparent pixels as no-data; writing renders a
// colour-ramp preview, so output values are not recoverable from the file.
package picture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp" // decode-only

	"rasterstat/raster"
)

// NoData is the sentinel reported for transparent pixels.
const NoData = -1.0

// Extensions lists the suffixes Register binds. .webp is read-only.
var Extensions = []string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".webp"}

// Driver renders output between Low (smallest value) and High (largest)
// by blending in HCL space.
type Driver struct {
	Low, High colorful.Color
}

// New parses hex colour endpoints such as "#440154".
func New(low, high string) (Driver, error) {
	lo, err := colorful.Hex(low)
	if err != nil {
		return Driver{}, fmt.Errorf("picture: low colour: %w", err)
	}
	hi, err := colorful.Hex(high)
	if err != nil {
		return Driver{}, fmt.Errorf("picture: high colour: %w", err)
	}
	return Driver{Low: lo, High: hi}, nil
}

// Register binds d to every image extension.
func Register(d Driver) {
	for _, ext := range Extensions {
		raster.Register(ext, d)
	}
}

func (d Driver) Open(_ context.Context, path string) (raster.Reader, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &reader{
		hdr:  raster.Header{Rows: b.Dy(), Cols: b.Dx(), NoData: NoData, CellSize: 1},
		gray: imaging.Grayscale(img),
		src:  imaging.Clone(img),
	}, nil
}

func (d Driver) Create(_ context.Context, path string, h raster.Header) (raster.Writer, error) {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		return nil, fmt.Errorf("%w: webp output", raster.ErrUnsupported)
	}
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return nil, err
	}
	return &writer{
		drv:     d,
		path:    path,
		hdr:     h,
		vals:    make([]float64, h.Cells()),
		written: make([]bool, h.Rows),
	}, nil
}

/*──────── reader ───────*/

type reader struct {
	hdr  raster.Header
	gray *image.NRGBA // luminance in R
	src  *image.NRGBA // original alpha
}

func (r *reader) Header() raster.Header { return r.hdr }

func (r *reader) ReadRow(row int, dst []float64) error {
	if err := raster.CheckRow(r.hdr, row, len(dst)); err != nil {
		return err
	}
	g := r.gray.Pix[row*r.gray.Stride:]
	s := r.src.Pix[row*r.src.Stride:]
	for x := range dst {
		if s[4*x+3] == 0 {
			dst[x] = NoData
			continue
		}
		dst[x] = float64(g[4*x])
	}
	return nil
}

func (r *reader) Close() error { return nil }

/*──────── writer ───────*/

type writer struct {
	drv  Driver
	path string
	hdr  raster.Header
	vals []float64

	mu      sync.Mutex
	written []bool
}

func (w *writer) WriteRow(row int, vals []float64) error {
	if err := raster.CheckRow(w.hdr, row, len(vals)); err != nil {
		return err
	}
	w.mu.Lock()
	if w.written[row] {
		w.mu.Unlock()
		return fmt.Errorf("picture: row %d written twice", row)
	}
	w.written[row] = true
	w.mu.Unlock()
	copy(w.vals[row*w.hdr.Cols:], vals)
	return nil
}

// Close renders the ramp over the written value range and saves the file.
func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for row, ok := range w.written {
		if !ok {
			return fmt.Errorf("picture: row %d never written", row)
		}
	}
	return imaging.Save(w.drv.Render(w.hdr, w.vals), w.path)
}

// Render maps vals (row-major, len h.Cells()) onto the colour ramp. No-data
// cells become fully transparent.
func (d Driver) Render(h raster.Header, vals []float64) *image.NRGBA {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if h.IsNoData(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	img := imaging.New(h.Cols, h.Rows, color.NRGBA{})
	for i, v := range vals {
		if h.IsNoData(v) {
			continue
		}
		t := 0.0
		if hi > lo {
			t = (v - lo) / (hi - lo)
		}
		r, g, b := d.Low.BlendHcl(d.High, t).Clamped().RGB255()
		img.SetNRGBA(i%h.Cols, i/h.Cols, color.NRGBA{R: r, G: g, B: b, A: 0xff})
	}
	return img
}
