package pipeline

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"rasterstat/raster"
)

const (
	defaultBlockRows   = 64
	defaultWindowScale = 4
)

// Options tunes row-level parallelism. Zero values pick defaults.
type Options struct {
	Workers      int // 0 → GOMAXPROCS
	BlockRows    int // rows per block, 0 → 64
	WindowBlocks int // emit look-ahead in blocks, 0 → 4 × Workers

	Observer Observer // optional progress sink
}

// Observer is told how many rows each pass has finished.
type Observer interface {
	RowsDone(p Pass, n int)
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.BlockRows <= 0 {
		o.BlockRows = defaultBlockRows
	}
	if o.WindowBlocks <= 0 {
		o.WindowBlocks = defaultWindowScale * o.Workers
	}
	return o
}

// Block is the half-open row range [Start, End).
type Block struct {
	Index      int
	Start, End int
}

// Blocks partitions rows into consecutive blocks of size rows (the last
// may be short). The partition depends only on rows and size.
func Blocks(rows, size int) []Block {
	if size <= 0 {
		size = defaultBlockRows
	}
	out := make([]Block, 0, (rows+size-1)/size)
	for start, i := 0, 0; start < rows; start, i = start+size, i+1 {
		end := start + size
		if end > rows {
			end = rows
		}
		out = append(out, Block{Index: i, Start: start, End: end})
	}
	return out
}

// Runner drives parallel row passes over one input raster.
type Runner struct {
	in   raster.Reader
	hdr  raster.Header
	opts Options
}

func NewRunner(in raster.Reader, opts Options) *Runner {
	return &Runner{in: in, hdr: in.Header(), opts: opts.normalized()}
}

func (r *Runner) Header() raster.Header { return r.hdr }

// Workers is the normalized worker count.
func (r *Runner) Workers() int { return r.opts.Workers }

// Blocks is the block partition used by every pass of this runner.
func (r *Runner) Blocks() []Block { return Blocks(r.hdr.Rows, r.opts.BlockRows) }

// RowFunc sees one row of one block. vals is reused after return.
type RowFunc func(b Block, row int, vals []float64) error

// Scan reads every row once, blocks in parallel. fn runs concurrently for
// different blocks and sequentially within a block, so per-block partial
// state indexed by Block.Index needs no locking.
func (r *Runner) Scan(ctx context.Context, fn RowFunc) error {
	return r.run(ctx, PassStatistics, nil, func(ctx context.Context, b Block) error {
		buf := make([]float64, r.hdr.Cols)
		for row := b.Start; row < b.End; row++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.in.ReadRow(row, buf); err != nil {
				return &RowError{Pass: PassStatistics, Row: row, Op: "read", Err: err}
			}
			if err := fn(b, row, buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// CellFunc maps one valid input value to its output value.
type CellFunc func(v float64) float64

// EmitStats summarises a finished emit pass.
type EmitStats struct {
	// Collisions counts valid cells whose output equals the no-data
	// sentinel and so reads back as no-data.
	Collisions int64
}

// Emit reads each row again, maps valid cells through f, copies no-data
// cells through, and writes the row exactly once.
func (r *Runner) Emit(ctx context.Context, w raster.Writer, f CellFunc) (EmitStats, error) {
	var collisions atomic.Int64
	win := NewWindow(r.opts.WindowBlocks)
	err := r.run(ctx, PassEmit, win, func(ctx context.Context, b Block) error {
		in := make([]float64, r.hdr.Cols)
		out := make([]float64, r.hdr.Cols)
		var hits int64
		for row := b.Start; row < b.End; row++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.in.ReadRow(row, in); err != nil {
				return &RowError{Pass: PassEmit, Row: row, Op: "read", Err: err}
			}
			for i, v := range in {
				if r.hdr.IsNoData(v) {
					out[i] = r.hdr.NoData
					continue
				}
				out[i] = f(v)
				if out[i] == r.hdr.NoData {
					hits++
				}
			}
			if err := w.WriteRow(row, out); err != nil {
				return &RowError{Pass: PassEmit, Row: row, Op: "write", Err: err}
			}
		}
		collisions.Add(hits)
		return nil
	})
	return EmitStats{Collisions: collisions.Load()}, err
}

// Fill writes every row as no-data without reading the input.
func (r *Runner) Fill(ctx context.Context, w raster.Writer) error {
	row := make([]float64, r.hdr.Cols)
	for i := range row {
		row[i] = r.hdr.NoData
	}
	for _, b := range r.Blocks() {
		for i := b.Start; i < b.End; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := w.WriteRow(i, row); err != nil {
				return &RowError{Pass: PassEmit, Row: i, Op: "write", Err: err}
			}
		}
		r.observe(PassEmit, b.End-b.Start)
	}
	return nil
}

/*──────── block scheduling ───────*/

func (r *Runner) run(ctx context.Context, pass Pass, win *Window, fn func(context.Context, Block) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	var dispatchErr error
	for _, b := range r.Blocks() {
		if win != nil {
			if err := win.Acquire(gctx, b.Index); err != nil {
				dispatchErr = err
				break
			}
		} else if err := gctx.Err(); err != nil {
			dispatchErr = err
			break
		}
		g.Go(func() error {
			if err := fn(gctx, b); err != nil {
				return err
			}
			if win != nil {
				win.Release(b.Index)
			}
			r.observe(pass, b.End-b.Start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if dispatchErr != nil {
		return dispatchErr
	}
	return ctx.Err()
}

func (r *Runner) observe(p Pass, n int) {
	if r.opts.Observer != nil {
		r.opts.Observer.RowsDone(p, n)
	}
}
