package transform

import (
	"context"
	"sync"

	"rasterstat/internal/logging"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/stats"
	"rasterstat/raster"
)

const (
	DefaultBins          = 4096
	DefaultMaxExactCells = 50_000_000
)

// QuantileConfig configures a Quantiles transform.
type QuantileConfig struct {
	// Classes, when set, bins quantiles into that many equal-width classes
	// and emits 1-based class indices. Must be >= 1.
	Classes *int

	// Method picks exact sorting, a fixed-resolution histogram, or auto
	// (exact up to MaxExactCells valid cells, histogram beyond).
	Method        stats.Method
	Bins          int
	MaxExactCells int64

	Stage pipeline.Options
}

// Classes is a convenience for QuantileConfig.Classes.
func Classes(n int) *int { return &n }

// Quantiles replaces each valid cell with its fractional rank in (0, 1],
// or with its rank class when Classes is set.
type Quantiles struct {
	cfg QuantileConfig
}

func NewQuantiles(cfg QuantileConfig) *Quantiles {
	if cfg.Method == "" {
		cfg.Method = stats.MethodExact
	}
	if cfg.Bins <= 0 {
		cfg.Bins = DefaultBins
	}
	if cfg.MaxExactCells <= 0 {
		cfg.MaxExactCells = DefaultMaxExactCells
	}
	return &Quantiles{cfg: cfg}
}

func (q *Quantiles) Name() string { return "quantiles" }

func (q *Quantiles) validate() error {
	if q.cfg.Classes != nil && *q.cfg.Classes < 1 {
		return pipeline.InvalidParameter("num_classes must be >= 1, got %d", *q.cfg.Classes)
	}
	if _, err := stats.ParseMethod(string(q.cfg.Method)); err != nil {
		return pipeline.InvalidParameter("%v", err)
	}
	return nil
}

func (q *Quantiles) Transform(ctx context.Context, in raster.Reader, create raster.CreateFunc) (*Result, error) {
	r := begin(q.Name(), in, q.cfg.Stage)
	if q.cfg.Classes != nil {
		r.res.Classes = *q.cfg.Classes
	}
	if err := q.validate(); err != nil {
		return r.res, r.fail(err)
	}
	if err := r.checkHeader(); err != nil {
		return r.res, err
	}
	if err := r.tracker.Advance(pipeline.StatisticsAccumulating); err != nil {
		return r.res, r.fail(err)
	}

	ranker, m, err := q.accumulate(ctx, r)
	if err != nil {
		return r.res, r.fail(err)
	}
	if err := r.finalize(m); err != nil {
		return r.res, err
	}
	if m.Count == 0 {
		return r.emit(ctx, create, nil)
	}

	if q.cfg.Classes != nil {
		k := *q.cfg.Classes
		return r.emit(ctx, create, func(v float64) float64 {
			return float64(ranker.Rank(v).Class(k))
		})
	}
	return r.emit(ctx, create, func(v float64) float64 {
		return ranker.Rank(v).Fraction()
	})
}

// accumulate runs pass 1 for the configured method and records the method
// actually used on the result.
func (q *Quantiles) accumulate(ctx context.Context, r *run) (stats.Ranker, stats.Moments, error) {
	method := q.cfg.Method
	if method == stats.MethodAuto {
		m, err := scanMoments(ctx, r.runner)
		if err != nil {
			return nil, m, err
		}
		method = stats.MethodExact
		if m.Count > q.cfg.MaxExactCells {
			method = stats.MethodHistogram
			logging.L().Warn("valid cells exceed exact-sort limit; ranking by histogram",
				"tool", q.Name(), "valid", m.Count, "limit", q.cfg.MaxExactCells, "bins", q.cfg.Bins)
		}
		if m.Count == 0 {
			r.res.Method = method
			return nil, m, nil
		}
	}
	r.res.Method = method

	switch method {
	case stats.MethodHistogram:
		return q.histogram(ctx, r.runner)
	default:
		return q.exact(ctx, r.runner)
	}
}

// exact collects and sorts every block's valid values, then merges the
// sorted runs in block order.
func (q *Quantiles) exact(ctx context.Context, rn *pipeline.Runner) (stats.Ranker, stats.Moments, error) {
	h := rn.Header()
	blocks := rn.Blocks()
	runs := make([][]float64, len(blocks))
	parts := make([]stats.Moments, len(blocks))

	err := rn.Scan(ctx, func(b pipeline.Block, row int, vals []float64) error {
		run := runs[b.Index]
		for _, v := range vals {
			if h.IsNoData(v) {
				continue
			}
			run = append(run, v)
			parts[b.Index].Add(v)
		}
		if row == b.End-1 {
			run = stats.SortRun(run)
		}
		runs[b.Index] = run
		return nil
	})
	if err != nil {
		return nil, stats.Moments{}, err
	}
	m := mergeMoments(parts)
	return stats.NewExactRanker(runs), m, nil
}

// histogram finds the value range, then counts values into equal-width
// buckets. In-flight blocks reuse partial histograms from a small pool;
// integer counts merge the same in any order.
func (q *Quantiles) histogram(ctx context.Context, rn *pipeline.Runner) (stats.Ranker, stats.Moments, error) {
	m, err := scanMoments(ctx, rn)
	if err != nil || m.Count == 0 {
		return nil, m, err
	}

	h := rn.Header()
	var mu sync.Mutex
	var all []*stats.Histogram
	borrow := func() (*stats.Histogram, error) {
		hist, err := stats.NewHistogram(m.Min, m.Max, q.cfg.Bins)
		if err != nil {
			return nil, pipeline.InvalidParameter("%v", err)
		}
		mu.Lock()
		all = append(all, hist)
		mu.Unlock()
		return hist, nil
	}
	free := make(chan *stats.Histogram, rn.Workers())
	held := make([]*stats.Histogram, len(rn.Blocks()))

	err = rn.Scan(ctx, func(b pipeline.Block, row int, vals []float64) error {
		if row == b.Start {
			select {
			case held[b.Index] = <-free:
			default:
				hist, err := borrow()
				if err != nil {
					return err
				}
				held[b.Index] = hist
			}
		}
		hist := held[b.Index]
		for _, v := range vals {
			if !h.IsNoData(v) {
				hist.Add(v)
			}
		}
		if row == b.End-1 {
			held[b.Index] = nil
			select {
			case free <- hist:
			default:
			}
		}
		return nil
	})
	if err != nil {
		return nil, m, err
	}

	total := all[0]
	for _, p := range all[1:] {
		if err := total.Merge(p); err != nil {
			return nil, m, err
		}
	}
	return stats.NewHistogramRanker(total), m, nil
}
