package transform

import (
	"context"

	"rasterstat/internal/logging"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/stats"
	"rasterstat/raster"
)

// ZScoreConfig configures a ZScores transform.
type ZScoreConfig struct {
	Stage pipeline.Options
}

// ZScores replaces each valid cell with (v - mean) / stddev using the
// population standard deviation. On a constant raster (stddev 0) every
// valid cell becomes 0.0 and the result carries ConditionDegenerate.
type ZScores struct {
	cfg ZScoreConfig
}

func NewZScores(cfg ZScoreConfig) *ZScores { return &ZScores{cfg: cfg} }

func (z *ZScores) Name() string { return "zscores" }

func (z *ZScores) Transform(ctx context.Context, in raster.Reader, create raster.CreateFunc) (*Result, error) {
	r := begin(z.Name(), in, z.cfg.Stage)
	if err := r.checkHeader(); err != nil {
		return r.res, err
	}
	if err := r.tracker.Advance(pipeline.StatisticsAccumulating); err != nil {
		return r.res, r.fail(err)
	}

	m, err := scanMoments(ctx, r.runner)
	if err != nil {
		return r.res, r.fail(err)
	}
	if err := r.finalize(m); err != nil {
		return r.res, err
	}
	if m.Count == 0 {
		return r.emit(ctx, create, nil)
	}

	mean, sd := m.Mean, m.StdDev()
	if sd == 0 {
		r.res.Condition = ConditionDegenerate
		logging.L().Warn("zero variance; every valid cell gets z-score 0",
			"tool", z.Name(), "valid", m.Count, "value", mean)
		return r.emit(ctx, create, func(float64) float64 { return 0 })
	}
	return r.emit(ctx, create, func(v float64) float64 {
		return (v - mean) / sd
	})
}

// scanMoments accumulates Welford moments per block and merges them in
// block order, so the result does not depend on scheduling.
func scanMoments(ctx context.Context, rn *pipeline.Runner) (stats.Moments, error) {
	h := rn.Header()
	parts := make([]stats.Moments, len(rn.Blocks()))
	err := rn.Scan(ctx, func(b pipeline.Block, _ int, vals []float64) error {
		p := &parts[b.Index]
		for _, v := range vals {
			if !h.IsNoData(v) {
				p.Add(v)
			}
		}
		return nil
	})
	if err != nil {
		return stats.Moments{}, err
	}
	return mergeMoments(parts), nil
}

func mergeMoments(parts []stats.Moments) stats.Moments {
	var m stats.Moments
	for _, p := range parts {
		m.Merge(p)
	}
	return m
}
