package engine

import (
	"fmt"

	"rasterstat/internal/config"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/spec"
	"rasterstat/internal/stats"
	"rasterstat/internal/transform"
)

// Compile builds the transformer for job. Job-level quantile knobs override
// the process config.
func Compile(job spec.Job, cfg config.Config, obs pipeline.Observer) (transform.Transformer, error) {
	stage := cfg.Stage()
	stage.Observer = obs

	switch job.Tool {
	case spec.ToolQuantiles:
		if job.Classes != nil && *job.Classes < 1 {
			return nil, pipeline.InvalidParameter("job %s: classes must be at least 1, got %d", job.Name, *job.Classes)
		}
		raw := cfg.Quantiles.Method
		if job.Method != "" {
			raw = job.Method
		}
		m, err := stats.ParseMethod(raw)
		if err != nil {
			return nil, pipeline.InvalidParameter("job %s: %v", job.Name, err)
		}
		bins := cfg.Quantiles.Bins
		if job.Bins > 0 {
			bins = job.Bins
		}
		return transform.NewQuantiles(transform.QuantileConfig{
			Classes:       job.Classes,
			Method:        m,
			Bins:          bins,
			MaxExactCells: cfg.Quantiles.MaxExactCells,
			Stage:         stage,
		}), nil
	case spec.ToolZScores:
		if job.Classes != nil || job.Method != "" || job.Bins != 0 {
			return nil, pipeline.InvalidParameter("job %s: classes, method and bins apply to quantiles only", job.Name)
		}
		return transform.NewZScores(transform.ZScoreConfig{Stage: stage}), nil
	default:
		return nil, fmt.Errorf("%w: job %s: unknown tool %q", pipeline.ErrInvalidParameter, job.Name, job.Tool)
	}
}
