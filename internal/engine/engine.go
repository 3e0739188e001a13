// Package engine runs rasterstat jobs: it resolves drivers, builds the
// transform, records metrics and keeps the health status current.
package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"rasterstat/internal/config"
	"rasterstat/internal/logging"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/spec"
	"rasterstat/internal/telemetry"
	"rasterstat/internal/transform"
	"rasterstat/internal/transport"
	"rasterstat/raster"
)

// Outcome labels for rasterstat_runs_total.
const (
	OutcomeDone   = "done"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

type Engine struct {
	cfg     config.Config
	metrics *telemetry.Metrics

	health    *transport.Server
	http      *http.Server
	closeOnce sync.Once
}

// New returns an engine without side services.
func New(cfg config.Config, m *telemetry.Metrics) *Engine {
	return &Engine{cfg: cfg, metrics: m}
}

// RunJob opens the input, runs the job's transform into its output and
// records the outcome. The returned result is non-nil whenever the
// transform itself ran.
func (e *Engine) RunJob(ctx context.Context, job spec.Job) (*transform.Result, error) {
	log := logging.ForJob(job.Name, job.Tool)

	t, err := Compile(job, e.cfg, e.metrics.Observer(job.Tool))
	if err != nil {
		e.metrics.Runs.WithLabelValues(job.Tool, OutcomeFailed).Inc()
		return nil, err
	}
	if raster.Overlaps(job.Input, job.Output) {
		e.metrics.Runs.WithLabelValues(job.Tool, OutcomeFailed).Inc()
		return nil, pipeline.InvalidParameter("job %s: output %s would overwrite input %s", job.Name, job.Output, job.Input)
	}

	in, err := raster.Open(ctx, job.Input)
	if err != nil {
		e.metrics.Runs.WithLabelValues(job.Tool, OutcomeFailed).Inc()
		return nil, &pipeline.RowError{Pass: pipeline.PassStatistics, Row: -1, Op: "open " + job.Input, Err: err}
	}
	defer in.Close()

	log.Info("job started", "input", job.Input, "output", job.Output)
	res, err := t.Transform(ctx, in, raster.Creator(ctx, job.Output))

	outcome := OutcomeDone
	switch {
	case transform.IsEmpty(err):
		outcome = OutcomeEmpty
	case err != nil:
		outcome = OutcomeFailed
	}
	if res != nil {
		e.metrics.RecordRun(job.Tool, outcome, res.Valid, res.NoData, res.Duration)
	} else {
		e.metrics.Runs.WithLabelValues(job.Tool, outcome).Inc()
	}
	return res, err
}

// Run executes jobs in order. An empty distribution does not stop the batch;
// any other failure does, as does cancellation. Results are returned for
// every job that ran.
func (e *Engine) Run(ctx context.Context, jobs []spec.Job) ([]*transform.Result, error) {
	if e.health != nil {
		e.health.SetServing(true)
		defer e.health.SetServing(false)
	}

	var (
		out   []*transform.Result
		empty []error
	)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := e.RunJob(ctx, job)
		if res != nil {
			out = append(out, res)
		}
		if err == nil {
			continue
		}
		if transform.IsEmpty(err) {
			empty = append(empty, err)
			continue
		}
		return out, err
	}
	return out, errors.Join(empty...)
}
