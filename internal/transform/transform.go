package transform

import (
	"context"
	"errors"
	"time"

	"rasterstat/internal/logging"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/stats"
	"rasterstat/raster"
)

// Transformer is one raster statistic tool.
type Transformer interface {
	Name() string
	// Transform reads in twice and writes the output created by create.
	// create is not called when validation or pass 1 fails.
	Transform(ctx context.Context, in raster.Reader, create raster.CreateFunc) (*Result, error)
}

// Condition flags a non-fatal statistical outcome.
type Condition string

const (
	ConditionNone       Condition = ""
	ConditionEmpty      Condition = "empty-distribution"
	ConditionDegenerate Condition = "degenerate-distribution"
)

// Result describes a finished (or failed) run.
type Result struct {
	Tool       string         `json:"tool"`
	State      pipeline.State `json:"-"`
	Condition  Condition      `json:"condition,omitempty"`
	Method     stats.Method   `json:"method,omitempty"`
	Classes    int            `json:"classes,omitempty"`
	Header     raster.Header  `json:"header"`
	Valid      int64          `json:"valid"`
	NoData     int64          `json:"nodata"`
	Summary    stats.Summary  `json:"summary"`
	Collisions int64          `json:"collisions,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// run carries the per-invocation state shared by both transforms.
type run struct {
	tracker pipeline.Tracker
	res     *Result
	runner  *pipeline.Runner
	start   time.Time
}

func begin(tool string, in raster.Reader, stage pipeline.Options) *run {
	h := in.Header()
	return &run{
		res:    &Result{Tool: tool, Header: h},
		runner: pipeline.NewRunner(in, stage),
		start:  time.Now(),
	}
}

// checkHeader rejects unusable input geometry before pass 1.
func (r *run) checkHeader() error {
	if err := r.res.Header.Validate(); err != nil {
		return r.fail(&pipeline.RowError{Pass: pipeline.PassStatistics, Row: -1, Op: "header", Err: err})
	}
	return nil
}

func (r *run) fail(err error) error {
	r.tracker.Fail(err)
	r.res.State = r.tracker.State()
	r.res.Duration = time.Since(r.start)
	logging.L().Error("transform failed", "tool", r.res.Tool, "state", r.res.State, "err", err)
	return err
}

// finalize records the population and moves to StatisticsFinalized.
func (r *run) finalize(m stats.Moments) error {
	r.res.Valid = m.Count
	r.res.NoData = r.res.Header.Cells() - m.Count
	r.res.Summary = m.Summary()
	if err := r.tracker.Advance(pipeline.StatisticsFinalized); err != nil {
		return r.fail(err)
	}
	logging.L().Debug("statistics finalized", "tool", r.res.Tool,
		"valid", r.res.Valid, "nodata", r.res.NoData, "mean", r.res.Summary.Mean, "stddev", r.res.Summary.StdDev)
	return nil
}

// emit creates the output and writes pass 2. A nil f fills the output with
// no-data and reports ErrEmptyDistribution.
func (r *run) emit(ctx context.Context, create raster.CreateFunc, f pipeline.CellFunc) (*Result, error) {
	w, err := create(r.res.Header)
	if err != nil {
		return r.res, r.fail(&pipeline.RowError{Pass: pipeline.PassEmit, Row: -1, Op: "create", Err: err})
	}
	if err := r.tracker.Advance(pipeline.Emitting); err != nil {
		_ = w.Close()
		return r.res, r.fail(err)
	}

	if f == nil {
		err = r.runner.Fill(ctx, w)
	} else {
		var st pipeline.EmitStats
		st, err = r.runner.Emit(ctx, w, f)
		r.res.Collisions = st.Collisions
	}
	if err != nil {
		_ = w.Close()
		return r.res, r.fail(err)
	}
	if err := w.Close(); err != nil {
		return r.res, r.fail(&pipeline.RowError{Pass: pipeline.PassEmit, Row: -1, Op: "close", Err: err})
	}
	if err := r.tracker.Advance(pipeline.Done); err != nil {
		return r.res, r.fail(err)
	}
	r.res.State = pipeline.Done
	r.res.Duration = time.Since(r.start)

	log := logging.L().With("tool", r.res.Tool)
	if r.res.Collisions > 0 {
		log.Warn("valid cells map onto the no-data sentinel", "cells", r.res.Collisions, "nodata", r.res.Header.NoData)
	}
	if f == nil {
		r.res.Condition = ConditionEmpty
		log.Warn("no valid cells; output is entirely no-data", "rows", r.res.Header.Rows, "cols", r.res.Header.Cols)
		return r.res, pipeline.ErrEmptyDistribution
	}
	log.Info("transform done", "valid", r.res.Valid, "nodata", r.res.NoData,
		"condition", string(r.res.Condition), "duration", r.res.Duration)
	return r.res, nil
}

// IsEmpty reports whether err is the empty-distribution condition.
func IsEmpty(err error) bool { return errors.Is(err, pipeline.ErrEmptyDistribution) }
