// Package telemetry registers the Prometheus collectors for transform runs
// and serves them on /metrics.
package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rasterstat/internal/pipeline"
)

// Metrics is the collector set for one registry.
type Metrics struct {
	Rows     *prometheus.CounterVec
	Cells    *prometheus.CounterVec
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterstat_rows_total",
			Help: "Raster rows processed, by tool and pass.",
		}, []string{"tool", "pass"}),
		Cells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterstat_cells_total",
			Help: "Input cells seen, by tool and kind (valid|nodata).",
		}, []string{"tool", "kind"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterstat_runs_total",
			Help: "Transform runs, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rasterstat_run_duration_seconds",
			Help:    "Wall time of transform runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"tool"}),
	}
	reg.MustRegister(m.Rows, m.Cells, m.Runs, m.Duration)
	return m
}

// Default is registered on the global Prometheus registry.
var Default = NewMetrics(prometheus.DefaultRegisterer)

// Observer returns a pipeline.Observer counting rows for tool.
func (m *Metrics) Observer(tool string) pipeline.Observer {
	return rowObserver{
		stats: m.Rows.WithLabelValues(tool, "statistics"),
		emit:  m.Rows.WithLabelValues(tool, "emit"),
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(tool, outcome string, valid, nodata int64, took time.Duration) {
	m.Runs.WithLabelValues(tool, outcome).Inc()
	m.Cells.WithLabelValues(tool, "valid").Add(float64(valid))
	m.Cells.WithLabelValues(tool, "nodata").Add(float64(nodata))
	m.Duration.WithLabelValues(tool).Observe(took.Seconds())
}

type rowObserver struct {
	stats, emit prometheus.Counter
}

func (o rowObserver) RowsDone(p pipeline.Pass, n int) {
	if p == pipeline.PassEmit {
		o.emit.Add(float64(n))
		return
	}
	o.stats.Add(float64(n))
}

// Expose serves the default registry on :port/metrics in the background.
func Expose(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
