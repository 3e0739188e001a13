package engine

import (
	"context"
	"fmt"

	"rasterstat/internal/config"
	"rasterstat/internal/logging"
	"rasterstat/internal/telemetry"
	"rasterstat/internal/transport"
)

// Bootstrap starts the optional side services and returns an engine bound
// to the default metrics registry.
func Bootstrap(ctx context.Context, cfg config.Config) (*Engine, error) {
	e := New(cfg, telemetry.Default)

	// 1. health
	if cfg.GRPCPort > 0 {
		srv, err := transport.StartServer(cfg.GRPCPort)
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				logging.L().Error("health server stopped", "err", err)
			}
		}()
		e.health = srv
		logging.L().Info("health service listening", "addr", srv.Addr())
	}

	// 2. metrics
	if cfg.MetricsPort > 0 {
		e.http = telemetry.Expose(cfg.MetricsPort)
		logging.L().Info("metrics listening", "port", cfg.MetricsPort)
	}

	go func() {
		<-ctx.Done()
		e.Close()
	}()
	return e, nil
}

// Close stops the side services. It is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.health != nil {
			e.health.Stop()
		}
		if e.http != nil {
			_ = e.http.Shutdown(context.Background())
		}
	})
}
