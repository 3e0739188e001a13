// Package logging holds the process-wide structured logger.
//
// Until the process config is loaded the logger is a text handler on
// stderr at info level, optionally adjusted from the environment by
// InitFromEnv. Configure swaps it atomically, so goroutines already
// running a job pick up the new handler on their next call to L. Logs
// never go to stdout: the ASCII driver may stream a raster there.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Environment keys read by InitFromEnv. They match the config loader's
// RASTERSTAT__ override scheme, so one variable covers both phases.
const (
	EnvLevel = "RASTERSTAT__LOG__LEVEL"
	EnvJSON  = "RASTERSTAT__LOG__JSON"
)

// Options is the log block of the process config.
type Options struct {
	Level string `koanf:"level"` // debug|info|warn|error
	JSON  bool   `koanf:"json"`
	// Output defaults to stderr.
	Output io.Writer `koanf:"-"`
}

var current atomic.Pointer[slog.Logger]

func init() { current.Store(New(Options{})) }

// New builds a logger without installing it.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, ho))
	}
	return slog.New(slog.NewTextHandler(out, ho))
}

// Configure installs a logger built from opts.
func Configure(opts Options) { current.Store(New(opts)) }

// parseLevel maps a config level to slog; unknown names fall back to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the current logger.
func L() *slog.Logger { return current.Load() }

// ForJob returns the current logger tagged with a job name and tool, the
// two attributes every per-run line carries.
func ForJob(name, tool string) *slog.Logger {
	return L().With("job", name, "tool", tool)
}

// InitFromEnv configures from EnvLevel and EnvJSON before any config file
// has been read.
func InitFromEnv() {
	json, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON)))
	Configure(Options{Level: os.Getenv(EnvLevel), JSON: json})
}
