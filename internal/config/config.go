// Package config loads process configuration (koanf: YAML file, then
// RASTERSTAT__ environment overrides) and rasterstat job files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"rasterstat/internal/logging"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/stats"
)

// EnvPrefix selects override variables; "__" separates nested keys, e.g.
// RASTERSTAT__QUANTILES__METHOD=histogram.
const EnvPrefix = "RASTERSTAT__"

type QuantilesCfg struct {
	Method        string `koanf:"method"` // exact|histogram|auto
	Bins          int    `koanf:"bins"`
	MaxExactCells int64  `koanf:"max_exact_cells"`
}

type KafkaCfg struct {
	Version      string        `koanf:"version"`
	ClientID     string        `koanf:"client_id"`
	RequiredAcks int16         `koanf:"required_acks"` // 0,1,-1
	Timeout      time.Duration `koanf:"timeout"`
	TLSEn        bool          `koanf:"tls_enabled"`
	SASLUser     string        `koanf:"sasl_user"`
	SASLPass     string        `koanf:"sasl_pass"`
}

type ImageCfg struct {
	Low  string `koanf:"low"`  // colour for the smallest value
	High string `koanf:"high"` // colour for the largest value
}

type Config struct {
	SchemaVersion string          `koanf:"schema_version"`
	Log           logging.Options `koanf:"log"`

	Workers      int `koanf:"workers"`
	BlockRows    int `koanf:"block_rows"`
	WindowBlocks int `koanf:"window_blocks"`

	MetricsPort int `koanf:"metrics_port"`
	GRPCPort    int `koanf:"grpc_port"`

	Quantiles QuantilesCfg `koanf:"quantiles"`
	Kafka     KafkaCfg     `koanf:"kafka"`
	Image     ImageCfg     `koanf:"image"`
}

// Stage maps the parallelism keys onto pipeline options.
func (c Config) Stage() pipeline.Options {
	return pipeline.Options{Workers: c.Workers, BlockRows: c.BlockRows, WindowBlocks: c.WindowBlocks}
}

// Load merges YAML (if present) with RASTERSTAT__ env vars and applies
// defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg, k)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

// applyDefaults fills zero values. Keys where zero is a meaningful setting
// are defaulted only when absent from k.
func applyDefaults(c *Config, k *koanf.Koanf) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.BlockRows == 0 {
		c.BlockRows = 64
	}
	if c.Quantiles.Method == "" {
		c.Quantiles.Method = string(stats.MethodExact)
	}
	if c.Quantiles.Bins == 0 {
		c.Quantiles.Bins = 4096
	}
	if c.Quantiles.MaxExactCells == 0 {
		c.Quantiles.MaxExactCells = 50_000_000
	}
	if c.Kafka.Version == "" {
		c.Kafka.Version = "2.8.0"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "rasterstat"
	}
	if !k.Exists("kafka.required_acks") {
		c.Kafka.RequiredAcks = -1
	}
	if c.Kafka.Timeout == 0 {
		c.Kafka.Timeout = 10 * time.Second
	}
	if c.Image.Low == "" {
		c.Image.Low = "#440154"
	}
	if c.Image.High == "" {
		c.Image.High = "#fde725"
	}
}

func (c Config) validate() error {
	if c.Workers < 0 || c.BlockRows < 0 || c.WindowBlocks < 0 {
		return fmt.Errorf("config: workers, block_rows and window_blocks must be >= 0")
	}
	if _, err := stats.ParseMethod(c.Quantiles.Method); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Quantiles.Bins < 1 {
		return fmt.Errorf("config: quantiles.bins must be >= 1")
	}
	return nil
}
