// Package spec holds the YAML schema of rasterstat job files.
package spec

// Tool names accepted in Job.Tool.
const (
	ToolQuantiles = "quantiles"
	ToolZScores   = "zscores"
)

// Job is one transform invocation.
type Job struct {
	Name   string `yaml:"name"`
	Tool   string `yaml:"tool"` // quantiles | zscores
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// Quantile-only knobs; zero values fall back to the process config.
	Classes *int   `yaml:"classes"`
	Method  string `yaml:"method"`
	Bins    int    `yaml:"bins"`
}

// File is a job file.
type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Jobs          []Job  `yaml:"jobs"`
}
