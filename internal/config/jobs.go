package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rasterstat/internal/pipeline"
	"rasterstat/internal/spec"
	"rasterstat/raster"
)

const SupportedSchema = "v1"

// LoadJobSpec parses a job YAML, validates schema_version and each job, and
// resolves relative raster paths against the job file's directory.
func LoadJobSpec(path string) (spec.File, error) {
	var f spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("jobs %s: %w", path, err)
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = SupportedSchema
	}
	if f.SchemaVersion != SupportedSchema {
		return f, fmt.Errorf("jobs schema_version %q not supported (want %q)", f.SchemaVersion, SupportedSchema)
	}
	if len(f.Jobs) == 0 {
		return f, fmt.Errorf("jobs %s: no jobs defined", path)
	}
	dir := filepath.Dir(path)
	for i := range f.Jobs {
		j := &f.Jobs[i]
		if j.Name == "" {
			j.Name = fmt.Sprintf("job-%d", i+1)
		}
		switch j.Tool {
		case spec.ToolQuantiles, spec.ToolZScores:
		default:
			return f, fmt.Errorf("job %s: unknown tool %q", j.Name, j.Tool)
		}
		if j.Input == "" || j.Output == "" {
			return f, fmt.Errorf("job %s: input and output are required", j.Name)
		}
		j.Input = resolve(dir, j.Input)
		j.Output = resolve(dir, j.Output)
		if raster.Overlaps(j.Input, j.Output) {
			return f, pipeline.InvalidParameter("job %s: output %s would overwrite input %s", j.Name, j.Output, j.Input)
		}
	}
	return f, nil
}

func resolve(dir, p string) string {
	if p == "-" || strings.Contains(p, "://") || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
