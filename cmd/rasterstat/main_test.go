package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rasterstat/internal/config"
)

const grid = `ncols 5
nrows 3
xllcorner 0
yllcorner 0
cellsize 10
NODATA_value -9999
1 2 3 4 5
6 7 8 9 10
-9999 -9999 -9999 -9999 -9999
`

func writeGrid(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func mustConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestQuantileClasses_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	in := writeGrid(t, dir, "in.asc", grid)
	out := filepath.Join(dir, "out.asc")

	code, _, stderr := runCLI(t, "quantiles", "-i", in, "-o", out, "-classes", "4", "-summary",
		"-config", filepath.Join(dir, "none.yml"))
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stderr, `"valid": 10`)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "1 1 2 2 2\n3 3 4 4 4\n-9999 -9999 -9999 -9999 -9999\n"), string(raw))
}

func TestZScores_ToFloatGrid(t *testing.T) {
	dir := t.TempDir()
	in := writeGrid(t, dir, "in.asc", grid)
	code, _, stderr := runCLI(t, "zscores", "-i", in, "-o", filepath.Join(dir, "z.flt"))
	require.Equal(t, exitOK, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "z.hdr"))
}

func TestExitCodes(t *testing.T) {
	dir := t.TempDir()
	in := writeGrid(t, dir, "in.asc", grid)
	empty := writeGrid(t, dir, "empty.asc", "ncols 2\nnrows 1\nNODATA_value -1\n-1 -1\n")

	code, _, _ := runCLI(t, "quantiles", "-i", in, "-o", filepath.Join(dir, "bad.asc"), "-classes", "0")
	assert.Equal(t, exitUsage, code)
	assert.NoFileExists(t, filepath.Join(dir, "bad.asc"))

	code, _, _ = runCLI(t, "quantiles", "-i", filepath.Join(dir, "absent.asc"), "-o", filepath.Join(dir, "bad.asc"), "-classes", "0")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCLI(t, "zscores", "-i", in, "-o", in)
	assert.Equal(t, exitUsage, code)
	raw, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, grid, string(raw))

	code, _, _ = runCLI(t, "zscores", "-i", empty, "-o", filepath.Join(dir, "e.asc"))
	assert.Equal(t, exitEmpty, code)
	raw, err = os.ReadFile(filepath.Join(dir, "e.asc"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "-1 -1\n"))

	code, _, _ = runCLI(t, "zscores", "-i", filepath.Join(dir, "absent.asc"), "-o", filepath.Join(dir, "x.asc"))
	assert.Equal(t, exitFailed, code)

	code, _, _ = runCLI(t, "zscores", "-i", in)
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCLI(t, "slope")
	assert.Equal(t, exitUsage, code)

	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, version)
}

func TestRun_JobFile(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "dem.asc", grid)
	jobs := writeGrid(t, dir, "jobs.yml", `schema_version: v1
jobs:
  - { name: q, tool: quantiles, input: dem.asc, output: q.asc, classes: 2 }
  - { name: z, tool: zscores, input: dem.asc, output: z.asc }
`)
	code, _, stderr := runCLI(t, "run", "-jobs", jobs)
	require.Equal(t, exitOK, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "q.asc"))
	assert.FileExists(t, filepath.Join(dir, "z.asc"))

	code, _, _ = runCLI(t, "run")
	assert.Equal(t, exitUsage, code)
}

func TestDrivers_Listed(t *testing.T) {
	require.NoError(t, registerDrivers(mustConfig(t)))
	code, stdout, _ := runCLI(t, "drivers")
	assert.Equal(t, exitOK, code)
	for _, d := range []string{".asc", ".flt", ".png", "kafka", "mem", "-"} {
		assert.Contains(t, strings.Fields(stdout), d)
	}
}
