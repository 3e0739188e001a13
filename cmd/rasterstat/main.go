package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"rasterstat/internal/config"
	"rasterstat/internal/engine"
	"rasterstat/internal/logging"
	"rasterstat/internal/pipeline"
	"rasterstat/internal/spec"
	"rasterstat/internal/transform"
	"rasterstat/internal/transport"
	"rasterstat/raster"
	_ "rasterstat/raster/ascii"
	_ "rasterstat/raster/flt"
	"rasterstat/raster/kafka"
	_ "rasterstat/raster/memory"
	"rasterstat/raster/picture"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	exitEmpty  = 3
)

func main() {
	logging.InitFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case spec.ToolQuantiles, spec.ToolZScores:
		return handleTool(ctx, cmd, rest, stderr)
	case "run":
		return handleRun(ctx, rest, stderr)
	case "health":
		return handleHealth(ctx, rest, stdout, stderr)
	case "drivers":
		for _, d := range raster.Drivers() {
			fmt.Fprintln(stdout, d)
		}
		return exitOK
	case "version":
		fmt.Fprintf(stdout, "rasterstat version %s\n", version)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `rasterstat - whole-raster quantile and z-score transforms

Usage: rasterstat <command> [options]

Commands:
  quantiles  Replace each cell with its quantile (or quantile class)
  zscores    Replace each cell with its z-score
  run        Run a batch of jobs from a YAML file
  health     Probe a running rasterstat health service
  drivers    List registered raster drivers
  version    Show rasterstat version

Tool Flags:
  -i <path>          Input raster (.asc, .flt, image, mem://name, - for stdin)
  -o <path>          Output raster (same, plus kafka://broker[,broker]/topic)
  -classes <n>       quantiles only: emit class indices 1..n
  -method <m>        quantiles only: exact | histogram | auto
  -config <file>     Process configuration (default: rasterstat.yml if present)
  -summary           Print the run summary as JSON on stderr

Exit codes: 0 done, 1 failure, 2 invalid parameter or usage, 3 no valid cells.
`)
}

/*──────── shared setup ───────*/

func setup(ctx context.Context, cfgPath string, stderr io.Writer) (*engine.Engine, config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfg, err
	}
	cfg.Log.Output = stderr
	logging.Configure(cfg.Log)

	if err := registerDrivers(cfg); err != nil {
		return nil, cfg, err
	}
	e, err := engine.Bootstrap(ctx, cfg)
	return e, cfg, err
}

// registerDrivers binds the drivers that need process config. File drivers
// register themselves on import.
func registerDrivers(cfg config.Config) error {
	raster.Register("kafka", kafka.Driver{Cfg: kafka.Config{
		Version:      cfg.Kafka.Version,
		ClientID:     cfg.Kafka.ClientID,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Timeout:      cfg.Kafka.Timeout,
		TLSEn:        cfg.Kafka.TLSEn,
		SASLUser:     cfg.Kafka.SASLUser,
		SASLPass:     cfg.Kafka.SASLPass,
	}})
	d, err := picture.New(cfg.Image.Low, cfg.Image.High)
	if err != nil {
		return err
	}
	picture.Register(d)
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipeline.ErrInvalidParameter):
		return exitUsage
	case transform.IsEmpty(err):
		return exitEmpty
	default:
		return exitFailed
	}
}

func report(stderr io.Writer, err error) int {
	code := exitCode(err)
	if err != nil && code != exitEmpty {
		fmt.Fprintf(stderr, "rasterstat: %v\n", err)
	}
	return code
}

/*──────── commands ───────*/

func handleTool(ctx context.Context, tool string, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet(tool, flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("i", "", "Input raster path (required)")
	out := fs.String("o", "", "Output raster path (required)")
	cfgPath := fs.String("config", "rasterstat.yml", "Configuration file")
	summary := fs.Bool("summary", false, "Print the run summary as JSON on stderr")
	var (
		classes *int
		method  *string
	)
	if tool == spec.ToolQuantiles {
		classes = fs.Int("classes", 0, "Number of quantile classes")
		method = fs.String("method", "", "Ranking method: exact | histogram | auto")
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *in == "" || *out == "" || fs.NArg() > 0 {
		fmt.Fprintln(stderr, "rasterstat: -i and -o are required")
		fs.Usage()
		return exitUsage
	}

	job := spec.Job{Name: tool, Tool: tool, Input: *in, Output: *out}
	if method != nil {
		job.Method = *method
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "classes" {
			job.Classes = classes
		}
	})

	e, _, err := setup(ctx, *cfgPath, stderr)
	if err != nil {
		return report(stderr, err)
	}
	defer e.Close()

	res, err := e.RunJob(ctx, job)
	if *summary && res != nil {
		writeSummary(stderr, []*transform.Result{res})
	}
	return report(stderr, err)
}

func handleRun(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jobsPath := fs.String("jobs", "", "Job file (required)")
	cfgPath := fs.String("config", "rasterstat.yml", "Configuration file")
	summary := fs.Bool("summary", false, "Print run summaries as JSON on stderr")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *jobsPath == "" {
		fmt.Fprintln(stderr, "rasterstat: -jobs is required")
		return exitUsage
	}
	jobs, err := config.LoadJobSpec(*jobsPath)
	if err != nil {
		fmt.Fprintf(stderr, "rasterstat: %v\n", err)
		return exitUsage
	}

	e, _, err := setup(ctx, *cfgPath, stderr)
	if err != nil {
		return report(stderr, err)
	}
	defer e.Close()

	res, err := e.Run(ctx, jobs.Jobs)
	if *summary {
		writeSummary(stderr, res)
	}
	return report(stderr, err)
}

func handleHealth(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "localhost:7070", "Health service address")
	timeout := fs.Duration("timeout", 3*time.Second, "Probe timeout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	st, err := transport.Probe(ctx, *addr)
	if err != nil {
		fmt.Fprintf(stderr, "rasterstat: %v\n", err)
		return exitFailed
	}
	fmt.Fprintln(stdout, st)
	if st != healthpb.HealthCheckResponse_SERVING {
		return exitFailed
	}
	return exitOK
}

func writeSummary(w io.Writer, res []*transform.Result) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, r := range res {
		_ = enc.Encode(r)
	}
}
