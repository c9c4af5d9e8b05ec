package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"elbench/internal/bench"
	"elbench/internal/catalog"
	"elbench/internal/collector"
	"elbench/internal/config"
	"elbench/internal/core"
	"elbench/internal/engine"
	"elbench/internal/metrics"
	"elbench/internal/progress"
	"elbench/internal/ratelimit"
	"elbench/internal/report"
	"elbench/internal/stress"
)

const (
	ExitSuccess = 0
	ExitError   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// a second interrupt kills the process
		<-ctx.Done()
		stop()
	}()
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	continuous  bool
	threaded    int
	threadedSet bool // -threaded was given; its value is only a label
	noCompiled  bool
	noInterpret bool
	silent      bool
	output      string
	metricsAddr string
	verbose     bool
	iterations  int
	trials      int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("elbench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to YAML config file (default: built-in catalog)")
	fs.BoolVar(&o.continuous, "continuous", false, "repeat the benchmark until interrupted")
	fs.IntVar(&o.threaded, "threaded", 0, "run the concurrency stress sweep; the value labels the summary thread count")
	fs.BoolVar(&o.noCompiled, "nocompiled", false, "disable compiled mode")
	fs.BoolVar(&o.noInterpret, "nointerpret", false, "disable interpreted mode")
	fs.BoolVar(&o.silent, "silent", false, "suppress per-case output")
	fs.StringVar(&o.output, "output", "text", "summary format: text, json")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&o.verbose, "verbose", false, "enable debug logging")
	fs.IntVar(&o.iterations, "iterations", 0, "iterations per trial (0 = config value)")
	fs.IntVar(&o.trials, "trials", 0, "trials per measurement (0 = config value)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "threaded" {
			o.threadedSet = true
		}
	})

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.output != "text" && o.output != "json" {
		return nil, fmt.Errorf("--output must be 'text' or 'json', got %q", o.output)
	}
	if o.threaded < 0 {
		return nil, fmt.Errorf("--threaded must be >= 0, got %d", o.threaded)
	}
	if o.noCompiled && o.noInterpret {
		return nil, errors.New("--nocompiled and --nointerpret leave nothing to run")
	}
	if o.iterations < 0 || o.trials < 0 {
		return nil, errors.New("--iterations and --trials must be >= 0")
	}
	return &o, nil
}

func (o *options) modes() core.Flags {
	modes := core.AllModes
	if o.noCompiled {
		modes &^= core.Compiled
	}
	if o.noInterpret {
		modes &^= core.Interpreted
	}
	return modes
}

func loadConfig(o *options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.iterations > 0 {
		cfg.Execution.Iterations = o.iterations
	}
	if o.trials > 0 {
		cfg.Execution.Trials = o.trials
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "fatal: %v\n%s", r, debug.Stack())
			code = ExitError
		}
	}()

	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return ExitSuccess
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}

	env := core.Env(cfg.Context)
	reg, err := engine.NewRegistry(cfg.Engines, env)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}
	cat, err := catalog.New(cfg.Tests, reg)
	if err == nil {
		err = cat.Compile(reg)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}
	logger.Debug("catalog compiled",
		"cases", cat.Len(), "engines", cfg.Engines, "fingerprint", fmt.Sprintf("%016x", cat.Fingerprint()))

	// keep stdout pure JSON when a JSON summary is requested
	out := stdout
	if opts.output == "json" {
		out = stderr
	}

	coll := collector.NewCollector()
	reporters := []core.Reporter{coll}
	var m *metrics.Metrics
	if opts.metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector())
		m = metrics.New(promReg)
		reporters = append(reporters, m)
		shutdown := serveMetrics(opts.metricsAddr, promReg, logger)
		defer shutdown()
	}

	// everything printed during the run goes through prog so the status
	// line is cleared first
	prog := progress.NewProgress(coll, opts.silent || !opts.threadedSet)
	prog.SetOutput(out)

	benchOpts := bench.Options{
		Flags:      reg.All() | opts.modes(),
		Iterations: cfg.Execution.Iterations,
		Trials:     cfg.Execution.Trials,
		Silent:     opts.silent,
		Out:        prog,
		Reporter:   core.MultiReporter(reporters...),
		Logger:     logger,
	}

	prog.Start()

	round := func(ctx context.Context) ([]report.SweepRow, error) {
		if opts.threadedSet {
			return runSweep(ctx, opts, cfg, cat, reg, env, benchOpts, m, logger, prog)
		}
		o := bench.New(cat, reg, env, benchOpts)
		if err := o.Run(ctx); err != nil {
			return nil, err
		}
		report.WriteTotals(prog, report.NoThreads, o.Totals().Snapshot(o.Flags()))
		return nil, nil
	}
	limiter := ratelimit.NewRateLimiter(cfg.Execution.RoundInterval)
	sweep, err := runRounds(ctx, opts.continuous, limiter, logger, round)
	prog.Stop()
	coll.Close()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitError
	}

	summary := coll.Compute()
	if opts.output == "json" {
		collector.FormatJSON(stdout, summary, collector.RunInfo{
			ID:         uuid.NewString(),
			Catalog:    cat.Fingerprint(),
			Iterations: cfg.Execution.Iterations,
			Trials:     cfg.Execution.Trials,
			Sweep:      sweep,
		})
	} else {
		collector.FormatText(stdout, summary)
	}
	return ExitSuccess
}

// runRounds runs round once, or round after round until ctx is cancelled
// when continuous. A continuous round is never cut short: an interrupt ends
// the loop once the current round completes. It returns the sweep of the
// last completed stress round.
func runRounds(ctx context.Context, continuous bool, limiter *ratelimit.RateLimiter, logger *slog.Logger,
	round func(context.Context) ([]report.SweepRow, error)) ([]report.SweepRow, error) {
	roundCtx := ctx
	if continuous {
		roundCtx = context.WithoutCancel(ctx)
	}

	var sweep []report.SweepRow
	for n := 1; ; n++ {
		if err := limiter.Wait(ctx); err != nil {
			if continuous && ctx.Err() != nil {
				logger.Info("interrupted", "rounds", n-1)
				return sweep, nil
			}
			return nil, err
		}
		logger.Debug("round started", "round", n)

		rows, err := round(roundCtx)
		if err != nil {
			return nil, err
		}
		if rows != nil {
			sweep = rows
		}
		if !continuous {
			return sweep, nil
		}
	}
}

func runSweep(ctx context.Context, opts *options, cfg *config.Config, cat *catalog.Catalog, reg *core.Registry,
	env core.Env, benchOpts bench.Options, m *metrics.Metrics, logger *slog.Logger, prog *progress.Progress) ([]report.SweepRow, error) {
	d := &stress.Driver{
		Catalog:     cat,
		Registry:    reg,
		Env:         env,
		Options:     benchOpts,
		Logger:      logger,
		Metrics:     m,
		Out:         prog,
		Progress:    prog,
		ThreadLabel: opts.threaded,
	}
	records, err := d.Sweep(ctx, cfg.Sweep.Counts())
	if err != nil {
		return nil, err
	}
	rows := make([]report.SweepRow, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	fmt.Fprintln(prog)
	report.WriteSweepTable(prog, rows)
	return rows, nil
}

// serveMetrics serves /metrics in the background and returns its shutdown.
func serveMetrics(addr string, g prometheus.Gatherer, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
