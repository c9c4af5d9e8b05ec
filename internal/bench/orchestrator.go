// Package bench runs the whole catalog against every enabled engine and mode.
package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"elbench/internal/catalog"
	"elbench/internal/core"
	"elbench/internal/report"
	"elbench/internal/trial"
)

// modeOrder is the order modes run in within a case.
var modeOrder = []core.Mode{core.ModeInterpreted, core.ModeCompiled}

// Options configures an Orchestrator.
type Options struct {
	Flags      core.Flags
	Iterations int
	Trials     int
	// Silent suppresses per-case output. Totals are still accumulated.
	Silent bool
	Out    io.Writer
	// Reporter receives one event per engine/mode/case.
	Reporter core.Reporter
	Logger   *slog.Logger

	// NewClock is called once per Run so concurrent workers never share a
	// clock. Defaults to core.RealClock.
	NewClock func() core.Clock
	Memory   trial.MemorySource
	GCHint   func()
}

// Orchestrator runs a catalog pass. Run may be called from several
// goroutines at once; they share the catalog, env and totals.
type Orchestrator struct {
	cat      *catalog.Catalog
	reg      *core.Registry
	env      core.Env
	opts     Options
	totals   *Totals
	log      *slog.Logger
	terminal bool // Out is an interactive terminal

	outMu sync.Mutex
}

// caseBuffer holds one case block until it is written to Out. It answers
// report.IsTerminal for Out so failure markers are coloured only there.
type caseBuffer struct {
	bytes.Buffer
	terminal bool
}

func (b *caseBuffer) IsTerminal() bool { return b.terminal }

func New(cat *catalog.Catalog, reg *core.Registry, env core.Env, opts Options) *Orchestrator {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Reporter == nil {
		opts.Reporter = core.NullReporter
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		cat:      cat,
		reg:      reg,
		env:      env,
		opts:     opts,
		totals:   NewTotals(reg),
		log:      opts.Logger,
		terminal: report.IsTerminal(opts.Out),
	}
}

// Totals returns the per-engine totals accumulated so far.
func (o *Orchestrator) Totals() *Totals {
	return o.totals
}

// Flags returns the engines and modes this orchestrator runs.
func (o *Orchestrator) Flags() core.Flags {
	return o.opts.Flags
}

// Run executes one pass over the catalog. Engine failures are printed and
// absorbed; any other error stops the pass and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	runner := trial.NewRunner(o.env, o.runnerOptions()...)
	for _, tc := range o.cat.Cases() {
		if err := o.runCase(ctx, runner, tc); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runnerOptions() []trial.Option {
	var opts []trial.Option
	if o.opts.NewClock != nil {
		opts = append(opts, trial.WithClock(o.opts.NewClock()))
	}
	if o.opts.Memory != nil {
		opts = append(opts, trial.WithMemorySource(o.opts.Memory))
	}
	if o.opts.GCHint != nil {
		opts = append(opts, trial.WithGCHint(o.opts.GCHint))
	}
	return opts
}

func (o *Orchestrator) runCase(ctx context.Context, runner *trial.Runner, tc *catalog.TestCase) error {
	buf := caseBuffer{terminal: o.terminal}
	report.WriteCaseHeader(&buf, tc.Name, tc.Expression, o.opts.Iterations)

	for _, mode := range modeOrder {
		if !o.opts.Flags.Has(mode.Flag()) {
			continue
		}
		compiled := mode == core.ModeCompiled
		report.WriteModeHeader(&buf, compiled)

		for _, bit := range o.reg.Bits() {
			if !o.opts.Flags.Has(bit) || !tc.AppliesTo(bit) {
				continue
			}
			eng, err := o.reg.Engine(bit)
			if err != nil {
				return err
			}
			label := report.EngineLabel(eng.Name(), compiled)

			target := trial.Target{Case: tc, Bit: bit, Engine: eng, Mode: mode}
			sample, err := runner.Run(ctx, target, o.opts.Iterations, o.opts.Trials)
			event := core.Event{
				Timestamp:  time.Now(),
				Case:       tc.Name,
				Engine:     eng.Name(),
				Mode:       mode,
				Iterations: o.opts.Iterations,
			}

			switch {
			case err == nil:
				if err := o.totals.Add(bit, sample.Total()); err != nil {
					return err
				}
				event.Samples = sample.Cumulative
				event.MemDeltaKB = sample.MemDeltaKB()
				report.WriteResult(&buf, label, sample.Cumulative, sample.MemDeltaKB())
			case errors.Is(err, trial.ErrExecution):
				event.Err = err
				report.WriteFailure(&buf, label)
				o.log.Debug("trial failed",
					"case", tc.Name, "engine", eng.Name(), "mode", mode.String(), "error", err)
			default:
				return fmt.Errorf("bench: case %q on %s: %w", tc.Name, eng.Name(), err)
			}
			o.opts.Reporter.Report(event)
		}
	}
	report.WriteSeparator(&buf)

	if o.opts.Silent {
		return nil
	}
	o.outMu.Lock()
	defer o.outMu.Unlock()
	_, err := o.opts.Out.Write(buf.Bytes())
	return err
}
