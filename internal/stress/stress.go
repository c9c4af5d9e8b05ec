// Package stress repeats the engine comparison across a sweep of worker
// counts.
package stress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"elbench/internal/bench"
	"elbench/internal/catalog"
	"elbench/internal/core"
	"elbench/internal/metrics"
	"elbench/internal/progress"
	"elbench/internal/report"
)

// Record is the outcome of one worker count.
type Record struct {
	Threads int
	Wall    time.Duration
	Totals  []report.EngineTotal // engines in sweep order
}

// Ratio is the second engine's total over the first's, or "n/a".
func (r Record) Ratio() string {
	if len(r.Totals) < 2 {
		return "n/a"
	}
	return report.FormatRatio(r.Totals[1].Total, r.Totals[0].Total)
}

// Row converts the record for table rendering.
func (r Record) Row() report.SweepRow {
	return report.SweepRow{Threads: r.Threads, Wall: r.Wall, Totals: r.Totals}
}

// Driver runs T concurrent catalog passes per engine for every T of a sweep.
type Driver struct {
	Catalog  *catalog.Catalog
	Registry *core.Registry
	Env      core.Env
	// Options is the template for every orchestrator. Its engine bits
	// select the engines under test; each orchestrator runs one of them.
	Options bench.Options

	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Out     io.Writer
	// Progress, if set, prints the start line of each step so it never
	// lands on top of the live status line.
	Progress *progress.Progress
	// ThreadLabel is printed as the thread count of every summary block.
	ThreadLabel int
}

// Sweep runs every worker count in order. An unexpected worker error
// aborts the sweep; records of completed counts are discarded with it.
func (d *Driver) Sweep(ctx context.Context, counts []int) ([]Record, error) {
	clock := d.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	log := d.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	out := d.Out
	if out == nil {
		out = os.Stdout
	}

	var engines []core.Flags
	for _, bit := range d.Registry.Bits() {
		if d.Options.Flags.Has(bit) {
			engines = append(engines, bit)
		}
	}

	records := make([]Record, 0, len(counts))
	for _, threads := range counts {
		if threads <= 0 {
			return nil, fmt.Errorf("stress: worker count must be > 0, got %d", threads)
		}
		d.announce(out, threads)
		log.Info("stress step started", "workers", threads)
		d.Metrics.SetWorkers(threads)

		start := clock.Now()
		rec := Record{Threads: threads}
		for _, bit := range engines {
			total, err := d.runEngine(ctx, bit, threads)
			if err != nil {
				return nil, fmt.Errorf("stress: %d workers on %s: %w", threads, d.Registry.Name(bit), err)
			}
			rec.Totals = append(rec.Totals, report.EngineTotal{Name: d.Registry.Name(bit), Total: total})
		}
		rec.Wall = clock.Now().Sub(start)

		report.WriteTotals(out, d.ThreadLabel, rec.Totals)
		log.Info("stress step done", "workers", threads, "wall", rec.Wall, "ratio", rec.Ratio())
		records = append(records, rec)
	}
	return records, nil
}

func (d *Driver) announce(out io.Writer, threads int) {
	const format = "Running concurrency stress test: %d"
	if d.Progress != nil {
		d.Progress.Printf(format, threads)
		return
	}
	fmt.Fprintf(out, format+"\n", threads)
}

// runEngine runs threads concurrent passes on a fresh orchestrator and
// returns its total once every worker has finished.
func (d *Driver) runEngine(ctx context.Context, bit core.Flags, threads int) (time.Duration, error) {
	opts := d.Options
	opts.Flags = d.Options.Flags.Modes() | bit
	o := bench.New(d.Catalog, d.Registry, d.Env, opts)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		g.Go(func() (err error) {
			defer recoverPanic(&err)
			return o.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return o.Totals().Get(bit)
}

// recoverPanic turns a worker panic into its error result.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("worker panic: %v", r)
	}
}
