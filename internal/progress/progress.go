// Package progress prints a live status line while a stress sweep runs.
//
// Progress is also the writer for everything printed during the sweep:
// messages and report blocks clear the status line first, so the two never
// overwrite each other on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"elbench/internal/collector"
	"elbench/internal/report"
)

const clearLine = "\033[K"

type Progress struct {
	startTime time.Time
	collector *collector.Collector
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
	quiet     bool
	active    bool // status line running; guarded by mu
	output    io.Writer
	mu        sync.Mutex
}

// NewProgress reports the collector's totals. quiet disables the status
// line only; messages written through Progress are always printed.
func NewProgress(c *collector.Collector, quiet bool) *Progress {
	return &Progress{
		collector: c,
		quiet:     quiet,
		output:    os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// Start runs the status line, unless quiet or the output is not a terminal.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet || p.active || !report.IsTerminal(p.output) {
		return
	}
	p.active = true
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(1 * time.Second)
	go p.run(p.ticker, p.stopCh)
}

func (p *Progress) run(ticker *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	m := p.collector.Compute()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	fmt.Fprint(p.output, statusLine(m, time.Since(p.startTime)))
}

// statusLine renders elapsed time, trial counts and evaluation throughput.
func statusLine(m *collector.Metrics, elapsed time.Duration) string {
	elapsed = elapsed.Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60

	var evals int64
	for _, em := range m.Engines {
		for _, mm := range em.Modes {
			evals += mm.Evaluations
		}
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(evals) / elapsed.Seconds()
	}
	return fmt.Sprintf(clearLine+"[%02d:%02d] Trials: %d | Failures: %d | Evals/s: %.0f\r",
		mins, secs, m.Trials, m.Failures, rate)
}

func (p *Progress) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.ticker.Stop()
	close(p.stopCh)
	fmt.Fprint(p.output, clearLine)
}

// Write prints b below the status line. Safe for concurrent use.
func (p *Progress) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearStatus()
	return p.output.Write(b)
}

// IsTerminal reports whether the output is a terminal.
func (p *Progress) IsTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return report.IsTerminal(p.output)
}

// Printf prints one line below the status line.
func (p *Progress) Printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearStatus()
	fmt.Fprintf(p.output, format+"\n", args...)
}

// clearStatus erases the status line; mu must be held.
func (p *Progress) clearStatus() {
	if p.active {
		fmt.Fprint(p.output, clearLine)
	}
}
