// Package core defines the fundamental interfaces and types for elbench.
package core

import (
	"time"
)

// Handle is an engine-specific precompiled expression. Only the engine
// that produced a Handle can execute it.
type Handle any

// Env is the evaluation context handed to every engine call.
// A single Env is shared by all workers of a run and must not be mutated
// once benchmarking starts.
type Env map[string]any

// Engine is an expression evaluator under comparison.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	// Evaluate parses and evaluates source in one step (interpreted mode).
	Evaluate(source string, env Env) (any, error)
	// Compile prepares source for repeated execution (compiled mode).
	Compile(source string) (Handle, error)
	// Execute evaluates a handle produced by Compile.
	Execute(h Handle, env Env) (any, error)
}

// Event is the outcome of one trial: a single test case run against one
// engine in one mode.
type Event struct {
	Timestamp  time.Time
	Case       string
	Engine     string
	Mode       Mode
	Iterations int
	Samples    []time.Duration // cumulative, one entry per trial
	MemDeltaKB int64
	Err        error
}

// Failed reports whether the trial could not execute.
func (e Event) Failed() bool {
	return e.Err != nil
}

// Total returns the final cumulative elapsed time of the trial.
func (e Event) Total() time.Duration {
	if len(e.Samples) == 0 {
		return 0
	}
	return e.Samples[len(e.Samples)-1]
}

// Reporter receives trial events.
type Reporter interface {
	Report(Event)
}

// NullReporter discards all events.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

// MultiReporter fans each event out to every non-nil reporter in order.
func MultiReporter(reporters ...Reporter) Reporter {
	var rs multiReporter
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return rs
}

type multiReporter []Reporter

func (m multiReporter) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}
