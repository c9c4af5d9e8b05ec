// Package trial measures one test case on one engine in one mode.
//
// A run warms the engine up with one untimed batch of iterations, hints the
// garbage collector, then times a fixed number of trials. Samples are
// cumulative: sample i is the elapsed time from the start of the first
// trial to the end of trial i.
package trial

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"elbench/internal/catalog"
	"elbench/internal/core"
)

// ErrExecution matches every ExecutionError via errors.Is.
var ErrExecution = errors.New("could not execute")

// ExecutionError reports an engine failure while warming up or measuring a
// single case. It never affects other cases, engines or modes.
type ExecutionError struct {
	Case   string
	Engine string
	Mode   core.Mode
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s (%s) could not execute %q: %v", e.Engine, e.Mode, e.Case, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// MemorySource reports free heap memory in bytes.
type MemorySource interface {
	FreeBytes() int64
}

// RuntimeMemory reads free heap memory from the Go runtime: heap obtained
// from the OS minus heap in use by allocated objects.
type RuntimeMemory struct{}

func (RuntimeMemory) FreeBytes() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapSys) - int64(ms.HeapAlloc)
}

// Target selects what a trial runs.
type Target struct {
	Case   *catalog.TestCase
	Bit    core.Flags
	Engine core.Engine
	Mode   core.Mode
}

// Sample is the outcome of a successful run.
type Sample struct {
	Cumulative []time.Duration
	MemDelta   int64 // free bytes after the trials minus free bytes before
}

// Total returns the final cumulative time.
func (s *Sample) Total() time.Duration {
	if len(s.Cumulative) == 0 {
		return 0
	}
	return s.Cumulative[len(s.Cumulative)-1]
}

// Average returns the mean time per trial.
func (s *Sample) Average() time.Duration {
	if len(s.Cumulative) == 0 {
		return 0
	}
	return s.Total() / time.Duration(len(s.Cumulative))
}

// MemDeltaKB returns the memory delta in kibibytes, truncated toward zero.
func (s *Sample) MemDeltaKB() int64 {
	return s.MemDelta / 1024
}

// Runner executes trials against a shared evaluation env.
// A Runner is safe for concurrent use if its clock and memory source are.
type Runner struct {
	env    core.Env
	clock  core.Clock
	mem    MemorySource
	gcHint func()
}

type Option func(*Runner)

func WithClock(c core.Clock) Option { return func(r *Runner) { r.clock = c } }

func WithMemorySource(m MemorySource) Option { return func(r *Runner) { r.mem = m } }

// WithGCHint replaces the pre-measurement collection hint.
func WithGCHint(hint func()) Option { return func(r *Runner) { r.gcHint = hint } }

func NewRunner(env core.Env, opts ...Option) *Runner {
	r := &Runner{
		env:    env,
		clock:  core.RealClock{},
		mem:    RuntimeMemory{},
		gcHint: func() { go runtime.GC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run warms up and measures t. Engine failures and panics return an
// *ExecutionError; context cancellation between trials returns ctx.Err().
func (r *Runner) Run(ctx context.Context, t Target, iterations, trials int) (*Sample, error) {
	if iterations <= 0 || trials <= 0 {
		return nil, fmt.Errorf("trial: iterations and trials must be > 0, got %d and %d", iterations, trials)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	invoke, err := r.invoker(t)
	if err != nil {
		return nil, r.failure(t, err)
	}

	// warm-up, untimed
	if err := repeat(invoke, iterations); err != nil {
		return nil, r.failure(t, err)
	}

	r.gcHint()

	start := r.clock.Now()
	freeBefore := r.mem.FreeBytes()

	s := &Sample{Cumulative: make([]time.Duration, trials)}
	for i := 0; i < trials; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := repeat(invoke, iterations); err != nil {
			return nil, r.failure(t, err)
		}
		s.Cumulative[i] = r.clock.Now().Sub(start)
	}
	s.MemDelta = r.mem.FreeBytes() - freeBefore

	return s, nil
}

func (r *Runner) invoker(t Target) (func() error, error) {
	switch t.Mode {
	case core.ModeInterpreted:
		source := t.Case.Expression
		return func() error {
			_, err := t.Engine.Evaluate(source, r.env)
			return err
		}, nil
	case core.ModeCompiled:
		h, err := t.Case.Handle(t.Bit)
		if err != nil {
			return nil, err
		}
		return func() error {
			_, err := t.Engine.Execute(h, r.env)
			return err
		}, nil
	default:
		return nil, fmt.Errorf("unknown mode %d", t.Mode)
	}
}

func (r *Runner) failure(t Target, err error) error {
	return &ExecutionError{
		Case:   t.Case.Name,
		Engine: t.Engine.Name(),
		Mode:   t.Mode,
		Err:    err,
	}
}

// repeat calls invoke n times, stopping at the first error or panic.
func repeat(invoke func() error, n int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	for i := 0; i < n; i++ {
		if err := invoke(); err != nil {
			return err
		}
	}
	return nil
}
