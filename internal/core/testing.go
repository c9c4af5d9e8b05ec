package core

import (
	"errors"
	"sync"
	"sync/atomic"
)

// MockWriter is a thread-safe io.Writer for testing.
type MockWriter struct {
	mu   sync.Mutex
	data []byte
}

func (w *MockWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *MockWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.data)
}

// ErrStubFailure is returned by a StubEngine configured to fail.
var ErrStubFailure = errors.New("stub engine failure")

// StubEngine is a counting Engine for tests. It returns Result from every
// call, or ErrStubFailure when Fail is set. Hook, if set, runs before each
// Evaluate and Execute call.
type StubEngine struct {
	EngineName string
	Result     any
	Fail       bool
	Hook       func()

	evaluations atomic.Int64
	compiles    atomic.Int64
	executions  atomic.Int64
}

type stubHandle struct {
	source string
}

func (s *StubEngine) Name() string { return s.EngineName }

func (s *StubEngine) Evaluate(source string, env Env) (any, error) {
	s.evaluations.Add(1)
	if s.Hook != nil {
		s.Hook()
	}
	if s.Fail {
		return nil, ErrStubFailure
	}
	return s.Result, nil
}

func (s *StubEngine) Compile(source string) (Handle, error) {
	s.compiles.Add(1)
	return stubHandle{source: source}, nil
}

func (s *StubEngine) Execute(h Handle, env Env) (any, error) {
	s.executions.Add(1)
	if _, ok := h.(stubHandle); !ok {
		return nil, errors.New("stub engine: foreign handle")
	}
	if s.Hook != nil {
		s.Hook()
	}
	if s.Fail {
		return nil, ErrStubFailure
	}
	return s.Result, nil
}

// Evaluations returns the number of Evaluate calls.
func (s *StubEngine) Evaluations() int64 { return s.evaluations.Load() }

// Compiles returns the number of Compile calls.
func (s *StubEngine) Compiles() int64 { return s.compiles.Load() }

// Executions returns the number of Execute calls.
func (s *StubEngine) Executions() int64 { return s.executions.Load() }

// Calls returns the number of Evaluate and Execute calls combined.
func (s *StubEngine) Calls() int64 { return s.Evaluations() + s.Executions() }
