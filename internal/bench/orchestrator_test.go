package bench

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elbench/internal/catalog"
	"elbench/internal/collector"
	"elbench/internal/config"
	"elbench/internal/core"
	"elbench/internal/engine"
	"elbench/internal/report"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixedMemory struct{}

func (fixedMemory) FreeBytes() int64 { return 0 }

func steppingClocks(step time.Duration) func() core.Clock {
	return func() core.Clock { return core.NewSteppingClock(epoch, step) }
}

func newStubs(t *testing.T, stubs ...*core.StubEngine) *core.Registry {
	t.Helper()
	engines := make([]core.Engine, len(stubs))
	for i, s := range stubs {
		engines[i] = s
	}
	reg, err := core.NewRegistry(engines...)
	require.NoError(t, err)
	return reg
}

func newCatalog(t *testing.T, reg *core.Registry, tests ...config.TestConfig) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(tests, reg)
	require.NoError(t, err)
	require.NoError(t, cat.Compile(reg))
	return cat
}

func testOptions(flags core.Flags, out *core.MockWriter) Options {
	return Options{
		Flags:      flags,
		Iterations: 10,
		Trials:     3,
		Out:        out,
		NewClock:   steppingClocks(time.Millisecond),
		Memory:     fixedMemory{},
		GCHint:     func() {},
	}
}

func TestRun_SumEndToEnd(t *testing.T) {
	env := core.Env(config.DefaultContext())
	reg, err := engine.NewRegistry([]string{engine.ExprName, engine.CELName}, env)
	require.NoError(t, err)
	cat := newCatalog(t, reg, config.TestConfig{Name: "sum", Expression: "2+2"})

	out := &core.MockWriter{}
	opts := testOptions(reg.All()|core.AllModes, out)
	opts.Iterations = 100
	o := New(cat, reg, env, opts)

	require.NoError(t, o.Run(context.Background()))

	want := strings.Join([]string{
		"Test Name            : sum",
		"Expression           : 2+2",
		"Iterations           : 100",
		"Interpreted Results  :",
		"(EXPR)               : 1.00ms avg.  (mem delta: 0kb) [1,2,3]",
		"(CEL)                : 1.00ms avg.  (mem delta: 0kb) [1,2,3]",
		"Compiled Results     :",
		"(EXPR Compiled)      : 1.00ms avg.  (mem delta: 0kb) [1,2,3]",
		"(CEL Compiled)       : 1.00ms avg.  (mem delta: 0kb) [1,2,3]",
		report.Separator,
		"",
	}, "\n")
	assert.Equal(t, want, out.String())

	totals := o.Totals().Snapshot(reg.All())
	require.Len(t, totals, 2)
	assert.Equal(t, report.EngineTotal{Name: "expr", Total: 6 * time.Millisecond}, totals[0])
	assert.Equal(t, report.EngineTotal{Name: "cel", Total: 6 * time.Millisecond}, totals[1])
}

func TestRun_SkipsDisabledEnginesAndModes(t *testing.T) {
	a := &core.StubEngine{EngineName: "a"}
	b := &core.StubEngine{EngineName: "b"}
	reg := newStubs(t, a, b)
	cat := newCatalog(t, reg, config.TestConfig{Name: "sum", Expression: "2+2"})

	out := &core.MockWriter{}
	o := New(cat, reg, nil, testOptions(core.EngineA|core.Interpreted, out))
	require.NoError(t, o.Run(context.Background()))

	// one warm-up batch plus three measured batches of ten
	assert.Equal(t, int64(40), a.Evaluations())
	assert.Zero(t, a.Executions())
	assert.Zero(t, b.Calls())

	assert.NotContains(t, out.String(), "Compiled Results")
	assert.NotContains(t, out.String(), "(B)")
}

func TestRun_SkipsInapplicableCases(t *testing.T) {
	a := &core.StubEngine{EngineName: "a"}
	b := &core.StubEngine{EngineName: "b"}
	reg := newStubs(t, a, b)
	cat := newCatalog(t, reg, config.TestConfig{Name: "only b", Expression: "x", Engines: []string{"b"}})

	o := New(cat, reg, nil, testOptions(reg.All()|core.AllModes, &core.MockWriter{}))
	require.NoError(t, o.Run(context.Background()))

	assert.Zero(t, a.Calls())
	assert.Zero(t, a.Compiles())
	assert.Equal(t, int64(40), b.Evaluations())
	assert.Equal(t, int64(40), b.Executions())

	total, err := o.Totals().Get(core.EngineA)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRun_FailureIsolation(t *testing.T) {
	a := &core.StubEngine{EngineName: "a", Fail: true}
	b := &core.StubEngine{EngineName: "b"}
	reg := newStubs(t, a, b)
	cat := newCatalog(t, reg,
		config.TestConfig{Name: "first", Expression: "1"},
		config.TestConfig{Name: "second", Expression: "2"},
	)

	out := &core.MockWriter{}
	c := collector.NewCollector()
	opts := testOptions(reg.All()|core.AllModes, out)
	opts.Reporter = c
	o := New(cat, reg, nil, opts)

	require.NoError(t, o.Run(context.Background()))
	c.Close()

	text := out.String()
	assert.Equal(t, 4, strings.Count(text, report.CouldNotExecute))
	assert.Equal(t, 4, strings.Count(text, "ms avg."))
	assert.Equal(t, 2, strings.Count(text, report.Separator))
	assert.Contains(t, text, "Test Name            : second")

	ta, _ := o.Totals().Get(core.EngineA)
	tb, _ := o.Totals().Get(core.EngineB)
	assert.Zero(t, ta)
	assert.Equal(t, 4*3*time.Millisecond, tb)

	m := c.Compute()
	assert.Equal(t, 8, m.Trials)
	assert.Equal(t, 4, m.Failures)
	assert.Equal(t, 4, m.Engines["a"].Failures)
	assert.Zero(t, m.Engines["b"].Failures)
}

func TestRun_CompileFailureFailsCompiledModeOnly(t *testing.T) {
	env := core.Env(config.DefaultContext())
	reg, err := engine.NewRegistry([]string{engine.ExprName}, env)
	require.NoError(t, err)
	cat := newCatalog(t, reg, config.TestConfig{Name: "broken", Expression: "1 +"})

	out := &core.MockWriter{}
	o := New(cat, reg, env, testOptions(reg.All()|core.AllModes, out))
	require.NoError(t, o.Run(context.Background()))

	assert.Contains(t, out.String(), "(EXPR)               : ")
	assert.Contains(t, out.String(), "(EXPR Compiled)      : ")
	assert.Equal(t, 2, strings.Count(out.String(), report.CouldNotExecute))
}

func TestRun_SilentStillAccumulates(t *testing.T) {
	a := &core.StubEngine{EngineName: "a"}
	reg := newStubs(t, a)
	cat := newCatalog(t, reg, config.TestConfig{Name: "sum", Expression: "2+2"})

	out := &core.MockWriter{}
	opts := testOptions(reg.All()|core.AllModes, out)
	opts.Silent = true
	o := New(cat, reg, nil, opts)

	require.NoError(t, o.Run(context.Background()))

	assert.Empty(t, out.String())
	total, err := o.Totals().Get(core.EngineA)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Millisecond, total)
}

func TestRun_ConcurrentWorkers(t *testing.T) {
	const workers = 4
	a := &core.StubEngine{EngineName: "a"}
	reg := newStubs(t, a)
	cat := newCatalog(t, reg,
		config.TestConfig{Name: "one", Expression: "1"},
		config.TestConfig{Name: "two", Expression: "2"},
	)

	out := &core.MockWriter{}
	o := New(cat, reg, nil, testOptions(reg.All()|core.AllModes, out))

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- o.Run(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total, _ := o.Totals().Get(core.EngineA)
	// workers x cases x modes x 3ms
	assert.Equal(t, workers*2*2*3*time.Millisecond, total)
	assert.Equal(t, workers*2, strings.Count(out.String(), report.Separator))

	// blocks never interleave: every header is followed by its own expression
	lines := strings.Split(out.String(), "\n")
	for i, line := range lines {
		if line == "Test Name            : one" {
			assert.Equal(t, "Expression           : 1", lines[i+1])
		}
		if line == "Test Name            : two" {
			assert.Equal(t, "Expression           : 2", lines[i+1])
		}
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	a := &core.StubEngine{EngineName: "a"}
	reg := newStubs(t, a)
	cat := newCatalog(t, reg, config.TestConfig{Name: "sum", Expression: "2+2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := &core.MockWriter{}
	o := New(cat, reg, nil, testOptions(reg.All()|core.AllModes, out))
	err := o.Run(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, a.Calls())
	assert.Empty(t, out.String())
}

func TestTotals(t *testing.T) {
	reg := newStubs(t, &core.StubEngine{EngineName: "a"}, &core.StubEngine{EngineName: "b"})
	totals := NewTotals(reg)

	require.NoError(t, totals.Add(core.EngineA, time.Second))
	require.NoError(t, totals.Add(core.EngineA, time.Second))
	require.NoError(t, totals.Add(core.EngineB, 3*time.Second))

	err := totals.Add(core.EngineBit(5), time.Second)
	assert.ErrorIs(t, err, core.ErrUnknownEngine)
	_, err = totals.Get(core.EngineBit(5))
	assert.ErrorIs(t, err, core.ErrUnknownEngine)

	assert.Equal(t, []report.EngineTotal{
		{Name: "a", Total: 2 * time.Second},
		{Name: "b", Total: 3 * time.Second},
	}, totals.Snapshot(core.EngineA|core.EngineB|core.Compiled))
	assert.Equal(t, []report.EngineTotal{{Name: "b", Total: 3 * time.Second}}, totals.Snapshot(core.EngineB))
}

type terminalWriter struct {
	core.MockWriter
}

func (*terminalWriter) IsTerminal() bool { return true }

func TestRun_FailureColorFollowsOut(t *testing.T) {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		t.Skip("NO_COLOR is set")
	}
	t.Setenv("TERM", "xterm")

	a := &core.StubEngine{EngineName: "a", Fail: true}
	reg := newStubs(t, a)
	cat := newCatalog(t, reg, config.TestConfig{Name: "sum", Expression: "2+2"})

	plain := &core.MockWriter{}
	require.NoError(t, New(cat, reg, nil, testOptions(reg.All()|core.Interpreted, plain)).Run(context.Background()))
	assert.Contains(t, plain.String(), report.CouldNotExecute)
	assert.NotContains(t, plain.String(), "\x1b[")

	term := &terminalWriter{}
	opts := testOptions(reg.All()|core.Interpreted, nil)
	opts.Out = term
	require.NoError(t, New(cat, reg, nil, opts).Run(context.Background()))
	assert.Contains(t, term.String(), "\x1b[31m"+report.CouldNotExecute)
}
