package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"elbench/internal/core"
	"elbench/internal/report"
)

func ok(engine string, mode core.Mode, samples ...time.Duration) core.Event {
	return core.Event{Case: "sum", Engine: engine, Mode: mode, Iterations: 100, Samples: samples}
}

func failed(engine string, mode core.Mode) core.Event {
	return core.Event{Case: "sum", Engine: engine, Mode: mode, Iterations: 100, Err: errors.New("boom")}
}

func TestCollector_CollectsEvents(t *testing.T) {
	c := NewCollector()
	c.Report(ok("expr", core.ModeInterpreted, 10*time.Millisecond))
	c.Report(failed("cel", core.ModeCompiled))
	c.Close()

	m := c.Compute()
	if m.Trials != 2 || m.Failures != 1 {
		t.Fatalf("expected 2 trials / 1 failure, got %d / %d", m.Trials, m.Failures)
	}
}

func TestCollector_ThreadSafetyNoDrops(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	numGoroutines := 50
	eventsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				c.Report(ok("expr", core.ModeCompiled, time.Millisecond))
			}
		}()
	}

	wg.Wait()
	c.Close()

	if got := c.Compute().Trials; got != numGoroutines*eventsPerGoroutine {
		t.Errorf("expected %d events, got %d", numGoroutines*eventsPerGoroutine, got)
	}
}

func TestCollector_Duration(t *testing.T) {
	c := NewCollector()
	time.Sleep(5 * time.Millisecond)
	c.Close()

	d := c.Duration()
	if d < 5*time.Millisecond {
		t.Errorf("expected duration >= 5ms, got %v", d)
	}
	if c.Duration() != d {
		t.Error("duration must be fixed after Close")
	}
}

func TestComputeMetrics_Empty(t *testing.T) {
	m := ComputeMetrics(nil, time.Second)
	if m.Trials != 0 || m.Failures != 0 {
		t.Errorf("expected empty metrics, got %+v", m)
	}
	if m.Engines == nil {
		t.Error("expected Engines map to be initialized")
	}
}

func TestComputeMetrics_PerEngineAndMode(t *testing.T) {
	events := []core.Event{
		ok("expr", core.ModeInterpreted, 10*time.Millisecond, 20*time.Millisecond),
		ok("expr", core.ModeInterpreted, 30*time.Millisecond, 60*time.Millisecond),
		ok("expr", core.ModeCompiled, 2*time.Millisecond, 4*time.Millisecond),
		failed("cel", core.ModeInterpreted),
		ok("cel", core.ModeCompiled, 5*time.Millisecond, 10*time.Millisecond),
	}

	m := ComputeMetrics(events, time.Second)

	if m.Trials != 5 || m.Failures != 1 {
		t.Errorf("expected 5 trials / 1 failure, got %d / %d", m.Trials, m.Failures)
	}

	expr := m.Engines["expr"]
	if expr.Total != 84*time.Millisecond {
		t.Errorf("expected expr total 84ms, got %v", expr.Total)
	}
	interp := expr.Modes["interpreted"]
	if interp.Trials != 2 || interp.Evaluations != 400 {
		t.Errorf("unexpected interpreted metrics %+v", interp)
	}
	// per-trial averages are 10ms and 30ms
	if interp.PerTrial.Min != 10*time.Millisecond || interp.PerTrial.Max != 30*time.Millisecond {
		t.Errorf("unexpected per-trial distribution %+v", interp.PerTrial)
	}
	if interp.PerTrial.Avg != 20*time.Millisecond {
		t.Errorf("expected avg 20ms, got %v", interp.PerTrial.Avg)
	}
	if ns := interp.NsPerEval(); ns != 200000 {
		t.Errorf("expected 200000 ns/eval, got %v", ns)
	}

	cel := m.Engines["cel"]
	if cel.Failures != 1 || cel.Modes["interpreted"].Failures != 1 {
		t.Errorf("expected one cel interpreted failure, got %+v", cel)
	}
	if cel.Total != 10*time.Millisecond {
		t.Errorf("failures must not contribute to totals, got %v", cel.Total)
	}
}

func TestComputeMetrics_DoesNotModifyInput(t *testing.T) {
	events := []core.Event{
		ok("expr", core.ModeInterpreted, 30*time.Millisecond),
		ok("expr", core.ModeInterpreted, 10*time.Millisecond),
	}
	ComputeMetrics(events, time.Second)
	if events[0].Samples[0] != 30*time.Millisecond {
		t.Error("input events were modified")
	}
}

func TestComputePercentile(t *testing.T) {
	durations := []time.Duration{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if p50 := ComputePercentile(durations, 0.50); p50 != 50 {
		t.Errorf("expected p50=50, got %d", p50)
	}
	if p90 := ComputePercentile(durations, 0.90); p90 != 90 {
		t.Errorf("expected p90=90, got %d", p90)
	}
	if ComputePercentile(nil, 0.5) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestFormatText(t *testing.T) {
	m := ComputeMetrics([]core.Event{
		ok("expr", core.ModeInterpreted, 10*time.Millisecond),
		failed("cel", core.ModeInterpreted),
	}, 2*time.Second)

	var buf bytes.Buffer
	FormatText(&buf, m)
	out := buf.String()

	for _, want := range []string{"elbench - Run Summary", "Trials:         2", "Failures:       1", "By Engine:", "expr", "cel"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestFormatText_NoTrials(t *testing.T) {
	var buf bytes.Buffer
	FormatText(&buf, ComputeMetrics(nil, 0))
	if !strings.Contains(buf.String(), "No trials collected") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestFormatJSON(t *testing.T) {
	m := ComputeMetrics([]core.Event{
		ok("expr", core.ModeCompiled, 10*time.Millisecond),
	}, time.Second)

	var buf bytes.Buffer
	FormatJSON(&buf, m, RunInfo{
		ID:         "run-1",
		Catalog:    0xabc,
		Iterations: 100,
		Trials:     1,
		Sweep: []report.SweepRow{{
			Threads: 6,
			Wall:    time.Second,
			Totals: []report.EngineTotal{
				{Name: "expr", Total: 250 * time.Millisecond},
				{Name: "cel", Total: time.Second},
			},
		}},
	})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if decoded["runId"] != "run-1" {
		t.Errorf("unexpected runId %v", decoded["runId"])
	}
	if decoded["catalog"] != "0000000000000abc" {
		t.Errorf("unexpected catalog %v", decoded["catalog"])
	}
	sweep := decoded["sweep"].([]any)
	row := sweep[0].(map[string]any)
	if row["ratio"] != "4.0000" {
		t.Errorf("expected ratio 4.0000, got %v", row["ratio"])
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{1000000, "1,000,000"},
		{-1234567, "-1,234,567"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestCollector_ComputeIsSnapshot(t *testing.T) {
	c := NewCollector()
	c.Report(ok("expr", core.ModeCompiled, time.Millisecond))
	c.Close()

	m := c.Compute()
	m.Engines["expr"].Modes["compiled"].Trials = 99

	if got := c.Compute().Engines["expr"].Modes["compiled"].Trials; got != 1 {
		t.Errorf("mutating a snapshot changed the collector: got %d trials", got)
	}
}

func TestAggregate_BoundedPerTrialWindow(t *testing.T) {
	a := newAggregate()
	total := maxPerTrialSamples + 500
	for i := 0; i < total; i++ {
		a.add(ok("cel", core.ModeInterpreted, time.Duration(i+1)*time.Microsecond))
	}

	w := a.perTrial["cel"]["interpreted"]
	if len(w.values) != maxPerTrialSamples {
		t.Fatalf("expected window capped at %d, got %d", maxPerTrialSamples, len(w.values))
	}

	m := a.snapshot(time.Second)
	mm := m.Engines["cel"].Modes["interpreted"]
	if m.Trials != total || mm.Trials != total {
		t.Errorf("expected counts over all %d events, got %d / %d", total, m.Trials, mm.Trials)
	}
	if mm.Evaluations != int64(total)*100 {
		t.Errorf("expected %d evaluations, got %d", total*100, mm.Evaluations)
	}
	// the oldest 500 values were replaced
	if mm.PerTrial.Min != 501*time.Microsecond {
		t.Errorf("expected oldest values evicted, min = %v", mm.PerTrial.Min)
	}
	if mm.PerTrial.Max != time.Duration(total)*time.Microsecond {
		t.Errorf("expected newest value kept, max = %v", mm.PerTrial.Max)
	}
}
