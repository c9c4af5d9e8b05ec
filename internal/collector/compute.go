package collector

import (
	"sort"
	"time"

	"elbench/internal/core"
)

// Metrics contains aggregated run results.
type Metrics struct {
	Trials   int                       `json:"trials"`
	Failures int                       `json:"failures"`
	Duration time.Duration             `json:"duration"`
	Engines  map[string]*EngineMetrics `json:"engines"`
}

// EngineMetrics contains per-engine statistics.
type EngineMetrics struct {
	Trials   int                     `json:"trials"`
	Failures int                     `json:"failures"`
	Total    time.Duration           `json:"total"`
	Modes    map[string]*ModeMetrics `json:"modes"`
}

// ModeMetrics contains statistics of one engine in one mode.
// PerTrial is the distribution of average trial times across successful runs.
type ModeMetrics struct {
	Trials      int             `json:"trials"`
	Failures    int             `json:"failures"`
	Total       time.Duration   `json:"total"`
	Evaluations int64           `json:"evaluations"`
	PerTrial    DurationMetrics `json:"perTrial"`
}

// NsPerEval returns the mean measured time of a single evaluation.
func (m *ModeMetrics) NsPerEval() float64 {
	if m.Evaluations == 0 {
		return 0
	}
	return float64(m.Total.Nanoseconds()) / float64(m.Evaluations)
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// maxPerTrialSamples bounds the per-trial averages kept per engine and mode
// for the distribution figures. Once full, the oldest value is replaced.
const maxPerTrialSamples = 10000

// ComputeMetrics computes metrics from events. Pure function, no side effects.
func ComputeMetrics(events []core.Event, duration time.Duration) *Metrics {
	a := newAggregate()
	for _, e := range events {
		a.add(e)
	}
	return a.snapshot(duration)
}

// aggregate keeps running sums of every event and a bounded window of
// per-trial averages, so its size does not grow with the number of events.
type aggregate struct {
	trials   int
	failures int
	engines  map[string]*EngineMetrics
	perTrial map[string]map[string]*window
}

func newAggregate() *aggregate {
	return &aggregate{
		engines:  make(map[string]*EngineMetrics),
		perTrial: make(map[string]map[string]*window),
	}
}

func (a *aggregate) add(e core.Event) {
	a.trials++

	em, ok := a.engines[e.Engine]
	if !ok {
		em = &EngineMetrics{Modes: make(map[string]*ModeMetrics)}
		a.engines[e.Engine] = em
		a.perTrial[e.Engine] = make(map[string]*window)
	}
	mode := e.Mode.String()
	mm, ok := em.Modes[mode]
	if !ok {
		mm = &ModeMetrics{}
		em.Modes[mode] = mm
		a.perTrial[e.Engine][mode] = &window{}
	}

	em.Trials++
	mm.Trials++
	if e.Failed() {
		a.failures++
		em.Failures++
		mm.Failures++
		return
	}

	total := e.Total()
	em.Total += total
	mm.Total += total
	mm.Evaluations += int64(e.Iterations) * int64(len(e.Samples))
	if n := len(e.Samples); n > 0 {
		a.perTrial[e.Engine][mode].add(total / time.Duration(n))
	}
}

// snapshot returns a copy of the aggregate that later adds do not affect.
func (a *aggregate) snapshot(duration time.Duration) *Metrics {
	m := &Metrics{
		Trials:   a.trials,
		Failures: a.failures,
		Duration: duration,
		Engines:  make(map[string]*EngineMetrics, len(a.engines)),
	}
	for name, em := range a.engines {
		ec := *em
		ec.Modes = make(map[string]*ModeMetrics, len(em.Modes))
		for mode, mm := range em.Modes {
			mc := *mm
			mc.PerTrial = ComputeDurationMetrics(a.perTrial[name][mode].values)
			ec.Modes[mode] = &mc
		}
		m.Engines[name] = &ec
	}
	return m
}

type window struct {
	values []time.Duration
	next   int
}

func (w *window) add(d time.Duration) {
	if len(w.values) < maxPerTrialSamples {
		w.values = append(w.values, d)
		return
	}
	w.values[w.next] = d
	w.next = (w.next + 1) % maxPerTrialSamples
}

// ComputeDurationMetrics computes min/max/avg and percentiles. The input is
// not modified.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}

// ComputePercentile calculates the percentile value from a sorted slice of durations.
// The percentile p should be between 0 and 1 (e.g., 0.95 for p95).
// The slice must be sorted in ascending order.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	// nearest rank
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
