package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"elbench/internal/report"
)

// RunInfo identifies a run in the JSON report.
type RunInfo struct {
	ID         string
	Catalog    uint64
	Iterations int
	Trials     int
	Sweep      []report.SweepRow
}

// FormatText writes metrics in human-readable format.
func FormatText(w io.Writer, m *Metrics) {
	if m.Trials == 0 {
		fmt.Fprintln(w, "No trials collected")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "elbench - Run Summary")
	fmt.Fprintln(w, "==============================")
	fmt.Fprintf(w, "Duration:       %v\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Trials:         %s\n", formatNumber(m.Trials))
	fmt.Fprintf(w, "Failures:       %s\n", formatNumber(m.Failures))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Engine:")
	for _, name := range sortedKeys(m.Engines) {
		em := m.Engines[name]
		for _, mode := range sortedKeys(em.Modes) {
			mm := em.Modes[mode]
			fmt.Fprintf(w, "  %-6s %-12s trials=%-5d failed=%-3d avg=%s  p95=%s  %.1f ns/eval\n",
				name, mode, mm.Trials, mm.Failures,
				FormatDuration(mm.PerTrial.Avg),
				FormatDuration(mm.PerTrial.P95),
				mm.NsPerEval())
		}
	}
}

// FormatJSON writes metrics in JSON format.
func FormatJSON(w io.Writer, m *Metrics, info RunInfo) {
	output := struct {
		RunID      string                `json:"runId"`
		Catalog    string                `json:"catalog"`
		Iterations int                   `json:"iterations"`
		Trials     int                   `json:"trials"`
		Duration   string                `json:"duration"`
		Failures   int                   `json:"failures"`
		Engines    map[string]jsonEngine `json:"engines"`
		Sweep      []jsonSweepRow        `json:"sweep,omitempty"`
	}{
		RunID:      info.ID,
		Catalog:    fmt.Sprintf("%016x", info.Catalog),
		Iterations: info.Iterations,
		Trials:     info.Trials,
		Duration:   m.Duration.Round(time.Millisecond).String(),
		Failures:   m.Failures,
		Engines:    make(map[string]jsonEngine),
	}

	for name, em := range m.Engines {
		je := jsonEngine{
			TotalMs:  em.Total.Milliseconds(),
			Trials:   em.Trials,
			Failures: em.Failures,
			Modes:    make(map[string]jsonMode),
		}
		for mode, mm := range em.Modes {
			je.Modes[mode] = jsonMode{
				Trials:    mm.Trials,
				Failures:  mm.Failures,
				TotalMs:   mm.Total.Milliseconds(),
				NsPerEval: mm.NsPerEval(),
				PerTrial:  toJSONDurationMetrics(mm.PerTrial),
			}
		}
		output.Engines[name] = je
	}

	for _, row := range info.Sweep {
		jr := jsonSweepRow{
			Threads: row.Threads,
			WallMs:  row.Wall.Milliseconds(),
			Totals:  make(map[string]int64, len(row.Totals)),
		}
		for _, t := range row.Totals {
			jr.Totals[t.Name] = t.Total.Milliseconds()
		}
		if len(row.Totals) > 1 {
			jr.Ratio = report.FormatRatio(row.Totals[1].Total, row.Totals[0].Total)
		}
		output.Sweep = append(output.Sweep, jr)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonMode struct {
	Trials    int                 `json:"trials"`
	Failures  int                 `json:"failures"`
	TotalMs   int64               `json:"totalMs"`
	NsPerEval float64             `json:"nsPerEval"`
	PerTrial  jsonDurationMetrics `json:"perTrial"`
}

type jsonEngine struct {
	TotalMs  int64               `json:"totalMs"`
	Trials   int                 `json:"trials"`
	Failures int                 `json:"failures"`
	Modes    map[string]jsonMode `json:"modes"`
}

type jsonSweepRow struct {
	Threads int              `json:"threads"`
	WallMs  int64            `json:"wallMs"`
	Totals  map[string]int64 `json:"totalsMs"`
	Ratio   string           `json:"ratio,omitempty"`
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// formatNumber groups the digits of n in threes: 1234567 -> "1,234,567".
func formatNumber(n int) string {
	digits := strconv.Itoa(n)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
