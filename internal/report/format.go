// Package report renders benchmark results as text.
// Every function is pure formatting: nothing here reads or mutates totals.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// Separator ends the output block of each test case.
const Separator = "------------------------------------------------"

// CouldNotExecute marks an engine/mode combination that failed.
const CouldNotExecute = "<<COULD NOT EXECUTE>>"

const labelWidth = 21

// failColor ignores the stdout-based global switch; colour is decided per
// destination writer by colorEnabled.
var failColor = func() *color.Color {
	c := color.New(color.FgRed)
	c.EnableColor()
	return c
}()

// IsTerminal reports whether w writes to an interactive terminal. Writers
// that buffer or wrap a stream answer for it by implementing IsTerminal.
func IsTerminal(w io.Writer) bool {
	switch v := w.(type) {
	case interface{ IsTerminal() bool }:
		return v.IsTerminal()
	case *os.File:
		fd := v.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return false
}

func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok || os.Getenv("TERM") == "dumb" {
		return false
	}
	return IsTerminal(w)
}

// EngineTotal is one engine's accumulated runtime.
type EngineTotal struct {
	Name  string
	Total time.Duration
}

// SweepRow is one worker count of a stress sweep.
type SweepRow struct {
	Threads int
	Wall    time.Duration
	Totals  []EngineTotal
}

// FormatSamples renders cumulative samples in milliseconds as "[a,b,c]".
func FormatSamples(samples []time.Duration) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range samples {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(s.Milliseconds(), 10))
	}
	b.WriteByte(']')
	return b.String()
}

// FormatAverage renders total/trials in milliseconds, 2 decimals, half-up.
func FormatAverage(total time.Duration, trials int) string {
	return formatDecimal(total.Milliseconds(), int64(trials), 2)
}

// FormatRatio renders num/den on millisecond totals, 4 decimals, half-up.
// A zero denominator renders "n/a".
func FormatRatio(num, den time.Duration) string {
	return formatDecimal(num.Milliseconds(), den.Milliseconds(), 4)
}

// formatDecimal divides exactly in integers and rounds half away from zero.
func formatDecimal(num, den int64, places int) string {
	if den == 0 {
		return "n/a"
	}
	neg := (num < 0) != (den < 0)
	if num < 0 {
		num = -num
	}
	if den < 0 {
		den = -den
	}
	scale := int64(1)
	for i := 0; i < places; i++ {
		scale *= 10
	}
	q := (2*num*scale + den) / (2 * den)
	s := fmt.Sprintf("%d.%0*d", q/scale, places, q%scale)
	if neg && q != 0 {
		s = "-" + s
	}
	return s
}

// EngineLabel is the parenthesised engine name used on result lines.
func EngineLabel(engine string, compiled bool) string {
	name := strings.ToUpper(engine)
	if compiled {
		name += " Compiled"
	}
	return "(" + name + ")"
}

func field(name string) string {
	return fmt.Sprintf("%-*s: ", labelWidth, name)
}

// WriteCaseHeader writes the name, expression and iteration count of a case.
func WriteCaseHeader(w io.Writer, name, expression string, iterations int) {
	fmt.Fprintf(w, "%s%s\n", field("Test Name"), name)
	fmt.Fprintf(w, "%s%s\n", field("Expression"), expression)
	fmt.Fprintf(w, "%s%d\n", field("Iterations"), iterations)
}

// WriteModeHeader introduces the results of one mode.
func WriteModeHeader(w io.Writer, compiled bool) {
	title := "Interpreted Results"
	if compiled {
		title = "Compiled Results"
	}
	fmt.Fprintf(w, "%-*s:\n", labelWidth, title)
}

// WriteResult writes one successful engine/mode line.
func WriteResult(w io.Writer, label string, samples []time.Duration, memDeltaKB int64) {
	var total time.Duration
	if len(samples) > 0 {
		total = samples[len(samples)-1]
	}
	fmt.Fprintf(w, "%s%sms avg.  (mem delta: %dkb) %s\n",
		field(label), FormatAverage(total, len(samples)), memDeltaKB, FormatSamples(samples))
}

// WriteFailure writes the line of an engine/mode that could not execute.
// The marker is red only when w is a terminal.
func WriteFailure(w io.Writer, label string) {
	marker := CouldNotExecute
	if colorEnabled(w) {
		marker = failColor.Sprint(CouldNotExecute)
	}
	fmt.Fprintf(w, "%s%s\n", field(label), marker)
}

// WriteSeparator ends a case block.
func WriteSeparator(w io.Writer) {
	fmt.Fprintln(w, Separator)
}

// NoThreads omits the thread line of a totals block.
const NoThreads = -1

// WriteTotals writes the comparison block. Each engine after the first is
// followed by its ratio to the first. threads < 0 omits the thread line.
func WriteTotals(w io.Writer, threads int, totals []EngineTotal) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Performance Comparison Done. OUTPUT TOTALS:")
	if threads >= 0 {
		fmt.Fprintf(w, "Total Number of Threads: %d\n", threads)
	}
	for i, t := range totals {
		fmt.Fprintf(w, "%s Total Runtime (ms): %d", strings.ToUpper(t.Name), t.Total.Milliseconds())
		if i > 0 {
			fmt.Fprintf(w, " :: %s", FormatRatio(t.Total, totals[0].Total))
		}
		fmt.Fprintln(w)
	}
}

// WriteSweepTable renders every worker count of a sweep as one table row.
func WriteSweepTable(w io.Writer, rows []SweepRow) {
	if len(rows) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)

	header := []string{"Threads", "Wall (ms)"}
	first := rows[0].Totals
	for _, t := range first {
		header = append(header, strings.ToUpper(t.Name)+" (ms)")
	}
	for _, t := range first[min(1, len(first)):] {
		header = append(header, strings.ToUpper(t.Name)+"/"+strings.ToUpper(first[0].Name))
	}
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, r := range rows {
		row := []string{strconv.Itoa(r.Threads), strconv.FormatInt(r.Wall.Milliseconds(), 10)}
		for _, t := range r.Totals {
			row = append(row, strconv.FormatInt(t.Total.Milliseconds(), 10))
		}
		for _, t := range r.Totals[min(1, len(r.Totals)):] {
			row = append(row, FormatRatio(t.Total, r.Totals[0].Total))
		}
		table.Append(row)
	}
	table.Render()
}
