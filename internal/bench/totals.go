package bench

import (
	"fmt"
	"sync"
	"time"

	"elbench/internal/core"
	"elbench/internal/report"
)

// Totals accumulates runtime per engine. Every engine has its own lock so
// workers measuring different engines never contend.
type Totals struct {
	reg   *core.Registry
	cells map[core.Flags]*totalCell // read-only after NewTotals
}

type totalCell struct {
	mu    sync.Mutex
	total time.Duration
}

func NewTotals(reg *core.Registry) *Totals {
	t := &Totals{reg: reg, cells: make(map[core.Flags]*totalCell, reg.Len())}
	for _, bit := range reg.Bits() {
		t.cells[bit] = &totalCell{}
	}
	return t
}

// Add adds d to the total of the engine under bit.
func (t *Totals) Add(bit core.Flags, d time.Duration) error {
	c, ok := t.cells[bit]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownEngine, bit)
	}
	c.mu.Lock()
	c.total += d
	c.mu.Unlock()
	return nil
}

// Get returns the total of the engine under bit.
func (t *Totals) Get(bit core.Flags) (time.Duration, error) {
	c, ok := t.cells[bit]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrUnknownEngine, bit)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, nil
}

// Snapshot returns the totals of the engines enabled in flags, in
// registration order.
func (t *Totals) Snapshot(flags core.Flags) []report.EngineTotal {
	var out []report.EngineTotal
	for _, bit := range t.reg.Bits() {
		if !flags.Has(bit) {
			continue
		}
		d, _ := t.Get(bit)
		out = append(out, report.EngineTotal{Name: t.reg.Name(bit), Total: d})
	}
	return out
}
