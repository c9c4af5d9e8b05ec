// Package catalog holds the test cases every engine is benchmarked against.
package catalog

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"elbench/internal/config"
	"elbench/internal/core"
)

// ErrNotCompiled is returned for a handle that was never built, either
// because the case does not apply to the engine or because Compile failed.
var ErrNotCompiled = errors.New("no compiled handle")

// TestCase is one catalog entry. It is immutable once its catalog has been
// compiled.
type TestCase struct {
	Name          string
	Expression    string
	Applicability core.Flags

	handles     map[core.Flags]core.Handle
	compileErrs map[core.Flags]error
}

// AppliesTo reports whether the case may run on the engine under bit.
func (tc *TestCase) AppliesTo(bit core.Flags) bool {
	return tc.Applicability.Has(bit)
}

// Handle returns the precompiled handle for the engine under bit.
func (tc *TestCase) Handle(bit core.Flags) (core.Handle, error) {
	if err, ok := tc.compileErrs[bit]; ok {
		return nil, err
	}
	h, ok := tc.handles[bit]
	if !ok {
		return nil, fmt.Errorf("%w for %q (%s)", ErrNotCompiled, tc.Name, bit)
	}
	return h, nil
}

// Catalog is an ordered, read-only list of test cases.
type Catalog struct {
	cases []*TestCase
}

// New resolves the engine names of each test against reg. A test with no
// engine names applies to every registered engine.
func New(tests []config.TestConfig, reg *core.Registry) (*Catalog, error) {
	if len(tests) == 0 {
		return nil, errors.New("catalog: no tests")
	}
	c := &Catalog{cases: make([]*TestCase, 0, len(tests))}
	for _, t := range tests {
		applicability := reg.All()
		if len(t.Engines) > 0 {
			applicability = 0
			for _, name := range t.Engines {
				bit, err := reg.Lookup(name)
				if err != nil {
					return nil, fmt.Errorf("catalog: test %q: %w", t.Name, err)
				}
				applicability |= bit
			}
		}
		c.cases = append(c.cases, &TestCase{
			Name:          t.Name,
			Expression:    t.Expression,
			Applicability: applicability,
		})
	}
	return c, nil
}

// Compile builds the compiled handle of every case for every applicable
// engine. Compile failures are kept per case and engine; they surface as
// execution failures when the compiled mode runs.
func (c *Catalog) Compile(reg *core.Registry) error {
	for _, tc := range c.cases {
		tc.handles = make(map[core.Flags]core.Handle)
		tc.compileErrs = make(map[core.Flags]error)
		for _, bit := range reg.Bits() {
			if !tc.AppliesTo(bit) {
				continue
			}
			eng, err := reg.Engine(bit)
			if err != nil {
				return err
			}
			h, err := compile(eng, tc.Expression)
			if err != nil {
				tc.compileErrs[bit] = fmt.Errorf("compiling %q with %s: %w", tc.Name, eng.Name(), err)
				continue
			}
			tc.handles[bit] = h
		}
	}
	return nil
}

func compile(eng core.Engine, source string) (h core.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return eng.Compile(source)
}

// Cases returns the cases in catalog order.
func (c *Catalog) Cases() []*TestCase {
	return c.cases
}

// Len returns the number of cases.
func (c *Catalog) Len() int {
	return len(c.cases)
}

// Fingerprint identifies the catalog content, so reports from different
// runs can be matched to the same catalog.
func (c *Catalog) Fingerprint() uint64 {
	d := xxhash.New()
	for _, tc := range c.cases {
		_, _ = d.WriteString(tc.Name)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(tc.Expression)
		_, _ = d.Write([]byte{0, byte(tc.Applicability), byte(tc.Applicability >> 8)})
	}
	return d.Sum64()
}
