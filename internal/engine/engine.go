// Package engine provides the expression engines elbench compares.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"elbench/internal/core"
)

// ErrUnsupported is returned for engine names with no implementation.
var ErrUnsupported = errors.New("unsupported engine")

// ErrForeignHandle is returned when a handle from another engine is executed.
var ErrForeignHandle = errors.New("handle was not compiled by this engine")

type factory func(env core.Env) (core.Engine, error)

var factories = map[string]factory{
	ExprName: func(env core.Env) (core.Engine, error) { return NewExpr(env), nil },
	CELName:  func(env core.Env) (core.Engine, error) { return NewCEL(env) },
}

// New builds the named engine. env is used for type information at compile
// time; each call still receives its own env.
func New(name string, env core.Env) (core.Engine, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnsupported, name, Names())
	}
	e, err := f(env)
	if err != nil {
		return nil, fmt.Errorf("creating %s engine: %w", name, err)
	}
	return e, nil
}

// NewRegistry builds the named engines and registers them in order.
func NewRegistry(names []string, env core.Env) (*core.Registry, error) {
	engines := make([]core.Engine, 0, len(names))
	for _, name := range names {
		e, err := New(name, env)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return core.NewRegistry(engines...)
}

// Names lists the available engines.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
