package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEngine indicates a lookup for an engine that was never registered.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrTooManyEngines indicates the registry ran out of engine bits.
	ErrTooManyEngines = errors.New("too many engines")
)

// Registry maps engine bits to engines in registration order.
// It is built once at startup and read-only afterwards.
type Registry struct {
	engines []Engine
}

// NewRegistry registers engines in order: the first gets EngineA, the
// second EngineB, and so on.
func NewRegistry(engines ...Engine) (*Registry, error) {
	if len(engines) > MaxEngines {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyEngines, len(engines), MaxEngines)
	}
	return &Registry{engines: engines}, nil
}

// Len returns the number of registered engines.
func (r *Registry) Len() int {
	return len(r.engines)
}

// All returns the flag set enabling every registered engine.
func (r *Registry) All() Flags {
	var f Flags
	for i := range r.engines {
		f |= EngineBit(i)
	}
	return f
}

// Bits returns the engine bits in registration order.
func (r *Registry) Bits() []Flags {
	bits := make([]Flags, len(r.engines))
	for i := range r.engines {
		bits[i] = EngineBit(i)
	}
	return bits
}

// Engine returns the engine registered under bit.
func (r *Registry) Engine(bit Flags) (Engine, error) {
	for i, e := range r.engines {
		if EngineBit(i) == bit {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, bit)
}

// Lookup returns the bit of the engine with the given name.
func (r *Registry) Lookup(name string) (Flags, error) {
	for i, e := range r.engines {
		if e.Name() == name {
			return EngineBit(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
}

// Name returns the name of the engine under bit, or "" if unregistered.
func (r *Registry) Name(bit Flags) string {
	e, err := r.Engine(bit)
	if err != nil {
		return ""
	}
	return e.Name()
}
