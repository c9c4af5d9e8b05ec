package core

import (
	"strings"
)

// Flags is a bitset of engines and modes. Engines occupy the low bits in
// registration order, modes occupy the two high bits.
type Flags uint32

const (
	EngineA Flags = 1 << iota
	EngineB

	Compiled    Flags = 1 << 30
	Interpreted Flags = 1 << 31

	engineMask = Compiled - 1

	// AllModes enables both interpreted and compiled runs.
	AllModes = Compiled | Interpreted
)

// MaxEngines is the number of engine bits available below the mode bits.
const MaxEngines = 30

// EngineBit returns the flag for the i-th registered engine.
func EngineBit(i int) Flags {
	return Flags(1) << uint(i)
}

// Has reports whether every bit of x is set in f. Has(0) is false.
func (f Flags) Has(x Flags) bool {
	return x != 0 && f&x == x
}

// Engines returns only the engine bits of f.
func (f Flags) Engines() Flags {
	return f & engineMask
}

// Modes returns only the mode bits of f.
func (f Flags) Modes() Flags {
	return f & AllModes
}

func (f Flags) String() string {
	var parts []string
	for i := 0; i < MaxEngines; i++ {
		if f.Has(EngineBit(i)) {
			parts = append(parts, "engine"+string(rune('A'+i)))
		}
	}
	if f.Has(Interpreted) {
		parts = append(parts, "interpreted")
	}
	if f.Has(Compiled) {
		parts = append(parts, "compiled")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Mode selects how an expression is evaluated.
type Mode int

const (
	ModeInterpreted Mode = iota
	ModeCompiled
)

// Flag returns the RunFlags bit enabling m.
func (m Mode) Flag() Flags {
	if m == ModeCompiled {
		return Compiled
	}
	return Interpreted
}

func (m Mode) String() string {
	if m == ModeCompiled {
		return "compiled"
	}
	return "interpreted"
}
