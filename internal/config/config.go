// Package config handles YAML configuration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that cannot be benchmarked.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultIterations = 50000
	DefaultTrials     = 5
	DefaultSweepStart = 1
	DefaultSweepStep  = 5
	DefaultSweepLimit = 100
)

// Config is the root configuration structure.
type Config struct {
	Engines   []string        `yaml:"engines"`
	Execution ExecutionConfig `yaml:"execution,omitempty"`
	Sweep     SweepConfig     `yaml:"sweep,omitempty"`
	Context   map[string]any  `yaml:"context,omitempty"`
	Tests     []TestConfig    `yaml:"tests"`
}

// ExecutionConfig controls per-trial execution.
type ExecutionConfig struct {
	Iterations    int           `yaml:"iterations"`
	Trials        int           `yaml:"trials"`
	RoundInterval time.Duration `yaml:"round_interval"` // minimum spacing of continuous rounds
}

// SweepConfig defines the ascending worker counts of the stress sweep:
// Start, Start+Step, ... while below Limit.
type SweepConfig struct {
	Start int `yaml:"start"`
	Step  int `yaml:"step"`
	Limit int `yaml:"limit"`
}

// Counts expands the sweep into its worker counts.
func (s SweepConfig) Counts() []int {
	var counts []int
	if s.Start <= 0 || s.Step <= 0 {
		return counts
	}
	for n := s.Start; n < s.Limit; n += s.Step {
		counts = append(counts, n)
	}
	return counts
}

// TestConfig defines a single catalog entry. An empty Engines list makes
// the test applicable to every engine.
type TestConfig struct {
	Name       string   `yaml:"name"`
	Expression string   `yaml:"expression"`
	Engines    []string `yaml:"engines,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and parses a YAML configuration file.
// Sections missing from the file fall back to the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Engines) == 0 {
		c.Engines = []string{"expr", "cel"}
	}
	if c.Execution.Iterations == 0 {
		c.Execution.Iterations = DefaultIterations
	}
	if c.Execution.Trials == 0 {
		c.Execution.Trials = DefaultTrials
	}
	if c.Sweep == (SweepConfig{}) {
		c.Sweep = SweepConfig{Start: DefaultSweepStart, Step: DefaultSweepStep, Limit: DefaultSweepLimit}
	}
	if c.Context == nil {
		c.Context = DefaultContext()
	}
	if len(c.Tests) == 0 {
		c.Tests = DefaultTests()
	}
}

// Validate checks that the configuration describes a runnable benchmark.
func (c *Config) Validate() error {
	if len(c.Engines) == 0 {
		return fmt.Errorf("%w: no engines", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Engines))
	for _, name := range c.Engines {
		if seen[name] {
			return fmt.Errorf("%w: engine %q listed twice", ErrInvalid, name)
		}
		seen[name] = true
	}
	if c.Execution.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be > 0, got %d", ErrInvalid, c.Execution.Iterations)
	}
	if c.Execution.Trials <= 0 {
		return fmt.Errorf("%w: trials must be > 0, got %d", ErrInvalid, c.Execution.Trials)
	}
	if c.Execution.RoundInterval < 0 {
		return fmt.Errorf("%w: round_interval must not be negative", ErrInvalid)
	}
	if c.Sweep.Start <= 0 || c.Sweep.Step <= 0 || c.Sweep.Limit <= c.Sweep.Start {
		return fmt.Errorf("%w: sweep needs start > 0, step > 0 and limit > start, got %+v", ErrInvalid, c.Sweep)
	}
	if len(c.Tests) == 0 {
		return fmt.Errorf("%w: no tests", ErrInvalid)
	}
	for i, tc := range c.Tests {
		if tc.Name == "" {
			return fmt.Errorf("%w: test %d has no name", ErrInvalid, i)
		}
		if tc.Expression == "" {
			return fmt.Errorf("%w: test %q has no expression", ErrInvalid, tc.Name)
		}
		for _, name := range tc.Engines {
			if !seen[name] {
				return fmt.Errorf("%w: test %q names unconfigured engine %q", ErrInvalid, tc.Name, name)
			}
		}
	}
	return nil
}

// DefaultContext is the evaluation context of the built-in catalog.
func DefaultContext() map[string]any {
	return map[string]any{
		"data": "cat",
		"foo": map[string]any{
			"bar": map[string]any{"name": "dog"},
		},
		"funMap": map[string]any{
			"foo": map[string]any{"happy": "happyBar"},
		},
	}
}

// DefaultTests is the built-in catalog. Syntax that differs between
// engines gets one test per engine.
func DefaultTests() []TestConfig {
	return []TestConfig{
		{Name: "Simple String Pass-Through", Expression: "'Hello World'"},
		{Name: "Shallow Property", Expression: "data"},
		{Name: "Deep Property", Expression: "foo.bar.name"},
		{Name: "Builtin Call (expr)", Expression: "len(data)", Engines: []string{"expr"}},
		{Name: "Builtin Call (cel)", Expression: "size(data)", Engines: []string{"cel"}},
		{Name: "Inline List Creation", Expression: "['foo', 'bar']"},
		{Name: "Collection Access", Expression: "funMap['foo'].happy"},
		{Name: "Boolean compare", Expression: "data == 'cat'"},
		{Name: "Arithmetic", Expression: "10 + 1 - 1"},
	}
}
