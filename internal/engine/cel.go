package engine

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"elbench/internal/core"
)

const CELName = "cel"

// CEL evaluates expressions with github.com/google/cel-go. Every top-level
// key of the construction env is declared as a dynamically typed variable.
type CEL struct {
	env *cel.Env
}

func NewCEL(env core.Env) (*CEL, error) {
	opts := make([]cel.EnvOption, 0, len(env))
	for name := range env {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	ce, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	return &CEL{env: ce}, nil
}

func (c *CEL) Name() string { return CELName }

// Evaluate parses, checks, plans and evaluates source on every call.
func (c *CEL) Evaluate(source string, env core.Env) (any, error) {
	prg, err := c.program(source)
	if err != nil {
		return nil, err
	}
	return eval(prg, env)
}

func (c *CEL) Compile(source string) (core.Handle, error) {
	return c.program(source)
}

func (c *CEL) Execute(h core.Handle, env core.Env) (any, error) {
	prg, ok := h.(cel.Program)
	if !ok {
		return nil, ErrForeignHandle
	}
	return eval(prg, env)
}

func (c *CEL) program(source string) (cel.Program, error) {
	ast, iss := c.env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling %q: %w", source, iss.Err())
	}
	return c.env.Program(ast)
}

func eval(prg cel.Program, env core.Env) (any, error) {
	out, _, err := prg.Eval(map[string]any(env))
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}
