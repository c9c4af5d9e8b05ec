package engine

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"elbench/internal/core"
)

const ExprName = "expr"

// Expr evaluates expressions with github.com/expr-lang/expr.
type Expr struct {
	env map[string]any
}

func NewExpr(env core.Env) *Expr {
	return &Expr{env: env}
}

func (e *Expr) Name() string { return ExprName }

func (e *Expr) Evaluate(source string, env core.Env) (any, error) {
	return expr.Eval(source, map[string]any(env))
}

func (e *Expr) Compile(source string) (core.Handle, error) {
	var opts []expr.Option
	if e.env != nil {
		opts = append(opts, expr.Env(e.env))
	}
	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, err
	}
	return program, nil
}

func (e *Expr) Execute(h core.Handle, env core.Env) (any, error) {
	program, ok := h.(*vm.Program)
	if !ok {
		return nil, ErrForeignHandle
	}
	return expr.Run(program, map[string]any(env))
}
