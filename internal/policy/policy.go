// Package policy evaluates tenant-authored sharing rules for vault
// collections. Rules are CEL expressions over a string map named ctx
// and must produce a bool; anything else is rejected at compile time.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

var ErrNotBool = errors.New("policy: expression must evaluate to bool")

// Engine compiles and caches rule programs. Safe for concurrent use.
type Engine struct {
	env   *cel.Env
	cache sync.Map
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
	if err != nil {
		return nil, err
	}
	return &Engine{env: env}, nil
}

// Allow evaluates expr against input. Evaluation errors deny access;
// a rule that cannot be evaluated never grants anything.
func (e *Engine) Allow(expr string, input map[string]string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		// No rule means the collection relies on role checks alone.
		return true, nil
	}

	program, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]any{"ctx": input})
	if err != nil {
		return false, fmt.Errorf("policy: eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBool
	}
	return allowed, nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	if cached, ok := e.cache.Load(expr); ok {
		return cached.(cel.Program), nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("policy: compile: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, ErrNotBool
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: program: %w", err)
	}
	e.cache.Store(expr, program)
	return program, nil
}
