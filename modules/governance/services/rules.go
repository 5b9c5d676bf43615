package services

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// RuleEvaluator evaluates per-grant CEL condition expressions. Expressions
// see a single map variable `change` with keys "field", "old" and "new"
// (empty string for null) and must produce a bool.
type RuleEvaluator struct {
	programs sync.Map
}

var newGrantRuleCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("change", cel.MapType(cel.StringType, cel.StringType)))
}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

func (e *RuleEvaluator) Allow(expr string, change map[string]string) (bool, error) {
	program, err := e.loadOrCompile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"change": change})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("grant rule did not evaluate to bool")
	}
	return v, nil
}

func (e *RuleEvaluator) loadOrCompile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("grant rule expression required")
	}
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newGrantRuleCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("grant rule must evaluate to bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.programs.Store(expr, program)
	return program, nil
}
