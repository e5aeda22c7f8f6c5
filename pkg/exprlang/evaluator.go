// Package exprlang implements the expression-evaluation capability the engine
// injects wherever the specification declares an expression: flow predicates,
// task data mappings, and multi-instance accessor/splitter/aggregator
// expressions. It wraps github.com/expr-lang/expr, the same engine the reference
// codebase uses for its flow-condition evaluation.
package exprlang

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/yawl-engine/core/pkg/yawlerr"
)

// Evaluator compiles and runs expressions against a case-data environment,
// caching compiled programs per distinct (expression, result-kind) pair.
// Grounded on pkg/engine/condition_cache.go's ExprConditionEvaluator, generalized
// from a single node-output environment to the full case data document plus
// per-call extras (item/index/total for multi-instance expressions).
type Evaluator struct {
	cache *programCache
}

// New creates an Evaluator with the given compiled-program cache capacity (0 uses
// a sensible default).
func New(cacheCapacity int) *Evaluator {
	return &Evaluator{cache: newProgramCache(cacheCapacity)}
}

// resultKind distinguishes cache entries so a boolean predicate and a value
// expression with identical text never collide.
type resultKind int

const (
	kindBool resultKind = iota
	kindAny
)

func (e *Evaluator) compile(expression string, kind resultKind, env map[string]any) (*vmProgram, error) {
	key := fmt.Sprintf("%d:%s", kind, expression)
	if p, ok := e.cache.get(key); ok {
		return &vmProgram{p}, nil
	}
	var opts []expr.Option
	opts = append(opts, expr.Env(env))
	if kind == kindBool {
		opts = append(opts, expr.AsBool())
	}
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, &yawlerr.SpecificationError{Detail: "failed to compile expression: " + expression, Err: err}
	}
	e.cache.put(key, program)
	return &vmProgram{program}, nil
}

// EvaluateBool implements spec.Evaluator: evaluates expression against caseData
// and coerces the result to bool.
func (e *Evaluator) EvaluateBool(expression string, caseData map[string]any) (bool, error) {
	env := map[string]any{"data": caseData}
	prog, err := e.compile(expression, kindBool, env)
	if err != nil {
		return false, err
	}
	out, err := prog.run(env)
	if err != nil {
		return false, &yawlerr.SpecificationError{Detail: "failed to evaluate expression: " + expression, Err: err}
	}
	b, ok := out.(bool)
	if !ok {
		return false, &yawlerr.SpecificationError{Detail: "expression did not evaluate to a boolean: " + expression}
	}
	return b, nil
}

// EvaluateAny evaluates expression against an arbitrary environment (case data
// plus any extra bindings, e.g. "item"/"index"/"total" for multi-instance
// expressions) and returns the raw result.
func (e *Evaluator) EvaluateAny(expression string, env map[string]any) (any, error) {
	prog, err := e.compile(expression, kindAny, env)
	if err != nil {
		return nil, err
	}
	out, err := prog.run(env)
	if err != nil {
		return nil, &yawlerr.SpecificationError{Detail: "failed to evaluate expression: " + expression, Err: err}
	}
	return out, nil
}

// EvaluateSlice evaluates expression (typically a multi-instance accessor) and
// coerces the result to a slice, accepting both []any and typed slices.
func (e *Evaluator) EvaluateSlice(expression string, caseData map[string]any) ([]any, error) {
	out, err := e.EvaluateAny(expression, map[string]any{"data": caseData})
	if err != nil {
		return nil, err
	}
	return toSlice(out), nil
}

// Len reports the number of compiled programs currently cached; exposed for tests.
func (e *Evaluator) Len() int { return e.cache.len() }
