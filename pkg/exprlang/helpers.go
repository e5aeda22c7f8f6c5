package exprlang

import (
	"reflect"

	"github.com/expr-lang/expr/vm"
)

// vmProgram adapts expr-lang's Run function to a tiny interface so the cache and
// evaluator don't need to import expr-lang's top-level package for execution.
type vmProgram struct {
	program *vm.Program
}

func (p *vmProgram) run(env map[string]any) (any, error) {
	return vmRun(p.program, env)
}

// toSlice converts an arbitrary accessor result into []any. Grounded on
// pkg/engine/sub_workflow.go's toSlice: a fast path for []any, and a reflect-based
// fallback for typed slices/arrays so a case data document built from plain JSON
// decoding (which yields []any) and one built programmatically (which may carry
// concrete slice types) both work.
func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	default:
		return []any{v}
	}
}
