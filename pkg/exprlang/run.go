package exprlang

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

func vmRun(program *vm.Program, env map[string]any) (any, error) {
	return expr.Run(program, env)
}
