package mapping

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Creator expressions evaluate against a single map variable named root
// carrying the raw values of the source document, so
// Expr("root.first + ' ' + root.last") concatenates two source fields.
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("root", cel.MapType(cel.StringType, cel.DynType)))
})

// compileExpr compiles expression text once, at registration time.
func compileExpr(text string) (cel.Program, error) {
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: expression environment: %v", ErrCreator, err)
	}
	ast, iss := env.Compile(text)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrCreator, text, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: program %q: %v", ErrCreator, text, err)
	}
	return prg, nil
}

// evalExpr runs a compiled expression over the source root.
func evalExpr(prg cel.Program, root map[string]any) (any, error) {
	out, _, err := prg.Eval(map[string]any{"root": root})
	if err != nil {
		return nil, fmt.Errorf("%w: eval: %v", ErrCreator, err)
	}
	return out.Value(), nil
}
