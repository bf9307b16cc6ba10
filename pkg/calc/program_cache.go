package calc

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/function"
	"k8s.io/examples/AI/tensoreval/pkg/interpreter"
)

type programKey struct {
	engine     string
	expression string
	params     string
	types      string
}

// ProgramCache keeps compiled programs, keyed by engine, expression,
// parameter names and parameter types. It is safe for concurrent use.
type ProgramCache struct {
	programs *lru.Cache[programKey, *interpreter.InterpretedFunction]
}

func NewProgramCache(size int) (*ProgramCache, error) {
	programs, err := lru.New[programKey, *interpreter.InterpretedFunction](size)
	if err != nil {
		return nil, fmt.Errorf("creating program cache: %w", err)
	}
	return &ProgramCache{programs: programs}, nil
}

// Len is the number of cached programs.
func (c *ProgramCache) Len() int { return c.programs.Len() }

// Compile returns the program for expression over params with the given
// types, compiling it on a miss. A parse error is returned as an error
// rather than compiled.
func (c *ProgramCache) Compile(e engine.TensorEngine, expression string, params []string, types []engine.ValueType) (*interpreter.InterpretedFunction, error) {
	specs := make([]string, len(types))
	for i, t := range types {
		specs[i] = t.ToSpec()
	}
	key := programKey{
		engine:     e.Name(),
		expression: expression,
		params:     strings.Join(params, ","),
		types:      strings.Join(specs, ";"),
	}
	if c != nil {
		if fn, found := c.programs.Get(key); found {
			return fn, nil
		}
	}

	fn, err := compileProgram(e, expression, params, types)
	if err != nil {
		return nil, err
	}
	if c != nil {
		c.programs.Add(key, fn)
	}
	return fn, nil
}

func compileProgram(e engine.TensorEngine, expression string, params []string, types []engine.ValueType) (*interpreter.InterpretedFunction, error) {
	f := function.Parse(params, expression)
	if err := f.Err(); err != nil {
		return nil, err
	}
	fn := interpreter.New(e, f, function.NewNodeTypes(f, types))
	if issues := fn.Issues(); issues.HasIssues() {
		klog.V(2).Info("program has unsupported parts", "expression", expression, "issues", issues.List)
	}
	return fn, nil
}
