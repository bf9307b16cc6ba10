package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"src.elv.sh/pkg/persistent/vector"

	"k8s.io/examples/AI/tensoreval/pkg/calc"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/function"
	"k8s.io/examples/AI/tensoreval/pkg/interpreter"
)

// session evaluates expressions typed at the prompt. Parameters of an
// expression are bound to earlier results by name.
type session struct {
	engine   engine.TensorEngine
	out      io.Writer
	bindings map[string]engine.Value
	history  vector.Vector
	context  *interpreter.Context
}

func newSession(e engine.TensorEngine, out io.Writer) *session {
	return &session{
		engine:   e,
		out:      out,
		bindings: make(map[string]engine.Value),
		history:  vector.Empty,
		context:  interpreter.NewContext(),
	}
}

const help = `expressions are evaluated; unknown names refer to earlier :let bindings
  :let name = expr   evaluate expr and bind the result to name
  :engine [name]     show or switch the tensor engine
  :dump expr         show how expr was parsed
  :program expr      show the instructions expr compiles to
  :history           list the lines entered so far
  :quit              leave
`

// execute runs one line. It returns false when the session should end.
func (s *session) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	s.history = s.history.Conj(line)

	if !strings.HasPrefix(line, ":") {
		s.evaluate(line)
		return true
	}

	command, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "quit", "q":
		return false
	case "help":
		fmt.Fprint(s.out, help)
	case "let":
		name, expr, ok := strings.Cut(rest, "=")
		name = strings.TrimSpace(name)
		if !ok || !engine.IsIdentifier(name) {
			fmt.Fprintln(s.out, "usage: :let name = expr")
			return true
		}
		if v, ok := s.evaluate(expr); ok {
			s.bindings[name] = v
		}
	case "engine":
		if rest == "" {
			fmt.Fprintln(s.out, s.engine.Name())
			return true
		}
		e, found := calc.LookupEngine(rest)
		if !found {
			fmt.Fprintf(s.out, "unknown engine %q (known engines: %s)\n", rest, strings.Join(calc.EngineNames(), ", "))
			return true
		}
		s.rebind(e)
	case "dump":
		f := function.ParseImplicit(rest)
		if err := f.Err(); err != nil {
			fmt.Fprintln(s.out, err)
			return true
		}
		fmt.Fprintln(s.out, f.Dump())
	case "program":
		fn, _, ok := s.compile(rest)
		if ok {
			fmt.Fprint(s.out, fn.Describe())
		}
	case "history":
		for i := 0; i < s.history.Len(); i++ {
			entry, _ := s.history.Index(i)
			fmt.Fprintf(s.out, "%4d  %s\n", i+1, entry)
		}
	default:
		fmt.Fprintf(s.out, "unknown command %q, try :help\n", command)
	}
	return true
}

func (s *session) compile(expr string) (*interpreter.InterpretedFunction, []engine.Value, bool) {
	f := function.ParseImplicit(strings.TrimSpace(expr))
	if err := f.Err(); err != nil {
		fmt.Fprintln(s.out, err)
		return nil, nil, false
	}
	params := make([]engine.Value, f.NumParams())
	types := make([]engine.ValueType, f.NumParams())
	for i, name := range f.Params() {
		v, found := s.bindings[name]
		if !found {
			fmt.Fprintf(s.out, "unknown name %q\n", name)
			return nil, nil, false
		}
		params[i] = v
		types[i] = v.Type()
	}
	fn := interpreter.New(s.engine, f, function.NewNodeTypes(f, types))
	for _, issue := range fn.Issues().List {
		fmt.Fprintln(s.out, "warning:", issue)
	}
	return fn, params, true
}

func (s *session) evaluate(expr string) (engine.Value, bool) {
	fn, params, ok := s.compile(expr)
	if !ok {
		return nil, false
	}
	result := fn.Eval(s.context, params)
	// Copy the result out of the context, which the next evaluation reuses.
	v, err := engine.CreateValue(s.engine, engine.ValueToSpec(result))
	if err != nil {
		v = engine.ErrorValue
	}
	fmt.Fprintln(s.out, formatValue(v))
	return v, true
}

func formatValue(v engine.Value) string {
	switch {
	case v.IsDouble():
		return strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)
	case v.IsError():
		return "error"
	}
	return engine.ValueToSpec(v).String()
}

// rebind switches engines, converting every binding.
func (s *session) rebind(e engine.TensorEngine) {
	names := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v, err := engine.CreateValue(e, engine.ValueToSpec(s.bindings[name]))
		if err != nil {
			fmt.Fprintf(s.out, "dropping %s: %v\n", name, err)
			delete(s.bindings, name)
			continue
		}
		s.bindings[name] = v
	}
	s.engine = e
}
