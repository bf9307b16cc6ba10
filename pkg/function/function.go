package function

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Function is a parsed expression with named parameters. A function that
// failed to parse has no root; only Err is meaningful for it.
type Function struct {
	params []string
	root   Node
	err    *ParseError
}

// ParseError describes where parsing stopped.
type ParseError struct {
	Text   string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	offset := max(0, min(e.Offset, len(e.Text)))
	return fmt.Sprintf("[%s]...[%s]...[%s]", e.Text[:offset], e.Msg, e.Text[offset:])
}

// Parse parses text with the given parameter names. Other names are errors.
func Parse(params []string, text string) *Function {
	p := newParser(text, params, false)
	return p.parseFunction()
}

// ParseImplicit parses text, treating every unknown name as a parameter.
// Parameters are numbered in order of first appearance.
func ParseImplicit(text string) *Function {
	p := newParser(text, nil, true)
	return p.parseFunction()
}

func (f *Function) NumParams() int { return len(f.params) }

func (f *Function) ParamName(idx int) string { return f.params[idx] }

// Params returns the parameter names. Callers must not modify them.
func (f *Function) Params() []string { return f.params }

func (f *Function) Root() Node { return f.root }

func (f *Function) HasError() bool { return f.err != nil }

// Err returns the parse error, or nil.
func (f *Function) Err() error {
	if f.err == nil {
		return nil
	}
	return f.err
}

// HashString maps a string constant to the double it evaluates to.
func HashString(s string) float64 {
	// 53 bits survive the conversion exactly.
	return float64(xxhash.Sum64String(s) >> 11)
}

// Issues lists reasons a function cannot be interpreted.
type Issues struct {
	List []string
}

func (i Issues) HasIssues() bool { return len(i.List) > 0 }

// DetectIssues finds lambdas whose bodies use tensor operations; such lambdas
// cannot run cell by cell.
func DetectIssues(f *Function) Issues {
	var issues Issues
	if f.root == nil {
		return issues
	}
	var check func(n Node)
	checkLambda := func(owner string, lambda *Function) {
		Walk(lambda.root, func(inner Node) {
			if IsTensorOp(inner) {
				issues.List = append(issues.List, fmt.Sprintf("lambda in %s contains tensor operation %s", owner, nodeName(inner)))
			}
		})
		check(lambda.root)
	}
	check = func(n Node) {
		Walk(n, func(node Node) {
			switch node := node.(type) {
			case *TensorMap:
				checkLambda("map", node.Lambda)
			case *TensorJoin:
				checkLambda("join", node.Lambda)
			case *TensorLambda:
				checkLambda("tensor lambda", node.Lambda)
			}
		})
	}
	check(f.root)
	return issues
}

func nodeName(n Node) string {
	switch n.(type) {
	case *TensorMap:
		return "map"
	case *TensorJoin:
		return "join"
	case *TensorReduce:
		return "reduce"
	case *TensorRename:
		return "rename"
	case *TensorConcat:
		return "concat"
	case *TensorLambda:
		return "tensor lambda"
	case *TensorLiteral:
		return "tensor literal"
	}
	return fmt.Sprintf("%T", n)
}
