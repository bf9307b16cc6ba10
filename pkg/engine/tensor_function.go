package engine

import (
	"fmt"
	"strings"
)

// Input supplies parameter values to a tensor function.
type Input interface {
	Get(paramIdx int) Value
}

// ValuesInput is an Input backed by a slice.
type ValuesInput []Value

func (v ValuesInput) Get(paramIdx int) Value { return v[paramIdx] }

// TensorFunction is a node in the tensor operation tree. Every node knows its
// result type; evaluating a node evaluates its children first.
type TensorFunction interface {
	ResultType() ValueType
	Children() []TensorFunction
	Eval(e TensorEngine, input Input, stash *Stash) Value
}

// Inject reads a parameter.
type Inject struct {
	Type     ValueType
	ParamIdx int
}

func NewInject(t ValueType, paramIdx int) *Inject {
	return &Inject{Type: t, ParamIdx: paramIdx}
}

func (n *Inject) ResultType() ValueType      { return n.Type }
func (n *Inject) Children() []TensorFunction { return nil }

func (n *Inject) Eval(e TensorEngine, input Input, stash *Stash) Value {
	return input.Get(n.ParamIdx)
}

// Const is a value computed ahead of time.
type Const struct {
	Value Value
}

func NewConst(v Value) *Const {
	return &Const{Value: v}
}

func (n *Const) ResultType() ValueType      { return n.Value.Type() }
func (n *Const) Children() []TensorFunction { return nil }

func (n *Const) Eval(e TensorEngine, input Input, stash *Stash) Value {
	return n.Value
}

type Map struct {
	Type  ValueType
	Child TensorFunction
	Op    Operator
	Fun   MapFun
}

// NewMap applies op cell-wise. fun overrides the builtin function for OpCustom.
func NewMap(child TensorFunction, op Operator, fun MapFun) *Map {
	if fun == nil {
		fun = op.MapFunc()
	}
	return &Map{Type: child.ResultType(), Child: child, Op: op, Fun: fun}
}

func (n *Map) ResultType() ValueType      { return n.Type }
func (n *Map) Children() []TensorFunction { return []TensorFunction{n.Child} }

func (n *Map) Eval(e TensorEngine, input Input, stash *Stash) Value {
	a := n.Child.Eval(e, input, stash)
	if a.IsError() {
		return ErrorValue
	}
	return e.Map(a, n.Fun, stash)
}

type Join struct {
	Type     ValueType
	LHS, RHS TensorFunction
	Op       Operator
	Fun      JoinFun
}

func NewJoin(lhs, rhs TensorFunction, op Operator, fun JoinFun) *Join {
	if fun == nil {
		fun = op.JoinFunc()
	}
	return &Join{
		Type: JoinTypes(lhs.ResultType(), rhs.ResultType()),
		LHS:  lhs,
		RHS:  rhs,
		Op:   op,
		Fun:  fun,
	}
}

func (n *Join) ResultType() ValueType      { return n.Type }
func (n *Join) Children() []TensorFunction { return []TensorFunction{n.LHS, n.RHS} }

func (n *Join) Eval(e TensorEngine, input Input, stash *Stash) Value {
	a := n.LHS.Eval(e, input, stash)
	b := n.RHS.Eval(e, input, stash)
	if a.IsError() || b.IsError() {
		return ErrorValue
	}
	return e.Join(a, b, n.Fun, stash)
}

type Reduce struct {
	Type  ValueType
	Child TensorFunction
	Aggr  Aggr
	Dims  []string
}

func NewReduce(child TensorFunction, aggr Aggr, dims []string) *Reduce {
	return &Reduce{
		Type:  child.ResultType().Reduce(dims),
		Child: child,
		Aggr:  aggr,
		Dims:  dims,
	}
}

func (n *Reduce) ResultType() ValueType      { return n.Type }
func (n *Reduce) Children() []TensorFunction { return []TensorFunction{n.Child} }

func (n *Reduce) Eval(e TensorEngine, input Input, stash *Stash) Value {
	a := n.Child.Eval(e, input, stash)
	if a.IsError() {
		return ErrorValue
	}
	return e.Reduce(a, n.Aggr, n.Dims, stash)
}

type Concat struct {
	Type     ValueType
	LHS, RHS TensorFunction
	Dim      string
}

func NewConcat(lhs, rhs TensorFunction, dim string) *Concat {
	return &Concat{
		Type: ConcatTypes(lhs.ResultType(), rhs.ResultType(), dim),
		LHS:  lhs,
		RHS:  rhs,
		Dim:  dim,
	}
}

func (n *Concat) ResultType() ValueType      { return n.Type }
func (n *Concat) Children() []TensorFunction { return []TensorFunction{n.LHS, n.RHS} }

func (n *Concat) Eval(e TensorEngine, input Input, stash *Stash) Value {
	a := n.LHS.Eval(e, input, stash)
	b := n.RHS.Eval(e, input, stash)
	if a.IsError() || b.IsError() {
		return ErrorValue
	}
	return e.Concat(a, b, n.Dim, stash)
}

type Rename struct {
	Type     ValueType
	Child    TensorFunction
	From, To []string
}

func NewRename(child TensorFunction, from, to []string) *Rename {
	return &Rename{
		Type:  child.ResultType().Rename(from, to),
		Child: child,
		From:  from,
		To:    to,
	}
}

func (n *Rename) ResultType() ValueType      { return n.Type }
func (n *Rename) Children() []TensorFunction { return []TensorFunction{n.Child} }

func (n *Rename) Eval(e TensorEngine, input Input, stash *Stash) Value {
	a := n.Child.Eval(e, input, stash)
	if a.IsError() {
		return ErrorValue
	}
	return e.Rename(a, n.From, n.To, stash)
}

// PostOrder lists the nodes of fn with children before their parents.
func PostOrder(fn TensorFunction) []TensorFunction {
	var out []TensorFunction
	var visit func(TensorFunction)
	visit = func(n TensorFunction) {
		for _, child := range n.Children() {
			visit(child)
		}
		out = append(out, n)
	}
	visit(fn)
	return out
}

// Describe renders a tensor function tree for diagnostics.
func Describe(fn TensorFunction) string {
	var b strings.Builder
	describe(&b, fn, 0)
	return b.String()
}

func describe(b *strings.Builder, fn TensorFunction, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch n := fn.(type) {
	case *Inject:
		fmt.Fprintf(b, "inject(%d)", n.ParamIdx)
	case *Const:
		b.WriteString("const")
	case *Map:
		fmt.Fprintf(b, "map(%s)", n.Op)
	case *Join:
		fmt.Fprintf(b, "join(%s)", n.Op)
	case *Reduce:
		fmt.Fprintf(b, "reduce(%s,%s)", n.Aggr, strings.Join(n.Dims, ","))
	case *Concat:
		fmt.Fprintf(b, "concat(%s)", n.Dim)
	case *Rename:
		fmt.Fprintf(b, "rename(%s -> %s)", strings.Join(n.From, ","), strings.Join(n.To, ","))
	default:
		fmt.Fprintf(b, "%T", fn)
	}
	fmt.Fprintf(b, " -> %s\n", fn.ResultType())
	for _, child := range fn.Children() {
		describe(b, child, depth+1)
	}
}
