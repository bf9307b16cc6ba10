package interpreter

import (
	"fmt"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/function"
)

// scalarFunc evaluates a lambda body on the lambda's arguments.
type scalarFunc func(args []float64) float64

// compileLambda turns a lambda body into a Go closure. Lambdas run once per
// cell, so they bypass the instruction program and the stack.
func compileLambda(lambda *function.Function) (scalarFunc, error) {
	if lambda.HasError() {
		return nil, lambda.Err()
	}
	return compileScalar(lambda.Root())
}

func compileScalar(n function.Node) (scalarFunc, error) {
	switch n := n.(type) {
	case *function.Number:
		v := n.Value
		return func([]float64) float64 { return v }, nil
	case *function.String:
		v := function.HashString(n.Value)
		return func([]float64) float64 { return v }, nil
	case *function.Symbol:
		idx := n.Idx
		return func(args []float64) float64 { return args[idx] }, nil
	case *function.Neg:
		return compileUnary(engine.OpNeg, n.Child)
	case *function.Not:
		return compileUnary(engine.OpNot, n.Child)
	case *function.Binary:
		return compileBinary(n.Op, n.LHS, n.RHS)
	case *function.Call:
		if len(n.Args) == 1 {
			return compileUnary(n.Op, n.Args[0])
		}
		return compileBinary(n.Op, n.Args[0], n.Args[1])
	case *function.If:
		cond, err := compileScalar(n.Cond)
		if err != nil {
			return nil, err
		}
		t, err := compileScalar(n.True)
		if err != nil {
			return nil, err
		}
		f, err := compileScalar(n.False)
		if err != nil {
			return nil, err
		}
		return func(args []float64) float64 {
			if cond(args) != 0 {
				return t(args)
			}
			return f(args)
		}, nil
	case *function.In:
		child, err := compileScalar(n.Child)
		if err != nil {
			return nil, err
		}
		member := memberFunc(memberSet(n))
		return func(args []float64) float64 { return member(child(args)) }, nil
	}
	return nil, fmt.Errorf("unsupported lambda expression %T", n)
}

func compileUnary(op engine.Operator, child function.Node) (scalarFunc, error) {
	a, err := compileScalar(child)
	if err != nil {
		return nil, err
	}
	fn := op.MapFunc()
	return func(args []float64) float64 { return fn(a(args)) }, nil
}

func compileBinary(op engine.Operator, lhs, rhs function.Node) (scalarFunc, error) {
	a, err := compileScalar(lhs)
	if err != nil {
		return nil, err
	}
	b, err := compileScalar(rhs)
	if err != nil {
		return nil, err
	}
	fn := op.JoinFunc()
	return func(args []float64) float64 { return fn(a(args), b(args)) }, nil
}

// memberSet lists the values an in-expression tests against.
func memberSet(n *function.In) []float64 {
	set := make([]float64, 0, len(n.Entries))
	for _, entry := range n.Entries {
		switch entry := entry.(type) {
		case *function.Number:
			set = append(set, entry.Value)
		case *function.String:
			set = append(set, function.HashString(entry.Value))
		}
	}
	return set
}

func asMapFun(fn scalarFunc) engine.MapFun {
	return func(x float64) float64 {
		args := [1]float64{x}
		return fn(args[:])
	}
}

func asJoinFun(fn scalarFunc) engine.JoinFun {
	return func(x, y float64) float64 {
		args := [2]float64{x, y}
		return fn(args[:])
	}
}
