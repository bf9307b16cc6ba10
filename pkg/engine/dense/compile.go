package dense

import (
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// DotProduct computes reduce(join(a, b, mul), sum) for two vectors of the
// same dense type in a single pass.
type DotProduct struct {
	LHS, RHS *engine.Inject
}

func (n *DotProduct) ResultType() engine.ValueType { return engine.DoubleType() }

func (n *DotProduct) Children() []engine.TensorFunction {
	return []engine.TensorFunction{n.LHS, n.RHS}
}

func (n *DotProduct) Eval(e engine.TensorEngine, input engine.Input, stash *engine.Stash) engine.Value {
	a := input.Get(n.LHS.ParamIdx)
	b := input.Get(n.RHS.ParamIdx)
	if a.IsError() || b.IsError() {
		return engine.ErrorValue
	}
	if ta, ok := a.AsTensor().(*Tensor); ok {
		if tb, ok := b.AsTensor().(*Tensor); ok && ta.typ.Equal(tb.typ) {
			sum := 0.0
			for i, v := range ta.cells {
				sum += v * tb.cells[i]
			}
			return stash.Double(sum)
		}
	}
	// Inputs that do not match the compiled types take the generic path.
	joined := e.Join(a, b, engine.OpMul.JoinFunc(), stash)
	if joined.IsError() {
		return joined
	}
	return e.Reduce(joined, engine.AggrSum, nil, stash)
}

// isDotProductType is a bound dense vector.
func isDotProductType(t engine.ValueType) bool {
	return t.IsBoundDense() && len(t.Dimensions()) == 1
}

func compileDotProduct(reduce *engine.Reduce) engine.TensorFunction {
	if reduce.Aggr != engine.AggrSum {
		return nil
	}
	join, ok := reduce.Child.(*engine.Join)
	if !ok || join.Op != engine.OpMul {
		return nil
	}
	lhs, ok := join.LHS.(*engine.Inject)
	if !ok {
		return nil
	}
	rhs, ok := join.RHS.(*engine.Inject)
	if !ok {
		return nil
	}
	if !isDotProductType(lhs.Type) || !lhs.Type.Equal(rhs.Type) {
		return nil
	}
	dim := lhs.Type.Dimensions()[0].Name
	switch {
	case len(reduce.Dims) == 0:
	case len(reduce.Dims) == 1 && reduce.Dims[0] == dim:
	default:
		return nil
	}
	return &DotProduct{LHS: lhs, RHS: rhs}
}

// Compile rewrites fn bottom-up, replacing vector dot products with
// DotProduct.
func (e *TensorEngine) Compile(fn engine.TensorFunction) engine.TensorFunction {
	switch n := fn.(type) {
	case *engine.Map:
		return engine.NewMap(e.Compile(n.Child), n.Op, n.Fun)
	case *engine.Join:
		return engine.NewJoin(e.Compile(n.LHS), e.Compile(n.RHS), n.Op, n.Fun)
	case *engine.Reduce:
		if dot := compileDotProduct(n); dot != nil {
			klog.V(4).Info("compiled dot product", "type", n.Child.ResultType())
			return dot
		}
		return engine.NewReduce(e.Compile(n.Child), n.Aggr, n.Dims)
	case *engine.Concat:
		return engine.NewConcat(e.Compile(n.LHS), e.Compile(n.RHS), n.Dim)
	case *engine.Rename:
		return engine.NewRename(e.Compile(n.Child), n.From, n.To)
	}
	return fn
}
