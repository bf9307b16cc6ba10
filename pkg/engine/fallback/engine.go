package fallback

import (
	"fmt"
	"io"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// TensorEngine is the reference engine: simple cell lists, no optimizations.
// Other engines are checked against it.
type TensorEngine struct{}

// Engine is the process wide instance.
var Engine = &TensorEngine{}

var _ engine.TensorEngine = Engine

func (e *TensorEngine) Name() string { return "simple" }

func (e *TensorEngine) toSimple(t engine.Tensor) *Tensor {
	s, ok := t.(*Tensor)
	if !ok {
		panic(fmt.Errorf("%w: %s tensor passed to %s engine", engine.ErrEngineMismatch, t.Engine().Name(), e.Name()))
	}
	return s
}

// FromValue converts any value to a tensor; doubles have no dimensions and
// errors have the error type.
func FromValue(v engine.Value) *Tensor {
	switch {
	case v.IsDouble():
		return DoubleTensor(v.AsDouble())
	case v.IsTensor():
		return Engine.toSimple(v.AsTensor())
	}
	return ErrorTensor()
}

func (e *TensorEngine) toValue(t *Tensor, stash *engine.Stash) engine.Value {
	switch {
	case t.typ.IsDouble():
		return stash.Double(t.cells[0].Value)
	case t.typ.IsTensor():
		return stash.Tensor(t)
	}
	return engine.ErrorValue
}

func (e *TensorEngine) TypeOf(t engine.Tensor) engine.ValueType {
	return e.toSimple(t).typ
}

func (e *TensorEngine) Equal(a, b engine.Tensor) bool {
	return Equal(e.toSimple(a), e.toSimple(b))
}

func (e *TensorEngine) ToString(t engine.Tensor) string {
	return e.toSimple(t).String()
}

func (e *TensorEngine) ToSpec(t engine.Tensor) *engine.TensorSpec {
	return e.toSimple(t).Spec()
}

// Compile returns fn unchanged.
func (e *TensorEngine) Compile(fn engine.TensorFunction) engine.TensorFunction {
	return fn
}

func (e *TensorEngine) Create(spec *engine.TensorSpec) (engine.Tensor, error) {
	t, err := Create(spec)
	if err != nil {
		return nil, fmt.Errorf("creating simple tensor: %w", err)
	}
	return t, nil
}

func (e *TensorEngine) Encode(v engine.Value, w io.Writer) error {
	engine.CheckEngine(e, v)
	return EncodeTensor(w, FromValue(v))
}

func (e *TensorEngine) Decode(r io.Reader) (engine.Value, error) {
	t, err := DecodeTensor(r)
	if err != nil {
		return nil, err
	}
	return e.toValue(t, nil), nil
}

func (e *TensorEngine) Map(a engine.Value, fn engine.MapFun, stash *engine.Stash) engine.Value {
	if a.IsDouble() {
		return stash.Double(fn(a.AsDouble()))
	}
	return e.toValue(FromValue(a).Map(fn), stash)
}

func (e *TensorEngine) Join(a, b engine.Value, fn engine.JoinFun, stash *engine.Stash) engine.Value {
	if a.IsDouble() && b.IsDouble() {
		return stash.Double(fn(a.AsDouble(), b.AsDouble()))
	}
	return e.toValue(Join(FromValue(a), FromValue(b), fn), stash)
}

func (e *TensorEngine) Reduce(a engine.Value, aggr engine.Aggr, dims []string, stash *engine.Stash) engine.Value {
	return e.toValue(FromValue(a).Reduce(aggr, dims), stash)
}

func (e *TensorEngine) Concat(a, b engine.Value, dim string, stash *engine.Stash) engine.Value {
	return e.toValue(Concat(FromValue(a), FromValue(b), dim), stash)
}

func (e *TensorEngine) Rename(a engine.Value, from, to []string, stash *engine.Stash) engine.Value {
	return e.toValue(FromValue(a).Rename(from, to), stash)
}
