package engine

import (
	"io"
)

// TensorEngine implements tensor algebra for one tensor representation.
// Engines are stateless singletons.
//
// The primitives accept doubles as tensors without dimensions and report bad
// input as ErrorValue. Passing a tensor owned by another engine panics with
// ErrEngineMismatch.
type TensorEngine interface {
	Name() string

	TypeOf(t Tensor) ValueType
	Equal(a, b Tensor) bool
	ToString(t Tensor) string
	ToSpec(t Tensor) *TensorSpec

	// Compile may rewrite a tensor function into one that computes the same
	// result faster on this engine.
	Compile(fn TensorFunction) TensorFunction

	Create(spec *TensorSpec) (Tensor, error)
	Encode(v Value, w io.Writer) error
	Decode(r io.Reader) (Value, error)

	Map(a Value, fn MapFun, stash *Stash) Value
	Join(a, b Value, fn JoinFun, stash *Stash) Value
	Reduce(a Value, aggr Aggr, dims []string, stash *Stash) Value
	Concat(a, b Value, dim string, stash *Stash) Value
	Rename(a Value, from, to []string, stash *Stash) Value
}

// CreateValue builds a value from spec, unwrapping doubles.
func CreateValue(e TensorEngine, spec *TensorSpec) (Value, error) {
	t, err := ValueTypeFromSpec(spec.Type())
	if err != nil {
		return nil, err
	}
	if t.IsDouble() {
		v := 0.0
		for _, cell := range spec.Cells() {
			v = cell.Value
		}
		return NewDoubleValue(v), nil
	}
	tensor, err := e.Create(spec)
	if err != nil {
		return nil, err
	}
	return NewTensorValue(tensor), nil
}

// ValueToSpec converts any value to its structural form.
func ValueToSpec(v Value) *TensorSpec {
	switch {
	case v.IsTensor():
		t := v.AsTensor()
		return t.Engine().ToSpec(t)
	case v.IsDouble():
		return NewTensorSpec("double").Add(Address{}, v.AsDouble())
	}
	return NewTensorSpec("error")
}
