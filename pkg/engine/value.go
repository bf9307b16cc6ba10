package engine

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorDouble is what an error value reports when read as a double.
const ErrorDouble = 31212.0

// ErrEngineMismatch is raised (as a panic) when tensors from different engines
// are combined. Mixing engines is a programming error.
var ErrEngineMismatch = errors.New("tensors from different engines combined")

// Tensor is an opaque tensor; all operations on it go through its engine.
type Tensor interface {
	Engine() TensorEngine
}

// Value is the result of evaluating an expression: an error, a double or a
// tensor. The set of implementations is closed.
type Value interface {
	IsError() bool
	IsDouble() bool
	IsTensor() bool
	AsDouble() float64
	AsBool() bool
	// AsTensor returns nil unless IsTensor.
	AsTensor() Tensor
	Type() ValueType
	Equal(other Value) bool

	isValue()
}

type errorValue struct{}

// ErrorValue is the single error value.
var ErrorValue Value = errorValue{}

func (errorValue) IsError() bool     { return true }
func (errorValue) IsDouble() bool    { return false }
func (errorValue) IsTensor() bool    { return false }
func (errorValue) AsDouble() float64 { return ErrorDouble }
func (errorValue) AsBool() bool      { return false }
func (errorValue) AsTensor() Tensor  { return nil }
func (errorValue) Type() ValueType   { return ErrorType() }
func (errorValue) Equal(Value) bool  { return false }
func (errorValue) String() string    { return "error" }
func (errorValue) isValue()          {}

type DoubleValue struct {
	value float64
}

func NewDoubleValue(v float64) *DoubleValue { return &DoubleValue{value: v} }

func (*DoubleValue) IsError() bool       { return false }
func (*DoubleValue) IsDouble() bool      { return true }
func (*DoubleValue) IsTensor() bool      { return false }
func (d *DoubleValue) AsDouble() float64 { return d.value }
func (d *DoubleValue) AsBool() bool      { return d.value != 0.0 }
func (*DoubleValue) AsTensor() Tensor    { return nil }
func (*DoubleValue) Type() ValueType     { return DoubleType() }
func (*DoubleValue) isValue()            {}

func (d *DoubleValue) Equal(other Value) bool {
	return other.IsDouble() && d.value == other.AsDouble()
}

func (d *DoubleValue) String() string {
	return strconv.FormatFloat(d.value, 'g', -1, 64)
}

type TensorValue struct {
	tensor Tensor
}

func NewTensorValue(t Tensor) *TensorValue { return &TensorValue{tensor: t} }

func (*TensorValue) IsError() bool      { return false }
func (*TensorValue) IsDouble() bool     { return false }
func (*TensorValue) IsTensor() bool     { return true }
func (t *TensorValue) AsTensor() Tensor { return t.tensor }
func (*TensorValue) isValue()           {}

// AsDouble sums all cells.
func (t *TensorValue) AsDouble() float64 {
	spec := t.tensor.Engine().ToSpec(t.tensor)
	sum := 0.0
	for _, cell := range spec.Cells() {
		sum += cell.Value
	}
	return sum
}

// AsBool is false for every tensor.
func (*TensorValue) AsBool() bool { return false }

func (t *TensorValue) Type() ValueType {
	return t.tensor.Engine().TypeOf(t.tensor)
}

func (t *TensorValue) Equal(other Value) bool {
	if !other.IsTensor() {
		return false
	}
	o := other.AsTensor()
	if o.Engine() != t.tensor.Engine() {
		return false
	}
	return t.tensor.Engine().Equal(t.tensor, o)
}

func (t *TensorValue) String() string {
	return t.tensor.Engine().ToString(t.tensor)
}

// CheckEngine panics with ErrEngineMismatch if v is a tensor that does not
// belong to e.
func CheckEngine(e TensorEngine, v Value) {
	if v.IsTensor() && v.AsTensor().Engine() != e {
		panic(fmt.Errorf("%w: %s tensor passed to %s engine", ErrEngineMismatch, v.AsTensor().Engine().Name(), e.Name()))
	}
}
