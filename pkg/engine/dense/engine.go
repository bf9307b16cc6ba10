package dense

import (
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/engine/fallback"
)

const (
	magicDense   = 'D'
	magicWrapped = 'W'
)

// TensorEngine is the default engine. Tensors of bound dense types are kept
// as flat cell arrays and computed natively; everything else is delegated to
// reference tensors.
type TensorEngine struct{}

// Engine is the process wide instance.
var Engine = &TensorEngine{}

var _ engine.TensorEngine = Engine

func (e *TensorEngine) Name() string { return "dense" }

func (e *TensorEngine) mismatch(t engine.Tensor) error {
	return fmt.Errorf("%w: %s tensor passed to %s engine", engine.ErrEngineMismatch, t.Engine().Name(), e.Name())
}

// asDense returns the dense form of a double or dense tensor value.
func (e *TensorEngine) asDense(v engine.Value) (*Tensor, bool) {
	if v.IsDouble() {
		return &Tensor{typ: engine.DoubleType(), cells: []float64{v.AsDouble()}}, true
	}
	if !v.IsTensor() {
		return nil, false
	}
	switch t := v.AsTensor().(type) {
	case *Tensor:
		return t, true
	case *wrapped:
		return nil, false
	default:
		panic(e.mismatch(t))
	}
}

// asSimple returns the reference form of any value owned by this engine.
func (e *TensorEngine) asSimple(v engine.Value) *fallback.Tensor {
	switch {
	case v.IsDouble():
		return fallback.DoubleTensor(v.AsDouble())
	case !v.IsTensor():
		return fallback.ErrorTensor()
	}
	return e.simpleTensor(v.AsTensor())
}

func (e *TensorEngine) simpleTensor(t engine.Tensor) *fallback.Tensor {
	switch t := t.(type) {
	case *Tensor:
		return t.toSimple()
	case *wrapped:
		return t.inner
	default:
		panic(e.mismatch(t))
	}
}

// fromSimple turns a reference result into a value, switching to the dense
// layout whenever the type allows it.
func (e *TensorEngine) fromSimple(s *fallback.Tensor, stash *engine.Stash) engine.Value {
	typ := s.Type()
	switch {
	case typ.IsDouble():
		return stash.Double(s.Cells()[0].Value)
	case typ.IsBoundDense():
		return stash.Tensor(fromSimple(s, stash))
	case typ.IsTensor():
		return stash.Tensor(&wrapped{inner: s})
	}
	return engine.ErrorValue
}

func (e *TensorEngine) toValue(t *Tensor, stash *engine.Stash) engine.Value {
	if t.typ.IsDouble() {
		return stash.Double(t.cells[0])
	}
	return stash.Tensor(t)
}

func (e *TensorEngine) TypeOf(t engine.Tensor) engine.ValueType {
	switch t := t.(type) {
	case *Tensor:
		return t.typ
	case *wrapped:
		return t.inner.Type()
	default:
		panic(e.mismatch(t))
	}
}

func (e *TensorEngine) Equal(a, b engine.Tensor) bool {
	da, aDense := a.(*Tensor)
	db, bDense := b.(*Tensor)
	if aDense && bDense {
		return da.typ.Equal(db.typ) && equalCells(da.cells, db.cells)
	}
	return fallback.Equal(e.simpleTensor(a), e.simpleTensor(b))
}

func (e *TensorEngine) ToString(t engine.Tensor) string {
	switch t := t.(type) {
	case *Tensor:
		return t.String()
	case *wrapped:
		return t.String()
	default:
		panic(e.mismatch(t))
	}
}

func (e *TensorEngine) ToSpec(t engine.Tensor) *engine.TensorSpec {
	switch t := t.(type) {
	case *Tensor:
		return t.spec()
	case *wrapped:
		return t.inner.Spec()
	default:
		panic(e.mismatch(t))
	}
}

func (e *TensorEngine) Create(spec *engine.TensorSpec) (engine.Tensor, error) {
	s, err := fallback.Create(spec)
	if err != nil {
		return nil, fmt.Errorf("creating dense tensor: %w", err)
	}
	if s.Type().IsBoundDense() {
		return fromSimple(s, nil), nil
	}
	return &wrapped{inner: s}, nil
}

func (e *TensorEngine) Encode(v engine.Value, w io.Writer) error {
	engine.CheckEngine(e, v)
	if d, ok := e.asDense(v); ok && d.typ.IsTensor() {
		b := protowire.AppendString(nil, d.typ.ToSpec())
		for _, c := range d.cells {
			b = protowire.AppendFixed64(b, math.Float64bits(c))
		}
		return engine.WriteFrame(w, magicDense, b)
	}
	return engine.WriteFrame(w, magicWrapped, fallback.AppendTensor(nil, e.asSimple(v)))
}

func (e *TensorEngine) Decode(r io.Reader) (engine.Value, error) {
	magic, payload, err := engine.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	d := engine.NewDecoder(payload)
	switch magic {
	case magicDense:
		spec := d.String()
		typ, err := engine.ValueTypeFromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrBadEncoding, err)
		}
		if !typ.IsBoundDense() {
			return nil, fmt.Errorf("%w: dense payload with type %q", engine.ErrBadEncoding, spec)
		}
		n := typ.DenseSize()
		if n > engine.MaxCells {
			return nil, fmt.Errorf("%w: %s has too many cells", engine.ErrBadEncoding, spec)
		}
		if n > len(payload)/8 {
			return nil, fmt.Errorf("%w: truncated dense payload for %s", engine.ErrBadEncoding, spec)
		}
		cells := make([]float64, n)
		for i := range cells {
			cells[i] = math.Float64frombits(d.Fixed64())
		}
		if err := d.Err(); err != nil {
			return nil, err
		}
		return engine.NewTensorValue(&Tensor{typ: typ, cells: cells}), nil
	case magicWrapped:
		s, err := fallback.ConsumeTensor(d)
		if err != nil {
			return nil, err
		}
		if err := d.Err(); err != nil {
			return nil, err
		}
		if typ := s.Type(); typ.IsBoundDense() && typ.DenseSize() > engine.MaxCells {
			return nil, fmt.Errorf("%w: %s has too many cells", engine.ErrBadEncoding, typ)
		}
		return e.fromSimple(s, nil), nil
	}
	return nil, fmt.Errorf("%w: unexpected magic %q", engine.ErrBadEncoding, magic)
}

func (e *TensorEngine) Map(a engine.Value, fn engine.MapFun, stash *engine.Stash) engine.Value {
	if a.IsDouble() {
		return stash.Double(fn(a.AsDouble()))
	}
	if d, ok := e.asDense(a); ok {
		return e.toValue(mapCells(d, fn, stash), stash)
	}
	return e.fromSimple(e.asSimple(a).Map(fn), stash)
}

func (e *TensorEngine) Join(a, b engine.Value, fn engine.JoinFun, stash *engine.Stash) engine.Value {
	if a.IsDouble() && b.IsDouble() {
		return stash.Double(fn(a.AsDouble(), b.AsDouble()))
	}
	da, aDense := e.asDense(a)
	db, bDense := e.asDense(b)
	if aDense && bDense {
		typ := engine.JoinTypes(da.typ, db.typ)
		if typ.IsError() {
			return engine.ErrorValue
		}
		return e.toValue(joinCells(typ, da, db, fn, stash), stash)
	}
	return e.fromSimple(fallback.Join(e.asSimple(a), e.asSimple(b), fn), stash)
}

func (e *TensorEngine) Reduce(a engine.Value, aggr engine.Aggr, dims []string, stash *engine.Stash) engine.Value {
	if d, ok := e.asDense(a); ok {
		typ := d.typ.Reduce(dims)
		switch {
		case typ.IsError():
			return engine.ErrorValue
		case typ.IsDouble():
			return stash.Double(reduceCells(typ, d, aggr)[0])
		}
		return stash.Tensor(&Tensor{typ: typ, cells: reduceCells(typ, d, aggr)})
	}
	return e.fromSimple(e.asSimple(a).Reduce(aggr, dims), stash)
}

func (e *TensorEngine) Concat(a, b engine.Value, dim string, stash *engine.Stash) engine.Value {
	return e.fromSimple(fallback.Concat(e.asSimple(a), e.asSimple(b), dim), stash)
}

func (e *TensorEngine) Rename(a engine.Value, from, to []string, stash *engine.Stash) engine.Value {
	return e.fromSimple(e.asSimple(a).Rename(from, to), stash)
}
