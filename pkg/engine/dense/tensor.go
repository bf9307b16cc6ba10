package dense

import (
	"fmt"
	"math"
	"strings"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/engine/fallback"
)

// Tensor stores the cells of a bound dense type in row-major order over the
// dimensions sorted by name.
type Tensor struct {
	typ   engine.ValueType
	cells []float64
}

var _ engine.Tensor = &Tensor{}

func (t *Tensor) Engine() engine.TensorEngine { return Engine }

func (t *Tensor) Type() engine.ValueType { return t.typ }

// Cells returns the row-major cells. Callers must not modify them.
func (t *Tensor) Cells() []float64 { return t.cells }

// NewTensor builds a dense tensor; typ must be bound dense and cells must
// have one value per cell.
func NewTensor(typ engine.ValueType, cells []float64) (*Tensor, error) {
	if !typ.IsBoundDense() {
		return nil, fmt.Errorf("type %s is not bound dense", typ)
	}
	if len(cells) != typ.DenseSize() {
		return nil, fmt.Errorf("type %s needs %d cells, got %d", typ, typ.DenseSize(), len(cells))
	}
	return &Tensor{typ: typ, cells: cells}, nil
}

// strides gives the row-major stride of each dimension of typ.
func strides(typ engine.ValueType) []int {
	dims := typ.Dimensions()
	out := make([]int, len(dims))
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		out[i] = stride
		stride *= int(dims[i].Size)
	}
	return out
}

// stridesIn gives, for each dimension of typ, the stride of the dimension
// with the same name in other, or 0 when other does not have it.
func stridesIn(typ, other engine.ValueType) []int {
	otherStrides := strides(other)
	dims := typ.Dimensions()
	out := make([]int, len(dims))
	for i, d := range dims {
		if j := other.DimensionIndex(d.Name); j >= 0 {
			out[i] = otherStrides[j]
		}
	}
	return out
}

// walk visits every cell of typ in row-major order, tracking an offset into
// each of the operands described by operandStrides.
func walk(typ engine.ValueType, operandStrides [][]int, visit func(offsets []int)) {
	dims := typ.Dimensions()
	idx := make([]uint32, len(dims))
	offsets := make([]int, len(operandStrides))
	for {
		visit(offsets)
		k := len(dims) - 1
		for ; k >= 0; k-- {
			idx[k]++
			for o, s := range operandStrides {
				offsets[o] += s[k]
			}
			if idx[k] < dims[k].Size {
				break
			}
			for o, s := range operandStrides {
				offsets[o] -= s[k] * int(dims[k].Size)
			}
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}

func mapCells(t *Tensor, fn engine.MapFun, stash *engine.Stash) *Tensor {
	cells := stash.Cells(len(t.cells))
	for i, v := range t.cells {
		cells[i] = fn(v)
	}
	return &Tensor{typ: t.typ, cells: cells}
}

// joinCells joins two dense operands. A double operand has type double and a
// single cell.
func joinCells(typ engine.ValueType, a, b *Tensor, fn engine.JoinFun, stash *engine.Stash) *Tensor {
	cells := stash.Cells(typ.DenseSize())
	i := 0
	walk(typ, [][]int{stridesIn(typ, a.typ), stridesIn(typ, b.typ)}, func(off []int) {
		cells[i] = fn(a.cells[off[0]], b.cells[off[1]])
		i++
	})
	return &Tensor{typ: typ, cells: cells}
}

// reduceCells aggregates a dense tensor into typ, which must be a subset of
// its dimensions.
func reduceCells(typ engine.ValueType, a *Tensor, aggr engine.Aggr) []float64 {
	n := 1
	if typ.IsTensor() {
		n = typ.DenseSize()
	}
	aggrs := make([]engine.Aggregator, n)
	for i := range aggrs {
		aggrs[i] = engine.NewAggregator(aggr)
	}
	target := stridesIn(a.typ, typ)
	walk(a.typ, [][]int{strides(a.typ), target}, func(off []int) {
		aggrs[off[1]].Add(a.cells[off[0]])
	})
	out := make([]float64, n)
	for i := range aggrs {
		out[i] = aggrs[i].Result()
	}
	return out
}

func equalCells(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] && !(math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}

// toSimple converts t to a reference tensor.
func (t *Tensor) toSimple() *fallback.Tensor {
	dims := t.typ.Dimensions()
	cells := make([]fallback.Cell, 0, len(t.cells))
	idx := make([]uint32, len(dims))
	for _, v := range t.cells {
		labels := make([]engine.Label, len(dims))
		for k := range dims {
			labels[k] = engine.Idx(idx[k])
		}
		cells = append(cells, fallback.Cell{Labels: labels, Value: v})
		for k := len(dims) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < dims[k].Size {
				break
			}
			idx[k] = 0
		}
	}
	return fallback.NewTensor(t.typ, cells)
}

// fromSimple converts a bound dense reference tensor.
func fromSimple(s *fallback.Tensor, stash *engine.Stash) *Tensor {
	typ := s.Type()
	st := strides(typ)
	cells := stash.Cells(typ.DenseSize())
	for _, c := range s.Cells() {
		off := 0
		for k, l := range c.Labels {
			off += int(l.Index) * st[k]
		}
		cells[off] = c.Value
	}
	return &Tensor{typ: typ, cells: cells}
}

func (t *Tensor) spec() *engine.TensorSpec {
	return t.toSimple().Spec()
}

func (t *Tensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dense(%s) {\n", t.typ.ToSpec())
	for i, v := range t.cells {
		fmt.Fprintf(&b, "  [%d]: %g\n", i, v)
	}
	b.WriteString("}")
	return b.String()
}

// wrapped is a reference tensor owned by the dense engine, used for types the
// dense layout cannot hold.
type wrapped struct {
	inner *fallback.Tensor
}

func (w *wrapped) Engine() engine.TensorEngine { return Engine }

func (w *wrapped) String() string { return w.inner.Format("wrapped") }
