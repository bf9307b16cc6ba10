package fallback

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// Cell is one value of a tensor. Labels are in the dimension order of the
// tensor type.
type Cell struct {
	Labels []engine.Label
	Value  float64
}

// Tensor is a list of cells. It supports any mix of mapped and indexed
// dimensions; dense subspaces are always fully populated. Cells are kept in
// label order.
type Tensor struct {
	typ   engine.ValueType
	cells []Cell
}

var _ engine.Tensor = &Tensor{}

func (t *Tensor) Engine() engine.TensorEngine { return Engine }

func (t *Tensor) Type() engine.ValueType { return t.typ }

// Cells returns the cells in label order. Callers must not modify them.
func (t *Tensor) Cells() []Cell { return t.cells }

// NewTensor builds a tensor from cells whose labels follow the dimension order
// of typ. It takes ownership of cells.
func NewTensor(typ engine.ValueType, cells []Cell) *Tensor {
	return newTensor(typ, cells)
}

func newTensor(typ engine.ValueType, cells []Cell) *Tensor {
	slices.SortFunc(cells, func(a, b Cell) int { return compareLabels(a.Labels, b.Labels) })
	return &Tensor{typ: typ, cells: cells}
}

// DoubleTensor is a tensor without dimensions holding v.
func DoubleTensor(v float64) *Tensor {
	return &Tensor{typ: engine.DoubleType(), cells: []Cell{{Value: v}}}
}

// ErrorTensor is a tensor of the error type.
func ErrorTensor() *Tensor {
	return &Tensor{typ: engine.ErrorType()}
}

func compareLabel(a, b engine.Label) int {
	if a.Mapped || b.Mapped {
		return strings.Compare(a.Name, b.Name)
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

func compareLabels(a, b []engine.Label) int {
	for i := range a {
		if c := compareLabel(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// appendKey appends the labels at positions idx to buf as a map key.
func appendKey(buf []byte, labels []engine.Label, idx []int) []byte {
	for _, i := range idx {
		l := labels[i]
		if l.Mapped {
			buf = append(buf, 'm')
			buf = append(buf, l.Name...)
		} else {
			buf = append(buf, 'i')
			buf = strconv.AppendUint(buf, uint64(l.Index), 10)
		}
		buf = append(buf, 0)
	}
	return buf
}

func allPositions(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Create builds a tensor from its structural form. Missing cells of dense
// subspaces are filled with zeros.
func Create(spec *engine.TensorSpec) (*Tensor, error) {
	typ, err := engine.ResolveSpecType(spec)
	if err != nil {
		return nil, err
	}
	dims := typ.Dimensions()
	var mappedPos, indexedPos []int
	for i, d := range dims {
		if d.IsMapped() {
			mappedPos = append(mappedPos, i)
		} else {
			indexedPos = append(indexedPos, i)
		}
	}

	values := make(map[string]float64)
	subspaces := make(map[string][]engine.Label)
	var subspaceOrder []string
	all := allPositions(len(dims))
	for _, sc := range spec.Cells() {
		labels := make([]engine.Label, len(dims))
		for i, d := range dims {
			labels[i] = sc.Address[d.Name]
		}
		values[string(appendKey(nil, labels, all))] = sc.Value
		skey := string(appendKey(nil, labels, mappedPos))
		if _, ok := subspaces[skey]; !ok {
			subspaces[skey] = labels
			subspaceOrder = append(subspaceOrder, skey)
		}
	}
	if len(mappedPos) == 0 && len(subspaceOrder) == 0 {
		subspaces[""] = make([]engine.Label, len(dims))
		subspaceOrder = append(subspaceOrder, "")
	}

	var cells []Cell
	for _, skey := range subspaceOrder {
		base := subspaces[skey]
		odometer := make([]uint32, len(indexedPos))
		for {
			labels := make([]engine.Label, len(dims))
			for _, p := range mappedPos {
				labels[p] = base[p]
			}
			for k, p := range indexedPos {
				labels[p] = engine.Idx(odometer[k])
			}
			cells = append(cells, Cell{Labels: labels, Value: values[string(appendKey(nil, labels, all))]})
			if !advance(odometer, dims, indexedPos) {
				break
			}
		}
	}
	return newTensor(typ, cells), nil
}

func advance(odometer []uint32, dims []engine.Dimension, pos []int) bool {
	for k := len(odometer) - 1; k >= 0; k-- {
		odometer[k]++
		if odometer[k] < dims[pos[k]].Size {
			return true
		}
		odometer[k] = 0
	}
	return false
}

// Spec returns the structural form of t.
func (t *Tensor) Spec() *engine.TensorSpec {
	spec := engine.NewTensorSpec(t.typ.ToSpec())
	dims := t.typ.Dimensions()
	for _, c := range t.cells {
		addr := make(engine.Address, len(dims))
		for i, d := range dims {
			addr[d.Name] = c.Labels[i]
		}
		spec.Add(addr, c.Value)
	}
	return spec
}

// Equal compares type and cells; NaN equals NaN.
func Equal(a, b *Tensor) bool {
	if !a.typ.Equal(b.typ) || len(a.cells) != len(b.cells) {
		return false
	}
	for i := range a.cells {
		ca, cb := a.cells[i], b.cells[i]
		if compareLabels(ca.Labels, cb.Labels) != 0 {
			return false
		}
		if ca.Value != cb.Value && !(math.IsNaN(ca.Value) && math.IsNaN(cb.Value)) {
			return false
		}
	}
	return true
}

// Format renders t with the given name, e.g. "simple(tensor(x[2])) {...}".
func (t *Tensor) Format(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s) {\n", name, t.typ.ToSpec())
	for _, c := range t.cells {
		b.WriteString("  [")
		for i, l := range c.Labels {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(l.String())
		}
		fmt.Fprintf(&b, "]: %g\n", c.Value)
	}
	b.WriteString("}")
	return b.String()
}

func (t *Tensor) String() string { return t.Format("simple") }

// Map applies fn to every cell.
func (t *Tensor) Map(fn engine.MapFun) *Tensor {
	if t.typ.IsError() {
		return t
	}
	cells := make([]Cell, len(t.cells))
	for i, c := range t.cells {
		cells[i] = Cell{Labels: c.Labels, Value: fn(c.Value)}
	}
	return &Tensor{typ: t.typ, cells: cells}
}

// positions maps each dimension of typ to its index in other, or -1.
func positions(typ, other engine.ValueType) []int {
	dims := typ.Dimensions()
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = other.DimensionIndex(d.Name)
	}
	return out
}

// sharedPositions lists, for the dimensions a and b have in common (except
// skip), their positions in a and in b.
func sharedPositions(a, b engine.ValueType, skip string) (inA, inB []int) {
	for i, d := range a.Dimensions() {
		if d.Name == skip {
			continue
		}
		if j := b.DimensionIndex(d.Name); j >= 0 {
			inA = append(inA, i)
			inB = append(inB, j)
		}
	}
	return inA, inB
}

func indexCells(t *Tensor, pos []int) map[string][]int {
	index := make(map[string][]int)
	var buf []byte
	for i, c := range t.cells {
		buf = appendKey(buf[:0], c.Labels, pos)
		index[string(buf)] = append(index[string(buf)], i)
	}
	return index
}

// Join combines every pair of cells that agree on the shared dimensions.
func Join(a, b *Tensor, fn engine.JoinFun) *Tensor {
	typ := engine.JoinTypes(a.typ, b.typ)
	if typ.IsError() || a.typ.IsError() || b.typ.IsError() {
		return ErrorTensor()
	}
	fromA := positions(typ, a.typ)
	fromB := positions(typ, b.typ)
	sharedA, sharedB := sharedPositions(a.typ, b.typ, "")
	index := indexCells(b, sharedB)

	var cells []Cell
	var buf []byte
	for _, ca := range a.cells {
		buf = appendKey(buf[:0], ca.Labels, sharedA)
		for _, j := range index[string(buf)] {
			cb := b.cells[j]
			labels := make([]engine.Label, len(fromA))
			for i := range labels {
				if fromA[i] >= 0 {
					labels[i] = ca.Labels[fromA[i]]
				} else {
					labels[i] = cb.Labels[fromB[i]]
				}
			}
			cells = append(cells, Cell{Labels: labels, Value: fn(ca.Value, cb.Value)})
		}
	}
	return newTensor(typ, cells)
}

// Reduce aggregates away dims, or every dimension if dims is empty.
func (t *Tensor) Reduce(aggr engine.Aggr, dims []string) *Tensor {
	typ := t.typ.Reduce(dims)
	if typ.IsError() || t.typ.IsError() {
		return ErrorTensor()
	}
	keep := make([]int, 0, len(typ.Dimensions()))
	for _, d := range typ.Dimensions() {
		keep = append(keep, t.typ.DimensionIndex(d.Name))
	}

	groups := make(map[string]int)
	var labels [][]engine.Label
	var aggrs []engine.Aggregator
	var buf []byte
	for _, c := range t.cells {
		buf = appendKey(buf[:0], c.Labels, keep)
		g, ok := groups[string(buf)]
		if !ok {
			g = len(aggrs)
			groups[string(buf)] = g
			l := make([]engine.Label, len(keep))
			for i, p := range keep {
				l[i] = c.Labels[p]
			}
			labels = append(labels, l)
			aggrs = append(aggrs, engine.NewAggregator(aggr))
		}
		aggrs[g].Add(c.Value)
	}
	if len(aggrs) == 0 && typ.IsDouble() {
		return DoubleTensor(0)
	}
	cells := make([]Cell, len(aggrs))
	for i := range aggrs {
		cells[i] = Cell{Labels: labels[i], Value: aggrs[i].Result()}
	}
	return newTensor(typ, cells)
}

// Concat appends b after a along dim. Values without dim count as size 1
// along it; the other dimensions are joined.
func Concat(a, b *Tensor, dim string) *Tensor {
	typ := engine.ConcatTypes(a.typ, b.typ, dim)
	if typ.IsError() || a.typ.IsError() || b.typ.IsError() {
		return ErrorTensor()
	}
	offset := uint32(1)
	if i := a.typ.DimensionIndex(dim); i >= 0 {
		offset = a.typ.Dimensions()[i].Size
	}
	fromA := positions(typ, a.typ)
	fromB := positions(typ, b.typ)
	sharedA, sharedB := sharedPositions(a.typ, b.typ, dim)
	index := indexCells(b, sharedB)

	build := func(primary Cell, primaryPos []int, secondary Cell, secondaryPos []int, shift uint32) Cell {
		labels := make([]engine.Label, len(primaryPos))
		for i, d := range typ.Dimensions() {
			switch {
			case d.Name == dim:
				idx := uint32(0)
				if primaryPos[i] >= 0 {
					idx = primary.Labels[primaryPos[i]].Index
				}
				labels[i] = engine.Idx(idx + shift)
			case primaryPos[i] >= 0:
				labels[i] = primary.Labels[primaryPos[i]]
			default:
				labels[i] = secondary.Labels[secondaryPos[i]]
			}
		}
		return Cell{Labels: labels, Value: primary.Value}
	}

	seen := make(map[string]int)
	var cells []Cell
	add := func(c Cell) {
		key := string(appendKey(nil, c.Labels, allPositions(len(c.Labels))))
		if i, ok := seen[key]; ok {
			cells[i] = c
			return
		}
		seen[key] = len(cells)
		cells = append(cells, c)
	}
	var buf []byte
	for _, ca := range a.cells {
		buf = appendKey(buf[:0], ca.Labels, sharedA)
		for _, j := range index[string(buf)] {
			cb := b.cells[j]
			add(build(ca, fromA, cb, fromB, 0))
			add(build(cb, fromB, ca, fromA, offset))
		}
	}
	return newTensor(typ, cells)
}

// Rename relabels dimensions pairwise.
func (t *Tensor) Rename(from, to []string) *Tensor {
	typ := t.typ.Rename(from, to)
	if typ.IsError() || t.typ.IsError() {
		return ErrorTensor()
	}
	src := make([]int, len(typ.Dimensions()))
	for i, d := range typ.Dimensions() {
		name := d.Name
		for j, n := range to {
			if n == d.Name {
				name = from[j]
			}
		}
		src[i] = t.typ.DimensionIndex(name)
	}
	cells := make([]Cell, len(t.cells))
	for k, c := range t.cells {
		labels := make([]engine.Label, len(src))
		for i, p := range src {
			labels[i] = c.Labels[p]
		}
		cells[k] = Cell{Labels: labels, Value: c.Value}
	}
	return newTensor(typ, cells)
}
