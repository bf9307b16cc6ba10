package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Label is a coordinate along one dimension: an index for indexed dimensions
// or a name for mapped ones.
type Label struct {
	Index uint32
	Name  string
	// Mapped is set for name labels.
	Mapped bool
}

func Idx(i uint32) Label    { return Label{Index: i} }
func Lbl(name string) Label { return Label{Name: name, Mapped: true} }

func (l Label) String() string {
	if l.Mapped {
		return l.Name
	}
	return strconv.FormatUint(uint64(l.Index), 10)
}

// Address binds dimension names to labels.
type Address map[string]Label

// key is the canonical form of an address; it orders addresses by dimension
// name and then label.
func (a Address) key() string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		l := a[name]
		b.WriteString(name)
		b.WriteByte(':')
		if l.Mapped {
			b.WriteByte('m')
			b.WriteString(l.Name)
		} else {
			fmt.Fprintf(&b, "i%010d", l.Index)
		}
		b.WriteByte(0)
	}
	return b.String()
}

func (a Address) String() string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ":" + a[name].String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type SpecCell struct {
	Address Address
	Value   float64
}

// TensorSpec is the engine independent description of a tensor: a type and
// the value of each cell. Cells with the same address overwrite each other.
type TensorSpec struct {
	typ   string
	cells map[string]SpecCell
}

func NewTensorSpec(typ string) *TensorSpec {
	return &TensorSpec{typ: typ, cells: make(map[string]SpecCell)}
}

func (s *TensorSpec) Type() string { return s.typ }

func (s *TensorSpec) Add(addr Address, value float64) *TensorSpec {
	copied := make(Address, len(addr))
	for k, v := range addr {
		copied[k] = v
	}
	s.cells[copied.key()] = SpecCell{Address: copied, Value: value}
	return s
}

func (s *TensorSpec) Len() int { return len(s.cells) }

// Cells returns the cells in canonical address order.
func (s *TensorSpec) Cells() []SpecCell {
	keys := make([]string, 0, len(s.cells))
	for k := range s.cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]SpecCell, len(keys))
	for i, k := range keys {
		out[i] = s.cells[k]
	}
	return out
}

// Equal compares type and cells. NaN cells compare equal to NaN.
func (s *TensorSpec) Equal(o *TensorSpec) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.typ != o.typ || len(s.cells) != len(o.cells) {
		return false
	}
	for k, c := range s.cells {
		oc, ok := o.cells[k]
		if !ok {
			return false
		}
		if c.Value != oc.Value && !(math.IsNaN(c.Value) && math.IsNaN(oc.Value)) {
			return false
		}
	}
	return true
}

func (s *TensorSpec) String() string {
	var b strings.Builder
	b.WriteString("spec(")
	b.WriteString(s.typ)
	b.WriteString(") {\n")
	for _, cell := range s.Cells() {
		fmt.Fprintf(&b, "  %s: %g\n", cell.Address, cell.Value)
	}
	b.WriteString("}")
	return b.String()
}

// ResolveSpecType parses the spec type and binds indexed dimensions of unknown
// size to one past the highest index used by any cell. Every cell address must
// cover exactly the dimensions of the type with labels of the right kind.
func ResolveSpecType(spec *TensorSpec) (ValueType, error) {
	t, err := ValueTypeFromSpec(spec.Type())
	if err != nil {
		return t, err
	}
	if t.IsAny() || t.IsError() || (t.IsTensor() && len(t.Dimensions()) == 0) {
		return t, fmt.Errorf("cannot create value of type %q", spec.Type())
	}
	dims := make([]Dimension, len(t.Dimensions()))
	copy(dims, t.Dimensions())
	for _, cell := range spec.cells {
		if len(cell.Address) != len(dims) {
			return t, fmt.Errorf("cell %s does not match type %s", cell.Address, spec.Type())
		}
		for i, d := range dims {
			l, ok := cell.Address[d.Name]
			if !ok || l.Mapped != d.IsMapped() {
				return t, fmt.Errorf("cell %s does not match type %s", cell.Address, spec.Type())
			}
			if t.Dimensions()[i].Size == 0 && l.Index >= d.Size {
				dims[i].Size = l.Index + 1
			}
			if d.IsBound() && t.Dimensions()[i].Size != 0 && l.Index >= d.Size {
				return t, fmt.Errorf("cell %s out of bounds for type %s", cell.Address, spec.Type())
			}
		}
	}
	subspace := uint64(1)
	for _, d := range dims {
		if d.IsIndexed() && d.Size == 0 {
			return t, fmt.Errorf("cannot bind size of dimension %q", d.Name)
		}
		if d.IsIndexed() {
			subspace = min(subspace*uint64(d.Size), MaxCells+1)
		}
	}
	if subspace > MaxCells {
		return t, fmt.Errorf("dense subspace of %s has more than %d cells", spec.Type(), MaxCells)
	}
	if t.IsDouble() {
		return t, nil
	}
	return TensorType(dims), nil
}
