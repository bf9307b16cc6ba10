package engine

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Mapped is the Size of a mapped (sparse) dimension.
const Mapped = uint32(math.MaxUint32)

// Dimension is a named tensor dimension. Size is Mapped for mapped
// dimensions, 0 for indexed dimensions of unknown size and the number of
// cells otherwise.
type Dimension struct {
	Name string
	Size uint32
}

func MappedDimension(name string) Dimension {
	return Dimension{Name: name, Size: Mapped}
}

func IndexedDimension(name string, size uint32) Dimension {
	return Dimension{Name: name, Size: size}
}

func (d Dimension) IsMapped() bool  { return d.Size == Mapped }
func (d Dimension) IsIndexed() bool { return d.Size != Mapped }
func (d Dimension) IsBound() bool   { return d.IsIndexed() && d.Size > 0 }

func (d Dimension) String() string {
	switch {
	case d.IsMapped():
		return d.Name + "{}"
	case d.Size == 0:
		return d.Name + "[]"
	default:
		return d.Name + "[" + strconv.FormatUint(uint64(d.Size), 10) + "]"
	}
}

type typeKind uint8

const (
	kindAny typeKind = iota
	kindError
	kindDouble
	kindTensor
)

// ValueType describes the shape of a Value. The zero value is the "any"
// type, meaning nothing is known statically.
type ValueType struct {
	kind       typeKind
	dimensions []Dimension
}

func AnyType() ValueType    { return ValueType{kind: kindAny} }
func ErrorType() ValueType  { return ValueType{kind: kindError} }
func DoubleType() ValueType { return ValueType{kind: kindDouble} }

// UnknownTensorType is a tensor whose dimensions are not known.
func UnknownTensorType() ValueType { return ValueType{kind: kindTensor} }

// TensorType builds a tensor type; dimensions are sorted by name. A tensor
// without dimensions is a double, and duplicate names give the error type.
func TensorType(dims []Dimension) ValueType {
	if len(dims) == 0 {
		return DoubleType()
	}
	sorted := make([]Dimension, len(dims))
	copy(sorted, dims)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return ErrorType()
		}
	}
	return ValueType{kind: kindTensor, dimensions: sorted}
}

func (t ValueType) IsAny() bool    { return t.kind == kindAny }
func (t ValueType) IsError() bool  { return t.kind == kindError }
func (t ValueType) IsDouble() bool { return t.kind == kindDouble }
func (t ValueType) IsTensor() bool { return t.kind == kindTensor }

// IsUnknown reports whether the type carries no usable shape information.
func (t ValueType) IsUnknown() bool {
	return t.kind == kindAny || (t.kind == kindTensor && len(t.dimensions) == 0)
}

// IsTypedTensor is a tensor with known dimensions.
func (t ValueType) IsTypedTensor() bool {
	return t.kind == kindTensor && len(t.dimensions) > 0
}

// IsDense reports a tensor type where every dimension is indexed.
func (t ValueType) IsDense() bool {
	if !t.IsTypedTensor() {
		return false
	}
	for _, d := range t.dimensions {
		if d.IsMapped() {
			return false
		}
	}
	return true
}

// IsBoundDense is a dense type where every dimension has a known size.
func (t ValueType) IsBoundDense() bool {
	if !t.IsDense() {
		return false
	}
	for _, d := range t.dimensions {
		if !d.IsBound() {
			return false
		}
	}
	return true
}

// IsSparse reports a tensor type where every dimension is mapped.
func (t ValueType) IsSparse() bool {
	if !t.IsTypedTensor() {
		return false
	}
	for _, d := range t.dimensions {
		if d.IsIndexed() {
			return false
		}
	}
	return true
}

// Dimensions returns the dimensions sorted by name. Callers must not modify
// the returned slice.
func (t ValueType) Dimensions() []Dimension { return t.dimensions }

func (t ValueType) DimensionIndex(name string) int {
	for i, d := range t.dimensions {
		if d.Name == name {
			return i
		}
	}
	return -1
}

func (t ValueType) DimensionNames() []string {
	names := make([]string, len(t.dimensions))
	for i, d := range t.dimensions {
		names[i] = d.Name
	}
	return names
}

// MaxCells bounds the number of cells a decoded or generated tensor may have.
const MaxCells = 1 << 26

// DenseSize is the number of cells of a bound dense type (1 for double). It
// saturates at math.MaxInt.
func (t ValueType) DenseSize() int {
	n := uint64(1)
	for _, d := range t.dimensions {
		hi, lo := bits.Mul64(n, uint64(d.Size))
		if hi != 0 || lo > math.MaxInt {
			return math.MaxInt
		}
		n = lo
	}
	return int(n)
}

func (t ValueType) Equal(o ValueType) bool {
	if t.kind != o.kind || len(t.dimensions) != len(o.dimensions) {
		return false
	}
	for i := range t.dimensions {
		if t.dimensions[i] != o.dimensions[i] {
			return false
		}
	}
	return true
}

// Reduce removes the named dimensions. No names means all dimensions.
func (t ValueType) Reduce(dims []string) ValueType {
	switch {
	case t.IsError() || t.IsAny():
		return t
	case t.IsDouble():
		if len(dims) == 0 {
			return t
		}
		return ErrorType()
	case len(t.dimensions) == 0:
		if len(dims) == 0 {
			return DoubleType()
		}
		return AnyType()
	case len(dims) == 0:
		return DoubleType()
	}
	for _, name := range dims {
		if t.DimensionIndex(name) < 0 {
			return ErrorType()
		}
	}
	var kept []Dimension
	for _, d := range t.dimensions {
		if !slices.Contains(dims, d.Name) {
			kept = append(kept, d)
		}
	}
	return TensorType(kept)
}

// Rename relabels dimensions pairwise from -> to.
func (t ValueType) Rename(from, to []string) ValueType {
	if len(from) == 0 || len(from) != len(to) {
		return ErrorType()
	}
	switch {
	case t.IsError() || t.IsAny():
		return t
	case t.IsDouble():
		return ErrorType()
	case len(t.dimensions) == 0:
		return UnknownTensorType()
	}
	for _, name := range from {
		if t.DimensionIndex(name) < 0 {
			return ErrorType()
		}
	}
	dims := make([]Dimension, len(t.dimensions))
	for i, d := range t.dimensions {
		dims[i] = d
		for j, name := range from {
			if name == d.Name {
				dims[i].Name = to[j]
			}
		}
	}
	return TensorType(dims)
}

func unifyDimension(a, b Dimension) (Dimension, bool) {
	if a.IsMapped() != b.IsMapped() {
		return Dimension{}, false
	}
	if a.IsMapped() || a.Size == b.Size {
		return a, true
	}
	if a.Size == 0 || b.Size == 0 {
		return IndexedDimension(a.Name, 0), true
	}
	return Dimension{}, false
}

// JoinTypes gives the result type of joining values of type a and b.
func JoinTypes(a, b ValueType) ValueType {
	switch {
	case a.IsError() || b.IsError():
		return ErrorType()
	case a.IsAny() || b.IsAny():
		return AnyType()
	case a.IsDouble():
		return b
	case b.IsDouble():
		return a
	case len(a.dimensions) == 0 || len(b.dimensions) == 0:
		return UnknownTensorType()
	}
	dims := make([]Dimension, 0, len(a.dimensions)+len(b.dimensions))
	i, j := 0, 0
	for i < len(a.dimensions) || j < len(b.dimensions) {
		switch {
		case j == len(b.dimensions) || (i < len(a.dimensions) && a.dimensions[i].Name < b.dimensions[j].Name):
			dims = append(dims, a.dimensions[i])
			i++
		case i == len(a.dimensions) || b.dimensions[j].Name < a.dimensions[i].Name:
			dims = append(dims, b.dimensions[j])
			j++
		default:
			d, ok := unifyDimension(a.dimensions[i], b.dimensions[j])
			if !ok {
				return ErrorType()
			}
			dims = append(dims, d)
			i++
			j++
		}
	}
	return ValueType{kind: kindTensor, dimensions: dims}
}

// ConcatTypes gives the result type of concatenating a and b along dim.
// A value without dim counts as size 1 along it.
func ConcatTypes(a, b ValueType, dim string) ValueType {
	switch {
	case a.IsError() || b.IsError():
		return ErrorType()
	case a.IsAny() || b.IsAny():
		return AnyType()
	case (a.IsTensor() && len(a.dimensions) == 0) || (b.IsTensor() && len(b.dimensions) == 0):
		return UnknownTensorType()
	}
	sizeOf := func(t ValueType) (uint32, bool) {
		idx := t.DimensionIndex(dim)
		if idx < 0 {
			return 1, true
		}
		d := t.dimensions[idx]
		return d.Size, d.IsIndexed()
	}
	sa, okA := sizeOf(a)
	sb, okB := sizeOf(b)
	if !okA || !okB {
		return ErrorType()
	}
	strip := func(t ValueType) ValueType {
		var dims []Dimension
		for _, d := range t.dimensions {
			if d.Name != dim {
				dims = append(dims, d)
			}
		}
		return TensorType(dims)
	}
	joined := JoinTypes(strip(a), strip(b))
	if joined.IsError() {
		return joined
	}
	size := uint64(sa) + uint64(sb)
	if sa == 0 || sb == 0 {
		size = 0
	}
	if size >= uint64(Mapped) {
		return ErrorType()
	}
	dims := append([]Dimension{IndexedDimension(dim, uint32(size))}, joined.dimensions...)
	return TensorType(dims)
}

func (t ValueType) String() string { return t.ToSpec() }

// ToSpec renders the type in the textual form accepted by ValueTypeFromSpec.
func (t ValueType) ToSpec() string {
	switch t.kind {
	case kindError:
		return "error"
	case kindDouble:
		return "double"
	case kindTensor:
		if len(t.dimensions) == 0 {
			return "tensor"
		}
		parts := make([]string, len(t.dimensions))
		for i, d := range t.dimensions {
			parts[i] = d.String()
		}
		return "tensor(" + strings.Join(parts, ",") + ")"
	default:
		return "any"
	}
}

// ValueTypeFromSpec parses a type spec such as "tensor(x{},y[3])".
func ValueTypeFromSpec(spec string) (ValueType, error) {
	s := strings.TrimSpace(spec)
	switch s {
	case "any":
		return AnyType(), nil
	case "error":
		return ErrorType(), nil
	case "double":
		return DoubleType(), nil
	case "tensor":
		return UnknownTensorType(), nil
	}
	if !strings.HasPrefix(s, "tensor(") || !strings.HasSuffix(s, ")") {
		return ErrorType(), fmt.Errorf("invalid type spec %q", spec)
	}
	body := strings.TrimSpace(s[len("tensor(") : len(s)-1])
	if body == "" {
		return DoubleType(), nil
	}
	var dims []Dimension
	for _, part := range strings.Split(body, ",") {
		d, err := parseDimension(strings.TrimSpace(part))
		if err != nil {
			return ErrorType(), fmt.Errorf("invalid type spec %q: %w", spec, err)
		}
		dims = append(dims, d)
	}
	t := TensorType(dims)
	if t.IsError() {
		return t, fmt.Errorf("invalid type spec %q: duplicate dimension", spec)
	}
	return t, nil
}

func parseDimension(s string) (Dimension, error) {
	switch {
	case strings.HasSuffix(s, "{}"):
		name := strings.TrimSuffix(s, "{}")
		if !IsIdentifier(name) {
			return Dimension{}, fmt.Errorf("bad dimension name %q", name)
		}
		return MappedDimension(name), nil
	case strings.HasSuffix(s, "]"):
		open := strings.IndexByte(s, '[')
		if open < 0 {
			return Dimension{}, fmt.Errorf("bad dimension %q", s)
		}
		name := s[:open]
		if !IsIdentifier(name) {
			return Dimension{}, fmt.Errorf("bad dimension name %q", name)
		}
		sizeText := s[open+1 : len(s)-1]
		if sizeText == "" {
			return IndexedDimension(name, 0), nil
		}
		size, err := strconv.ParseUint(sizeText, 10, 32)
		if err != nil || size == 0 || size == uint64(Mapped) {
			return Dimension{}, fmt.Errorf("bad dimension size %q", sizeText)
		}
		return IndexedDimension(name, uint32(size)), nil
	}
	return Dimension{}, fmt.Errorf("bad dimension %q", s)
}

// IsIdentifier reports whether s is a valid parameter or dimension name.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && ((c >= '0' && c <= '9') || c == '$' || c == '@' || c == '.'):
		default:
			return false
		}
	}
	return true
}
