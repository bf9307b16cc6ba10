package fallback

import (
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

const magicSimple = 'S'

// AppendTensor appends the binary form of t: type spec, cell count, then per
// cell its labels and value bits.
func AppendTensor(b []byte, t *Tensor) []byte {
	b = protowire.AppendString(b, t.typ.ToSpec())
	b = protowire.AppendVarint(b, uint64(len(t.cells)))
	for _, c := range t.cells {
		for _, l := range c.Labels {
			if l.Mapped {
				b = protowire.AppendString(b, l.Name)
			} else {
				b = protowire.AppendVarint(b, uint64(l.Index))
			}
		}
		b = protowire.AppendFixed64(b, math.Float64bits(c.Value))
	}
	return b
}

// ConsumeTensor reads a tensor written by AppendTensor.
func ConsumeTensor(d *engine.Decoder) (*Tensor, error) {
	spec := d.String()
	if err := d.Failed(); err != nil {
		return nil, err
	}
	typ, err := engine.ValueTypeFromSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrBadEncoding, err)
	}
	if typ.IsAny() || (typ.IsTensor() && len(typ.Dimensions()) == 0) {
		return nil, fmt.Errorf("%w: unusable type %q", engine.ErrBadEncoding, spec)
	}
	dims := typ.Dimensions()
	n := d.Varint()
	if n > engine.MaxCells {
		return nil, fmt.Errorf("%w: %d cells", engine.ErrBadEncoding, n)
	}
	cells := make([]Cell, 0, min(n, 1024))
	for i := uint64(0); i < n && d.Failed() == nil; i++ {
		labels := make([]engine.Label, len(dims))
		for j, dim := range dims {
			if dim.IsMapped() {
				labels[j] = engine.Lbl(d.String())
				continue
			}
			idx := d.Varint()
			if idx >= uint64(dim.Size) {
				return nil, fmt.Errorf("%w: index %d out of range for %s", engine.ErrBadEncoding, idx, dim)
			}
			labels[j] = engine.Idx(uint32(idx))
		}
		cells = append(cells, Cell{Labels: labels, Value: math.Float64frombits(d.Fixed64())})
	}
	if err := d.Failed(); err != nil {
		return nil, err
	}
	if typ.IsDouble() && len(cells) != 1 {
		return nil, fmt.Errorf("%w: double with %d cells", engine.ErrBadEncoding, len(cells))
	}
	t := newTensor(typ, cells)
	if err := checkSubspaces(t); err != nil {
		return nil, err
	}
	return t, nil
}

// checkSubspaces rejects duplicate cells and dense subspaces that are not
// fully populated.
func checkSubspaces(t *Tensor) error {
	if !t.typ.IsTensor() {
		return nil
	}
	var mappedPos []int
	subspace := uint64(1)
	for i, d := range t.typ.Dimensions() {
		if d.IsMapped() {
			mappedPos = append(mappedPos, i)
			continue
		}
		subspace = min(subspace*uint64(d.Size), engine.MaxCells+1)
	}
	for i := 1; i < len(t.cells); i++ {
		if compareLabels(t.cells[i-1].Labels, t.cells[i].Labels) == 0 {
			return fmt.Errorf("%w: duplicate cell in %s", engine.ErrBadEncoding, t.typ)
		}
	}
	if len(mappedPos) == 0 {
		if uint64(len(t.cells)) != subspace {
			return fmt.Errorf("%w: %s with %d cells", engine.ErrBadEncoding, t.typ, len(t.cells))
		}
		return nil
	}
	counts := make(map[string]uint64)
	for _, c := range t.cells {
		counts[string(appendKey(nil, c.Labels, mappedPos))]++
	}
	for _, n := range counts {
		if n != subspace {
			return fmt.Errorf("%w: partial dense subspace in %s", engine.ErrBadEncoding, t.typ)
		}
	}
	return nil
}

// EncodeTensor writes t as a self describing frame.
func EncodeTensor(w io.Writer, t *Tensor) error {
	return engine.WriteFrame(w, magicSimple, AppendTensor(nil, t))
}

// DecodeTensor reads a frame written by EncodeTensor.
func DecodeTensor(r io.Reader) (*Tensor, error) {
	magic, payload, err := engine.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if magic != magicSimple {
		return nil, fmt.Errorf("%w: unexpected magic %q", engine.ErrBadEncoding, magic)
	}
	d := engine.NewDecoder(payload)
	t, err := ConsumeTensor(d)
	if err != nil {
		return nil, err
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
