package calc

import (
	"fmt"
	"strconv"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// SpecFromInline converts request data into a tensor spec, checking every
// cell address against the declared type.
func SpecFromInline(d *api.InlineData) (*engine.TensorSpec, error) {
	typ, err := engine.ValueTypeFromSpec(d.Type)
	if err != nil {
		return nil, err
	}
	if !typ.IsDouble() && !typ.IsTensor() {
		return nil, fmt.Errorf("type %q cannot hold data", d.Type)
	}
	dims := typ.Dimensions()

	spec := engine.NewTensorSpec(typ.ToSpec())
	for i, cell := range d.Cells {
		if len(cell.Address) != len(dims) {
			return nil, fmt.Errorf("cell %d: address has %d labels, type %s has %d dimensions", i, len(cell.Address), typ, len(dims))
		}
		addr := make(engine.Address, len(dims))
		for _, dim := range dims {
			label, found := cell.Address[dim.Name]
			if !found {
				return nil, fmt.Errorf("cell %d: no label for dimension %q", i, dim.Name)
			}
			if dim.IsMapped() {
				addr[dim.Name] = engine.Lbl(label)
				continue
			}
			idx, err := strconv.ParseUint(label, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("cell %d: label %q of indexed dimension %q is not an index", i, label, dim.Name)
			}
			if dim.IsBound() && uint32(idx) >= dim.Size {
				return nil, fmt.Errorf("cell %d: index %d out of range for %s", i, idx, dim)
			}
			addr[dim.Name] = engine.Idx(uint32(idx))
		}
		spec.Add(addr, cell.Value)
	}
	return spec, nil
}

// InlineFromValue converts a result into request data. The error value
// becomes a tensor of type "error" without cells.
func InlineFromValue(v engine.Value) *api.InlineData {
	spec := engine.ValueToSpec(v)
	out := &api.InlineData{Type: spec.Type()}
	for _, cell := range spec.Cells() {
		c := api.Cell{Value: cell.Value}
		if len(cell.Address) != 0 {
			c.Address = make(map[string]string, len(cell.Address))
			for name, label := range cell.Address {
				c.Address[name] = label.String()
			}
		}
		out.Cells = append(out.Cells, c)
	}
	return out
}
