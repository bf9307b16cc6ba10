package dense

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

func vector(t *testing.T, values ...float64) engine.Value {
	t.Helper()
	spec := engine.NewTensorSpec("tensor(x[" + strconv.Itoa(len(values)) + "])")
	for i, v := range values {
		spec.Add(engine.Address{"x": engine.Idx(uint32(i))}, v)
	}
	tensor, err := Engine.Create(spec)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return engine.NewTensorValue(tensor)
}

func TestCreateChoosesLayout(t *testing.T) {
	v := vector(t, 1, 2, 3)
	if _, ok := v.AsTensor().(*Tensor); !ok {
		t.Errorf("expected dense layout for %s", v.Type())
	}

	sparse, err := Engine.Create(engine.NewTensorSpec("tensor(x{})").Add(engine.Address{"x": engine.Lbl("a")}, 1))
	if err != nil {
		t.Fatalf("failed to create sparse tensor: %v", err)
	}
	if _, ok := sparse.(*wrapped); !ok {
		t.Errorf("expected wrapped layout for sparse tensor")
	}
}

func TestNativeJoinReduce(t *testing.T) {
	stash := engine.NewStash()
	a := vector(t, 5, 3, 2)
	b := vector(t, 7, 11, 13)

	product := Engine.Join(a, b, engine.OpMul.JoinFunc(), stash)
	if got := product.AsTensor().(*Tensor).Cells(); got[0] != 35 || got[1] != 33 || got[2] != 26 {
		t.Errorf("unexpected product %v", got)
	}
	sum := Engine.Reduce(product, engine.AggrSum, nil, stash)
	if !sum.IsDouble() || sum.AsDouble() != 94 {
		t.Errorf("expected 94, got %v", sum)
	}

	scaled := Engine.Join(engine.NewDoubleValue(2), a, engine.OpMul.JoinFunc(), stash)
	if got := scaled.AsTensor().(*Tensor).Cells(); got[0] != 10 {
		t.Errorf("unexpected scaled tensor %v", got)
	}

	mismatch := Engine.Join(a, vector(t, 1, 2), engine.OpAdd.JoinFunc(), stash)
	if !mismatch.IsError() {
		t.Errorf("expected error joining vectors of different size, got %v", mismatch)
	}
}

func TestCompileDotProduct(t *testing.T) {
	vt, err := engine.ValueTypeFromSpec("tensor(x[3])")
	if err != nil {
		t.Fatalf("failed to parse type: %v", err)
	}
	ir := engine.NewReduce(
		engine.NewJoin(engine.NewInject(vt, 0), engine.NewInject(vt, 1), engine.OpMul, nil),
		engine.AggrSum, nil)

	compiled := Engine.Compile(ir)
	if _, ok := compiled.(*DotProduct); !ok {
		t.Fatalf("expected dot product, got:\n%s", engine.Describe(compiled))
	}

	input := engine.ValuesInput{vector(t, 5, 3, 2), vector(t, 7, 11, 13)}
	if got := compiled.Eval(Engine, input, engine.NewStash()); got.AsDouble() != 94 {
		t.Errorf("expected 94, got %v", got)
	}

	// Different shapes are not fused.
	mt, _ := engine.ValueTypeFromSpec("tensor(x[2],y[2])")
	matmul := engine.NewReduce(
		engine.NewJoin(engine.NewInject(mt, 0), engine.NewInject(mt, 1), engine.OpMul, nil),
		engine.AggrSum, []string{"y"})
	if _, ok := Engine.Compile(matmul).(*DotProduct); ok {
		t.Errorf("matrix product should not compile to a dot product")
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, v := range []engine.Value{
		vector(t, 1.5, -2, 3),
		engine.NewDoubleValue(7),
	} {
		var buf bytes.Buffer
		if err := Engine.Encode(v, &buf); err != nil {
			t.Fatalf("failed to encode %v: %v", v, err)
		}
		decoded, err := Engine.Decode(&buf)
		if err != nil {
			t.Fatalf("failed to decode %v: %v", v, err)
		}
		if v.IsDouble() {
			if !decoded.IsDouble() || decoded.AsDouble() != v.AsDouble() {
				t.Errorf("decoded %v, want %v", decoded, v)
			}
			continue
		}
		if !decoded.Equal(v) {
			t.Errorf("decoded %v, want %v", decoded, v)
		}
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	frame := func(magic byte, payload []byte) *bytes.Buffer {
		var buf bytes.Buffer
		if err := engine.WriteFrame(&buf, magic, payload); err != nil {
			t.Fatalf("failed to write frame: %v", err)
		}
		return &buf
	}
	oneCell := func(spec string) []byte {
		b := protowire.AppendString(nil, spec)
		return protowire.AppendFixed64(b, math.Float64bits(1))
	}
	partial := protowire.AppendString(nil, "tensor(x[3])")
	partial = protowire.AppendVarint(partial, 1)
	partial = protowire.AppendVarint(partial, 0)
	partial = protowire.AppendFixed64(partial, math.Float64bits(1))
	huge := protowire.AppendString(nil, "tensor(x[65536],y[65536])")
	huge = protowire.AppendVarint(huge, 0)

	grid := []struct {
		name string
		in   *bytes.Buffer
	}{
		{"overflowing dense type", frame(magicDense, oneCell("tensor(x[2147483648],y[2147483648],z[2])"))},
		{"oversized dense type", frame(magicDense, oneCell("tensor(x[65536],y[65536])"))},
		{"truncated dense cells", frame(magicDense, oneCell("tensor(x[2])"))},
		{"mapped dense type", frame(magicDense, oneCell("tensor(x{})"))},
		{"partial wrapped tensor", frame(magicWrapped, partial)},
		{"oversized wrapped tensor", frame(magicWrapped, huge)},
	}
	for _, g := range grid {
		if _, err := Engine.Decode(g.in); !errors.Is(err, engine.ErrBadEncoding) {
			t.Errorf("%s: expected ErrBadEncoding, got %v", g.name, err)
		}
	}
}
