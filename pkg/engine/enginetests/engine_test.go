package enginetests

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/engine/dense"
	"k8s.io/examples/AI/tensoreval/pkg/engine/fallback"
)

var engines = []engine.TensorEngine{fallback.Engine, dense.Engine}

func addr(kv ...any) engine.Address {
	a := engine.Address{}
	for i := 0; i < len(kv); i += 2 {
		name := kv[i].(string)
		switch l := kv[i+1].(type) {
		case int:
			a[name] = engine.Idx(uint32(l))
		case string:
			a[name] = engine.Lbl(l)
		}
	}
	return a
}

func specs() map[string]*engine.TensorSpec {
	return map[string]*engine.TensorSpec{
		"vector": engine.NewTensorSpec("tensor(x[3])").
			Add(addr("x", 0), 1).Add(addr("x", 1), 2).Add(addr("x", 2), 3),
		"matrix": engine.NewTensorSpec("tensor(x[2],y[3])").
			Add(addr("x", 0, "y", 0), 1).Add(addr("x", 0, "y", 1), 2).Add(addr("x", 0, "y", 2), 3).
			Add(addr("x", 1, "y", 0), 4).Add(addr("x", 1, "y", 1), 5).Add(addr("x", 1, "y", 2), 6),
		"column": engine.NewTensorSpec("tensor(y[3])").
			Add(addr("y", 0), 10).Add(addr("y", 1), 20).Add(addr("y", 2), 30),
		"sparse": engine.NewTensorSpec("tensor(x{})").
			Add(addr("x", "a"), 3).Add(addr("x", "b"), 5),
		"mixed": engine.NewTensorSpec("tensor(x{},y[3])").
			Add(addr("x", "a", "y", 1), 7).Add(addr("x", "b", "y", 2), 11),
		"nan": engine.NewTensorSpec("tensor(x[3])").
			Add(addr("x", 0), 1).Add(addr("x", 1), math.NaN()).Add(addr("x", 2), 3),
		"leading nan": engine.NewTensorSpec("tensor(x[3])").
			Add(addr("x", 0), math.NaN()).Add(addr("x", 1), 1).Add(addr("x", 2), 3),
	}
}

// FloatingPointEqual compares the cells of two specs with a small absolute
// tolerance.
func FloatingPointEqual(a, b *engine.TensorSpec) bool {
	if a.Type() != b.Type() || a.Len() != b.Len() {
		return false
	}
	ca, cb := a.Cells(), b.Cells()
	for i := range ca {
		if ca[i].Address.String() != cb[i].Address.String() {
			return false
		}
		if math.IsNaN(ca[i].Value) || math.IsNaN(cb[i].Value) {
			if !math.IsNaN(ca[i].Value) || !math.IsNaN(cb[i].Value) {
				return false
			}
			continue
		}
		if math.Abs(ca[i].Value-cb[i].Value) > 0.00001 {
			return false
		}
	}
	return true
}

type operation struct {
	name string
	run  func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value
	args []string
}

var operations = []operation{
	{"map sqrt", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Map(args[0], engine.OpSqrt.MapFunc(), stash)
	}, []string{"matrix"}},
	{"map neg sparse", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Map(args[0], engine.OpNeg.MapFunc(), stash)
	}, []string{"sparse"}},
	{"join matrix column", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Join(args[0], args[1], engine.OpMul.JoinFunc(), stash)
	}, []string{"matrix", "column"}},
	{"join sparse column", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Join(args[0], args[1], engine.OpAdd.JoinFunc(), stash)
	}, []string{"sparse", "column"}},
	{"join mixed sparse", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Join(args[0], args[1], engine.OpSub.JoinFunc(), stash)
	}, []string{"mixed", "sparse"}},
	{"reduce sum y", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Reduce(args[0], engine.AggrSum, []string{"y"}, stash)
	}, []string{"matrix"}},
	{"reduce avg all", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Reduce(args[0], engine.AggrAvg, nil, stash)
	}, []string{"mixed"}},
	{"reduce max x", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Reduce(args[0], engine.AggrMax, []string{"x"}, stash)
	}, []string{"mixed"}},
	{"reduce max nan", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Reduce(args[0], engine.AggrMax, nil, stash)
	}, []string{"nan"}},
	{"reduce min leading nan", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Reduce(args[0], engine.AggrMin, nil, stash)
	}, []string{"leading nan"}},
	{"reduce sum nan", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Reduce(args[0], engine.AggrSum, nil, stash)
	}, []string{"nan"}},
	{"join max nan", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Join(args[0], args[1], engine.OpMax.JoinFunc(), stash)
	}, []string{"nan", "leading nan"}},
	{"concat x", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Concat(args[0], args[1], "x", stash)
	}, []string{"vector", "matrix"}},
	{"concat z", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Concat(args[0], args[1], "z", stash)
	}, []string{"vector", "vector"}},
	{"rename swap", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Rename(args[0], []string{"x", "y"}, []string{"y", "x"}, stash)
	}, []string{"matrix"}},
	{"rename mixed", func(e engine.TensorEngine, args []engine.Value, stash *engine.Stash) engine.Value {
		return e.Rename(args[0], []string{"x"}, []string{"z"}, stash)
	}, []string{"mixed"}},
}

func TestEngine(t *testing.T) {
	inputs := specs()
	for _, op := range operations {
		t.Run(op.name, func(t *testing.T) {
			var results []*engine.TensorSpec
			for _, e := range engines {
				args := make([]engine.Value, len(op.args))
				for i, name := range op.args {
					v, err := engine.CreateValue(e, inputs[name])
					if err != nil {
						t.Fatalf("failed to create %s on %s: %v", name, e.Name(), err)
					}
					args[i] = v
				}
				stash := engine.NewStash()
				result := op.run(e, args, stash)
				if result.IsError() {
					t.Fatalf("%s engine produced an error", e.Name())
				}
				t.Logf("%s: %v", e.Name(), result)
				results = append(results, engine.ValueToSpec(result))
			}
			for i := 1; i < len(results); i++ {
				if !FloatingPointEqual(results[0], results[i]) {
					t.Errorf("engines disagree:\n%s: %v\n%s: %v", engines[0].Name(), results[0], engines[i].Name(), results[i])
				}
			}
		})
	}
}

func TestReduceNaN(t *testing.T) {
	inputs := specs()
	grid := []struct {
		input string
		aggr  engine.Aggr
		want  float64
	}{
		{"nan", engine.AggrMax, 3},
		{"nan", engine.AggrMin, 1},
		{"leading nan", engine.AggrMax, math.NaN()},
		{"leading nan", engine.AggrMin, math.NaN()},
		{"nan", engine.AggrSum, math.NaN()},
		{"nan", engine.AggrCount, 3},
	}
	for _, e := range engines {
		for _, g := range grid {
			v, err := engine.CreateValue(e, inputs[g.input])
			if err != nil {
				t.Fatalf("failed to create %s on %s: %v", g.input, e.Name(), err)
			}
			got := e.Reduce(v, g.aggr, nil, engine.NewStash())
			if !got.IsDouble() {
				t.Errorf("%s: reduce %s %s = %v, want a double", e.Name(), g.aggr, g.input, got)
				continue
			}
			if got.AsDouble() != g.want && !(math.IsNaN(got.AsDouble()) && math.IsNaN(g.want)) {
				t.Errorf("%s: reduce %s %s = %v, want %v", e.Name(), g.aggr, g.input, got.AsDouble(), g.want)
			}
		}
	}
}

func TestCreateToSpec(t *testing.T) {
	for name, spec := range specs() {
		for _, e := range engines {
			tensor, err := e.Create(spec)
			if err != nil {
				t.Fatalf("failed to create %s on %s: %v", name, e.Name(), err)
			}
			if tensor.Engine() != e {
				t.Errorf("%s tensor tagged with %s", e.Name(), tensor.Engine().Name())
			}
			// Dense subspaces are filled, so compare against the reference.
			ref, _ := fallback.Create(spec)
			if got := e.ToSpec(tensor); !got.Equal(ref.Spec()) {
				t.Errorf("%s %s: got %v, want %v", e.Name(), name, got, ref.Spec())
			}
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for name, spec := range specs() {
		for _, e := range engines {
			v, err := engine.CreateValue(e, spec)
			if err != nil {
				t.Fatalf("failed to create %s: %v", name, err)
			}
			var buf bytes.Buffer
			if err := e.Encode(v, &buf); err != nil {
				t.Fatalf("failed to encode %s on %s: %v", name, e.Name(), err)
			}
			decoded, err := e.Decode(&buf)
			if err != nil {
				t.Fatalf("failed to decode %s on %s: %v", name, e.Name(), err)
			}
			if !decoded.Equal(v) {
				t.Errorf("%s %s: decoded %v, want %v", e.Name(), name, decoded, v)
			}
		}
	}
}

func TestEngineMismatchPanics(t *testing.T) {
	v, err := engine.CreateValue(fallback.Engine, specs()["vector"])
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, engine.ErrEngineMismatch) {
			t.Errorf("unexpected panic %v", r)
		}
	}()
	dense.Engine.Map(v, engine.OpNeg.MapFunc(), nil)
}
