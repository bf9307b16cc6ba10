package calc

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
	"k8s.io/examples/AI/tensoreval/pkg/blobs"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/features"
)

func vector(id int32, values ...float64) *api.Tensor {
	data := &api.InlineData{Type: fmt.Sprintf("tensor(x[%d])", len(values))}
	for i, v := range values {
		data.Cells = append(data.Cells, api.Cell{Address: map[string]string{"x": fmt.Sprint(i)}, Value: v})
	}
	return &api.Tensor{Id: id, InlineData: data}
}

func computation(id int32, expr string, params []string, inputs ...int32) *api.Tensor {
	return &api.Tensor{Id: id, Computation: &api.Computation{Expression: expr, Params: params, Inputs: inputs}}
}

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	programs, err := NewProgramCache(16)
	if err != nil {
		t.Fatalf("NewProgramCache: %v", err)
	}
	e, _ := LookupEngine("dense")
	return &Calculator{Engine: e, Programs: programs}
}

func scalarResult(t *testing.T, r *api.Tensor) float64 {
	t.Helper()
	data := r.GetInlineData()
	if data == nil || data.Type != "double" || len(data.Cells) != 1 {
		t.Fatalf("result %d is not a double: %+v", r.GetId(), data)
	}
	return data.Cells[0].Value
}

func TestCalculateComputation(t *testing.T) {
	ctx := context.Background()
	s := newCalculator(t)

	for _, engineName := range EngineNames() {
		req := &api.CalculateRequest{
			Engine: engineName,
			Tensors: []*api.Tensor{
				vector(1, 1, 2, 3),
				vector(2, 4, 5, 6),
				computation(3, "reduce(a*b,sum)", []string{"a", "b"}, 1, 2),
				computation(4, "if(c > 30, c + 1, 0)", []string{"c"}, 3),
			},
			OutputTensors: []int32{4, 3},
		}
		resp, err := s.Calculate(ctx, req)
		if err != nil {
			t.Fatalf("%s: Calculate: %v", engineName, err)
		}
		if len(resp.Results) != 2 {
			t.Fatalf("%s: got %d results, want 2", engineName, len(resp.Results))
		}
		if got := scalarResult(t, resp.Results[0]); got != 33 {
			t.Errorf("%s: tensor 4 = %v, want 33", engineName, got)
		}
		if got := scalarResult(t, resp.Results[1]); got != 32 {
			t.Errorf("%s: tensor 3 = %v, want 32", engineName, got)
		}
	}

	// Both engines compiled both programs once.
	if got := s.Programs.Len(); got != 4 {
		t.Errorf("program cache holds %d programs, want 4", got)
	}
}

func TestTensorResult(t *testing.T) {
	s := newCalculator(t)
	resp, err := s.Calculate(context.Background(), &api.CalculateRequest{
		Tensors: []*api.Tensor{
			vector(1, 1, 2),
			computation(2, "map(a, f(v)(v*10))", []string{"a"}, 1),
		},
		OutputTensors: []int32{2},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	data := resp.Results[0].GetInlineData()
	if data.Type != "tensor(x[2])" {
		t.Fatalf("type = %q, want tensor(x[2])", data.Type)
	}
	want := map[string]float64{"0": 10, "1": 20}
	for _, cell := range data.Cells {
		if w := want[cell.Address["x"]]; cell.Value != w {
			t.Errorf("cell %v = %v, want %v", cell.Address, cell.Value, w)
		}
	}
}

func TestBadRequests(t *testing.T) {
	s := newCalculator(t)
	grid := []struct {
		name string
		req  *api.CalculateRequest
		code codes.Code
	}{
		{
			name: "unreachable",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{vector(1, 1), computation(2, "a+b", []string{"a", "b"}, 1, 7)},
				OutputTensors: []int32{2},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "cycle",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{computation(1, "a", []string{"a"}, 2), computation(2, "a", []string{"a"}, 1)},
				OutputTensors: []int32{1},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "missing output",
			req:  &api.CalculateRequest{Tensors: []*api.Tensor{vector(1, 1)}, OutputTensors: []int32{5}},
			code: codes.InvalidArgument,
		},
		{
			name: "duplicate",
			req:  &api.CalculateRequest{Tensors: []*api.Tensor{vector(1, 1), vector(1, 2)}, OutputTensors: []int32{1}},
			code: codes.InvalidArgument,
		},
		{
			name: "no source",
			req:  &api.CalculateRequest{Tensors: []*api.Tensor{{Id: 1}}, OutputTensors: []int32{1}},
			code: codes.InvalidArgument,
		},
		{
			name: "parse error",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{vector(1, 1), computation(2, "a +", []string{"a"}, 1)},
				OutputTensors: []int32{2},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "trailing escape",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{vector(1, 1), computation(2, `a+"x\`, []string{"a"}, 1)},
				OutputTensors: []int32{2},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "oversized inline type",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{{Id: 1, InlineData: &api.InlineData{Type: "tensor(x[65536],y[65536])"}}},
				OutputTensors: []int32{1},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "param count",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{vector(1, 1), computation(2, "a", []string{"a", "b"}, 1)},
				OutputTensors: []int32{2},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown engine",
			req:  &api.CalculateRequest{Engine: "gpu", Tensors: []*api.Tensor{vector(1, 1)}, OutputTensors: []int32{1}},
			code: codes.InvalidArgument,
		},
		{
			name: "index out of range",
			req: &api.CalculateRequest{
				Tensors: []*api.Tensor{{Id: 1, InlineData: &api.InlineData{
					Type:  "tensor(x[2])",
					Cells: []api.Cell{{Address: map[string]string{"x": "2"}, Value: 1}},
				}}},
				OutputTensors: []int32{1},
			},
			code: codes.InvalidArgument,
		},
		{
			name: "blob without store",
			req: &api.CalculateRequest{
				Tensors:       []*api.Tensor{{Id: 1, Blob: &api.BlobRef{Hash: blobs.InfoFor(nil).Hash}}},
				OutputTensors: []int32{1},
			},
			code: codes.FailedPrecondition,
		},
	}
	for _, g := range grid {
		t.Run(g.name, func(t *testing.T) {
			_, err := s.Calculate(context.Background(), g.req)
			if err == nil {
				t.Fatalf("Calculate succeeded, want %v", g.code)
			}
			if got := status.Code(err); got != g.code {
				t.Errorf("got code %v (%v), want %v", got, err, g.code)
			}
			if strings.Contains(err.Error(), "PANIC") {
				t.Errorf("garbled status message: %v", err)
			}
		})
	}
}

func TestMaxProgramSize(t *testing.T) {
	s := newCalculator(t)
	s.MaxProgramSize = 3
	_, err := s.Calculate(context.Background(), &api.CalculateRequest{
		Tensors: []*api.Tensor{
			{Id: 1, InlineData: &api.InlineData{Type: "double", Cells: []api.Cell{{Value: 1}}}},
			computation(2, "a+a+a+a+a", []string{"a"}, 1),
		},
		OutputTensors: []int32{2},
	})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("got %v, want ResourceExhausted", err)
	}
}

func TestBuildDAGOrder(t *testing.T) {
	scope := NewScope(nil)
	if err := scope.RegisterTensors([]*api.Tensor{
		computation(3, "a+b", []string{"a", "b"}, 2, 1),
		computation(2, "a", []string{"a"}, 1),
		vector(1, 1),
		computation(4, "a", []string{"a"}, 9),
	}); err != nil {
		t.Fatalf("RegisterTensors: %v", err)
	}

	order, err := BuildDAG(scope, []TensorID{3})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	want := []TensorID{1, 2, 3}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}

	if _, err := BuildDAG(scope, []TensorID{4}); err == nil {
		t.Errorf("BuildDAG accepted a tensor with a missing input")
	}
}

type fakeFeatures map[string]float64

func (f fakeFeatures) Lookup(ctx context.Context, e engine.TensorEngine, entity, name string) (engine.Value, error) {
	v, found := f[entity+"/"+name]
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", features.ErrNotFound, entity, name)
	}
	return engine.NewDoubleValue(v), nil
}

type fakeLoader struct{ values map[string]engine.Value }

func (l *fakeLoader) Load(ctx context.Context, e engine.TensorEngine, info blobs.BlobInfo) (engine.Value, error) {
	v, found := l.values[info.Hash]
	if !found {
		return nil, fmt.Errorf("blob %s: %w", info.Hash, os.ErrNotExist)
	}
	return v, nil
}

func TestFeatureAndBlobSources(t *testing.T) {
	s := newCalculator(t)
	s.Features = fakeFeatures{"user1/age": 40}
	hash := blobs.InfoFor([]byte("weights")).Hash
	s.Loader = &fakeLoader{values: map[string]engine.Value{hash: engine.NewDoubleValue(2)}}

	resp, err := s.Calculate(context.Background(), &api.CalculateRequest{
		Tensors: []*api.Tensor{
			{Id: 1, Feature: &api.FeatureRef{Entity: "user1", Name: "age"}},
			{Id: 2, Blob: &api.BlobRef{Hash: hash}},
			computation(3, "age*w", []string{"age", "w"}, 1, 2),
		},
		OutputTensors: []int32{3},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := scalarResult(t, resp.Results[0]); got != 80 {
		t.Errorf("result = %v, want 80", got)
	}

	_, err = s.Calculate(context.Background(), &api.CalculateRequest{
		Tensors:       []*api.Tensor{{Id: 1, Feature: &api.FeatureRef{Entity: "user2", Name: "age"}}},
		OutputTensors: []int32{1},
	})
	if status.Code(err) != codes.NotFound {
		t.Errorf("missing feature: got %v, want NotFound", err)
	}
}

func TestCalculateBatch(t *testing.T) {
	s := newCalculator(t)
	var reqs []*api.CalculateRequest
	for i := range 20 {
		reqs = append(reqs, &api.CalculateRequest{
			Tensors: []*api.Tensor{
				vector(1, float64(i), 1),
				computation(2, "reduce(a,sum)", []string{"a"}, 1),
			},
			OutputTensors: []int32{2},
		})
	}
	resps, err := s.CalculateBatch(context.Background(), reqs, 4)
	if err != nil {
		t.Fatalf("CalculateBatch: %v", err)
	}
	for i, resp := range resps {
		if got := scalarResult(t, resp.Results[0]); got != float64(i+1) {
			t.Errorf("request %d: got %v, want %v", i, got, i+1)
		}
	}
}

func TestInlineRoundTrip(t *testing.T) {
	in := &api.InlineData{
		Type: "tensor(x{},y[2])",
		Cells: []api.Cell{
			{Address: map[string]string{"x": "a", "y": "0"}, Value: 1},
			{Address: map[string]string{"x": "b", "y": "1"}, Value: 2},
		},
	}
	spec, err := SpecFromInline(in)
	if err != nil {
		t.Fatalf("SpecFromInline: %v", err)
	}
	for _, e := range EngineNames() {
		eng, _ := LookupEngine(e)
		v, err := engine.CreateValue(eng, spec)
		if err != nil {
			t.Fatalf("%s: CreateValue: %v", e, err)
		}
		back, err := SpecFromInline(InlineFromValue(v))
		if err != nil {
			t.Fatalf("%s: SpecFromInline of result: %v", e, err)
		}
		if !back.Equal(engine.ValueToSpec(v)) {
			t.Errorf("%s: got %v, want %v", e, back, engine.ValueToSpec(v))
		}
	}

	if out := InlineFromValue(engine.ErrorValue); out.Type != "error" || len(out.Cells) != 0 {
		t.Errorf("InlineFromValue(error) = %+v", out)
	}

	bad := &api.InlineData{Type: "tensor(x[2])", Cells: []api.Cell{{Address: map[string]string{"x": "one"}}}}
	if _, err := SpecFromInline(bad); err == nil {
		t.Errorf("SpecFromInline accepted a non-numeric index")
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	ctx := context.Background()

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	api.RegisterCalculatorServer(grpcServer, newCalculator(t))
	go grpcServer.Serve(lis)
	defer grpcServer.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	defer conn.Close()

	client := api.NewCalculatorClient(conn)
	resp, err := client.Calculate(ctx, &api.CalculateRequest{
		Tensors: []*api.Tensor{
			vector(1, 1, 2, 3),
			computation(2, "reduce(a,max)", []string{"a"}, 1),
		},
		OutputTensors: []int32{2},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := scalarResult(t, resp.Results[0]); got != 3 {
		t.Errorf("result = %v, want 3", got)
	}

	_, err = client.Calculate(ctx, &api.CalculateRequest{OutputTensors: []int32{1}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty request: got %v, want InvalidArgument", err)
	}
}
