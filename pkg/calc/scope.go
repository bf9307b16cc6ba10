// Package calc evaluates calculation requests: a set of tensors, some given
// and some computed from others by expressions.
package calc

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
	"k8s.io/examples/AI/tensoreval/pkg/blobs"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/features"
	"k8s.io/examples/AI/tensoreval/pkg/interpreter"
)

type TensorID int32

// TensorLoader fetches encoded tensors from the tensor store.
type TensorLoader interface {
	Load(ctx context.Context, e engine.TensorEngine, info blobs.BlobInfo) (engine.Value, error)
}

// FeatureSource looks up stored feature values.
type FeatureSource interface {
	Lookup(ctx context.Context, e engine.TensorEngine, entity, name string) (engine.Value, error)
}

var (
	_ TensorLoader  = (*blobs.TensorLoader)(nil)
	_ FeatureSource = (*features.Store)(nil)
)

// Tensor is one tensor of a request and, once evaluated, its value.
type Tensor struct {
	id    TensorID
	src   *api.Tensor
	deps  []TensorID
	value engine.Value
}

func (t *Tensor) TensorID() TensorID { return t.id }

func (t *Tensor) Dependencies() []TensorID { return t.deps }

// Value is nil until the tensor has been evaluated.
func (t *Tensor) Value() engine.Value { return t.value }

// Scope holds the tensors of one request. Computed values live in
// interpreter contexts owned by the scope, so the scope must be closed after
// the results have been copied out.
type Scope struct {
	Engine   engine.TensorEngine
	Programs *ProgramCache
	Loader   TensorLoader
	Features FeatureSource

	// MaxProgramSize rejects computations that compile to more
	// instructions. Zero means no limit.
	MaxProgramSize int

	tensors  map[TensorID]*Tensor
	contexts []*interpreter.Context
}

var contextPool interpreter.Pool

func NewScope(e engine.TensorEngine) *Scope {
	return &Scope{
		Engine:  e,
		tensors: make(map[TensorID]*Tensor),
	}
}

func (s *Scope) AllTensors() map[TensorID]*Tensor { return s.tensors }

// Close releases the memory held by computed values.
func (s *Scope) Close() {
	for _, c := range s.contexts {
		contextPool.Put(c)
	}
	s.contexts = nil
}

func (s *Scope) RegisterTensors(tensors []*api.Tensor) error {
	for _, t := range tensors {
		id := TensorID(t.GetId())
		if _, found := s.tensors[id]; found {
			return status.Errorf(codes.InvalidArgument, "duplicate tensor %d", id)
		}

		sources := 0
		for _, set := range []bool{t.GetInlineData() != nil, t.GetBlob() != nil, t.GetFeature() != nil, t.GetComputation() != nil} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return status.Errorf(codes.InvalidArgument, "tensor %d must have exactly one of inlineData, blob, feature and computation", id)
		}

		tensor := &Tensor{id: id, src: t}
		if comp := t.GetComputation(); comp != nil {
			if len(comp.GetParams()) != len(comp.GetInputs()) {
				return status.Errorf(codes.InvalidArgument, "tensor %d: %d params but %d inputs", id, len(comp.GetParams()), len(comp.GetInputs()))
			}
			for _, input := range comp.GetInputs() {
				tensor.deps = append(tensor.deps, TensorID(input))
			}
		}
		s.tensors[id] = tensor
	}
	return nil
}

// Evaluate computes want and everything it depends on.
func (s *Scope) Evaluate(ctx context.Context, want []TensorID) error {
	for _, id := range want {
		if _, found := s.tensors[id]; !found {
			return status.Errorf(codes.InvalidArgument, "tensor %d not found", id)
		}
	}

	order, err := BuildDAG(s, want)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	wanted := needed(s, want)
	for _, id := range order {
		if !wanted[id] {
			continue
		}
		t := s.tensors[id]
		if t.value != nil {
			continue
		}
		v, err := s.compute(ctx, t)
		if err != nil {
			return err
		}
		t.value = v
	}
	return nil
}

func (s *Scope) compute(ctx context.Context, t *Tensor) (engine.Value, error) {
	src := t.src
	switch {
	case src.GetInlineData() != nil:
		spec, err := SpecFromInline(src.GetInlineData())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d: %v", t.id, err)
		}
		v, err := engine.CreateValue(s.Engine, spec)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d: %v", t.id, err)
		}
		return v, nil

	case src.GetBlob() != nil:
		info := blobs.BlobInfo{Hash: src.GetBlob().Hash}
		if !blobs.IsValidHash(info.Hash) {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d: invalid blob hash %q", t.id, info.Hash)
		}
		if s.Loader == nil {
			return nil, status.Errorf(codes.FailedPrecondition, "tensor %d: no tensor store configured", t.id)
		}
		v, err := s.Loader.Load(ctx, s.Engine, info)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, status.Errorf(codes.NotFound, "tensor %d: blob %s not found", t.id, info.Hash)
			}
			return nil, fmt.Errorf("loading tensor %d: %w", t.id, err)
		}
		return v, nil

	case src.GetFeature() != nil:
		ref := src.GetFeature()
		if s.Features == nil {
			return nil, status.Errorf(codes.FailedPrecondition, "tensor %d: no feature store configured", t.id)
		}
		v, err := s.Features.Lookup(ctx, s.Engine, ref.Entity, ref.Name)
		if err != nil {
			if errors.Is(err, features.ErrNotFound) {
				return nil, status.Errorf(codes.NotFound, "tensor %d: %v", t.id, err)
			}
			return nil, fmt.Errorf("looking up tensor %d: %w", t.id, err)
		}
		return v, nil
	}

	return s.evalComputation(ctx, t)
}

func (s *Scope) evalComputation(ctx context.Context, t *Tensor) (engine.Value, error) {
	log := klog.FromContext(ctx)
	comp := t.src.GetComputation()

	params := make([]engine.Value, len(t.deps))
	types := make([]engine.ValueType, len(t.deps))
	for i, dep := range t.deps {
		params[i] = s.tensors[dep].value
		types[i] = params[i].Type()
	}

	fn, err := s.Programs.Compile(s.Engine, comp.GetExpression(), comp.GetParams(), types)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "tensor %d: %v", t.id, err)
	}
	if s.MaxProgramSize > 0 && fn.ProgramSize() > s.MaxProgramSize {
		return nil, status.Errorf(codes.ResourceExhausted, "tensor %d: program of %d instructions exceeds limit of %d", t.id, fn.ProgramSize(), s.MaxProgramSize)
	}

	c := contextPool.Get()
	s.contexts = append(s.contexts, c)

	v := fn.Eval(c, params)
	log.V(2).Info("computed tensor", "id", t.id, "type", v.Type().String(), "conditions", c.IfCount())
	return v, nil
}
