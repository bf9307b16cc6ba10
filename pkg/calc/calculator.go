package calc

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/engine/dense"
	"k8s.io/examples/AI/tensoreval/pkg/engine/fallback"
)

var engines = map[string]engine.TensorEngine{
	fallback.Engine.Name(): fallback.Engine,
	dense.Engine.Name():    dense.Engine,
}

// EngineNames lists the engines a request may select.
func EngineNames() []string {
	var names []string
	for name := range engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LookupEngine returns the engine with the given name.
func LookupEngine(name string) (engine.TensorEngine, bool) {
	e, found := engines[name]
	return e, found
}

// Calculator serves the Calculator RPC.
type Calculator struct {
	api.UnimplementedCalculatorServer

	// Engine is used for requests that do not name one.
	Engine         engine.TensorEngine
	Programs       *ProgramCache
	Loader         TensorLoader
	Features       FeatureSource
	MaxProgramSize int
}

var _ api.CalculatorServer = (*Calculator)(nil)

func (s *Calculator) newScope(req *api.CalculateRequest) (*Scope, error) {
	e := s.Engine
	if name := req.GetEngine(); name != "" {
		found, ok := LookupEngine(name)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown engine %q (known engines: %s)", name, strings.Join(EngineNames(), ", "))
		}
		e = found
	}
	scope := NewScope(e)
	scope.Programs = s.Programs
	scope.Loader = s.Loader
	scope.Features = s.Features
	scope.MaxProgramSize = s.MaxProgramSize
	return scope, nil
}

func (s *Calculator) Calculate(ctx context.Context, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	log := klog.FromContext(ctx)

	scope, err := s.newScope(req)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	response, err := Evaluate(ctx, scope, req)
	if err != nil {
		log.V(2).Info("calculation failed", "err", err)
		return nil, err
	}

	return response, nil
}

// CalculateBatch runs independent requests concurrently, at most parallelism
// at a time. It fails with the first error.
func (s *Calculator) CalculateBatch(ctx context.Context, reqs []*api.CalculateRequest, parallelism int) ([]*api.CalculateResponse, error) {
	responses := make([]*api.CalculateResponse, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, req := range reqs {
		g.Go(func() error {
			response, err := s.Calculate(ctx, req)
			if err != nil {
				return err
			}
			responses[i] = response
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}
