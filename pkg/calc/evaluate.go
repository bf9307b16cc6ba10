package calc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "k8s.io/examples/AI/tensoreval/pkg/api/v1alpha1"
)

func Evaluate(ctx context.Context, scope *Scope, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	if err := scope.RegisterTensors(req.GetTensors()); err != nil {
		return nil, err
	}

	wantTensors := make([]TensorID, len(req.GetOutputTensors()))
	for i, id := range req.GetOutputTensors() {
		wantTensors[i] = TensorID(id)
	}
	if err := scope.Evaluate(ctx, wantTensors); err != nil {
		return nil, err
	}

	response := &api.CalculateResponse{}
	allTensors := scope.AllTensors()
	for _, outputTensorID := range req.GetOutputTensors() {
		tensor, found := allTensors[TensorID(outputTensorID)]
		if !found {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d not found", outputTensorID)
		}
		result := &api.Tensor{
			Id:         outputTensorID,
			InlineData: InlineFromValue(tensor.Value()),
		}
		response.Results = append(response.Results, result)
	}

	return response, nil
}
