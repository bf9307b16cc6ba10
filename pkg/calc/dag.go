package calc

import (
	"fmt"
	"maps"
	"slices"
)

// BuildDAG returns an evaluation order for the tensors of scope in which
// every tensor comes after its dependencies. Tensors that depend on missing
// tensors, or on cycles, are left out; it is an error if any of want is.
func BuildDAG(scope *Scope, wantTensors []TensorID) ([]TensorID, error) {
	allTensors := scope.AllTensors()
	ids := slices.Sorted(maps.Keys(allTensors))

	evaluationOrder := make([]TensorID, 0, len(allTensors))
	done := make(map[TensorID]bool)

	for {
		progress := false
		for _, id := range ids {
			if done[id] {
				continue
			}

			ready := true
			for _, dep := range allTensors[id].Dependencies() {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[id] = true
				evaluationOrder = append(evaluationOrder, id)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, id := range wantTensors {
		if !done[id] {
			return nil, fmt.Errorf("tensor %d could not be computed (unreachable in computation graph)", id)
		}
	}

	return evaluationOrder, nil
}

// needed returns the tensors want depends on, including want itself.
func needed(scope *Scope, want []TensorID) map[TensorID]bool {
	allTensors := scope.AllTensors()
	seen := make(map[TensorID]bool)
	var visit func(id TensorID)
	visit = func(id TensorID) {
		if seen[id] {
			return
		}
		seen[id] = true
		if t, found := allTensors[id]; found {
			for _, dep := range t.Dependencies() {
				visit(dep)
			}
		}
	}
	for _, id := range want {
		visit(id)
	}
	return seen
}
