package scene

import (
	"github.com/abdes/oxygen/engine/game_object"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithActive sets whether the scene starts active.
//
// Parameters:
//   - active: true to start active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithObjects adds the given objects to the scene during construction,
// assigning IDs in argument order.
//
// Parameters:
//   - objects: the objects to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithObjects(objects ...game_object.GameObject) SceneBuilderOption {
	return func(s *scene) {
		for _, obj := range objects {
			s.nextID++
			id := s.nextID
			obj.SetID(id)
			s.order = append(s.order, id)
			s.objects[id] = obj
		}
	}
}

// WithComputeWorkers sets the number of workers used for parallel object
// updates. Defaults to NumCPU-1.
//
// Parameters:
//   - n: the worker count (values below 1 are ignored)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithComputeWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n >= 1 {
			s.computeWorkers = n
		}
	}
}
