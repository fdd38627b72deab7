package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdes/oxygen/engine/game_object"
)

func TestAddAssignsUniqueIDsInOrder(t *testing.T) {
	s := NewScene()

	a := game_object.NewGameObject()
	b := game_object.NewGameObject()
	idA := s.Add(a)
	idB := s.Add(b)

	assert.NotEqual(t, idA, idB)
	assert.Equal(t, idA, a.ID())
	assert.Equal(t, 2, s.ObjectCount())

	rs := s.Renderables()
	require.Len(t, rs, 2)
	assert.Same(t, a, rs[0].(game_object.GameObject))
	assert.Same(t, b, rs[1].(game_object.GameObject))
}

func TestWithObjectsPrePopulates(t *testing.T) {
	a := game_object.NewGameObject()
	b := game_object.NewGameObject()
	s := NewScene(WithObjects(a, b))

	assert.Equal(t, 2, s.ObjectCount())
	assert.Same(t, a, s.Object(a.ID()))
}

func TestRemove(t *testing.T) {
	s := NewScene()
	id := s.Add(game_object.NewGameObject())

	s.Remove(id)
	assert.Nil(t, s.Object(id))
	assert.Equal(t, 0, s.ObjectCount())

	s.Remove(999) // unknown IDs are a no-op
}

func TestRenderablesSkipsDisabledObjects(t *testing.T) {
	s := NewScene()
	s.Add(game_object.NewGameObject())
	hidden := game_object.NewGameObject()
	s.Add(hidden)
	hidden.SetEnabled(false)

	assert.Len(t, s.Renderables(), 1)
}

func TestUpdateAdvancesRotations(t *testing.T) {
	s := NewScene(WithComputeWorkers(2))
	obj := game_object.NewGameObject(
		game_object.WithRotationSpeed(1, 0, 0),
	)
	s.Add(obj)

	s.Update(0.5)
	rx, _, _ := obj.Rotation()
	assert.InDelta(t, 0.5, rx, 1e-6)
}

func TestUpdateParallelPath(t *testing.T) {
	s := NewScene(WithComputeWorkers(4))
	objs := make([]game_object.GameObject, 0, parallelUpdateThreshold+10)
	for i := 0; i < parallelUpdateThreshold+10; i++ {
		obj := game_object.NewGameObject(game_object.WithRotationSpeed(0, 2, 0))
		s.Add(obj)
		objs = append(objs, obj)
	}

	s.Update(0.25)
	for _, obj := range []game_object.GameObject{objs[0], objs[len(objs)/2], objs[len(objs)-1]} {
		_, ry, _ := obj.Rotation()
		assert.InDelta(t, 0.5, ry, 1e-6)
	}
}

func TestInactiveSceneSkipsUpdate(t *testing.T) {
	s := NewScene(WithActive(false))
	obj := game_object.NewGameObject(game_object.WithRotationSpeed(1, 1, 1))
	s.Add(obj)

	s.Update(1.0)
	rx, ry, rz := obj.Rotation()
	assert.Zero(t, rx)
	assert.Zero(t, ry)
	assert.Zero(t, rz)
	assert.False(t, s.Active())
}
