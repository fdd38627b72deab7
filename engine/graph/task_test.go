package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceRunsInOrder(t *testing.T) {
	var order []int
	step := func(n int) Task {
		return TaskFunc(func(context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	err := Sequence(step(1), step(2), step(3)).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSequenceStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran []int
	err := Sequence(
		TaskFunc(func(context.Context) error { ran = append(ran, 1); return nil }),
		TaskFunc(func(context.Context) error { return boom }),
		TaskFunc(func(context.Context) error { ran = append(ran, 3); return nil }),
	).Await(context.Background())

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, ran)
}

func TestSequenceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Sequence(
		TaskFunc(func(context.Context) error { cancel(); return nil }),
		TaskFunc(func(context.Context) error {
			t.Fatal("step after cancellation must not run")
			return nil
		}),
	).Await(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop().Await(context.Background()))
}
