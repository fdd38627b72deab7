// Package graph defines the cooperative task model the renderer uses to
// execute per-view render work. A Task is a unit of recording work whose
// completion the renderer awaits inline on the frame goroutine; tasks never
// outlive the frame that created them.
package graph

import (
	"context"
	"fmt"
)

// Task is a unit of render work produced by a render-graph factory. The
// renderer awaits it on the frame goroutine immediately after creation, so
// implementations run their work inside Await rather than in background
// goroutines.
type Task interface {
	// Await runs the task to completion.
	//
	// Parameters:
	//   - ctx: frame context; implementations should honor cancellation
	//     between steps
	//
	// Returns:
	//   - error: the first error encountered, or nil on success
	Await(ctx context.Context) error
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Await calls f.
func (f TaskFunc) Await(ctx context.Context) error {
	return f(ctx)
}

// Noop returns a task that completes immediately. Factories return it for
// views that have nothing to record this frame.
func Noop() Task {
	return TaskFunc(func(context.Context) error { return nil })
}

// Sequence composes tasks that run in order on the awaiting goroutine. The
// first error aborts the remainder; context cancellation is checked between
// steps.
//
// Parameters:
//   - tasks: the tasks to run, in order
//
// Returns:
//   - Task: the composed task
func Sequence(tasks ...Task) Task {
	return TaskFunc(func(ctx context.Context) error {
		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("graph: sequence canceled before step %d: %w", i, err)
			}
			if err := task.Await(ctx); err != nil {
				return fmt.Errorf("graph: sequence step %d failed: %w", i, err)
			}
		}
		return nil
	})
}
