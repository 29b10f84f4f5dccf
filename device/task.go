package device

import (
	"context"

	"github.com/cowboyrushforth/fprintvirt/loop"
)

// Task is the single-shot completion of a device operation. It is resolved
// on the device loop; Wait iterates the loop until that happens.
type Task[T any] struct {
	loop      *loop.Loop
	done      bool
	value     T
	err       error
	callbacks []func(T, error)
}

func newTask[T any](l *loop.Loop) *Task[T] {
	return &Task[T]{loop: l}
}

// Done reports whether the operation has completed.
func (t *Task[T]) Done() bool {
	return t.done
}

// Result returns the outcome. It is only meaningful once Done is true.
func (t *Task[T]) Result() (T, error) {
	return t.value, t.err
}

// Then registers cb to be called with the outcome. If the task is already
// done, cb is posted to the loop.
func (t *Task[T]) Then(cb func(T, error)) {
	if t.done {
		v, err := t.value, t.err
		t.loop.Post(func() { cb(v, err) })
		return
	}
	t.callbacks = append(t.callbacks, cb)
}

// Wait iterates the loop until the task completes or ctx ends. The caller
// must be the goroutine that drives the loop.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	if err := t.loop.RunUntil(ctx, t.Done); err != nil {
		var zero T
		return zero, err
	}
	return t.value, t.err
}

func (t *Task[T]) resolve(v T, err error) {
	if t.done {
		return
	}
	t.done = true
	if err == nil {
		t.value = v
	}
	t.err = err

	cbs := t.callbacks
	t.callbacks = nil
	for _, cb := range cbs {
		cb(t.value, t.err)
	}
}
