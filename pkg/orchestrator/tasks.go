package orchestrator

import (
	"context"
	"sync"
)

// TaskFunc is background work spawned through the registry. It must observe
// ctx cancellation promptly.
type TaskFunc func(ctx context.Context) error

// taskHandle is one tracked background task.
type taskHandle struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskRegistry tracks cancellable background task handles so that
// shutdown can cancel and await every one of them, and so that no
// fire-and-forget goroutine outlives the resources (DB pool, HTTP clients,
// websocket connections) it closes over. Generalizes the teacher's
// manually-tracked pipelineCancel/responseCancel/ttsCancel trio in
// managed_stream.go into an open-ended set.
type TaskRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	handles map[uint64]*taskHandle
	closed  bool
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{handles: make(map[uint64]*taskHandle)}
}

// Spawn starts fn in its own goroutine under a context derived from parent.
// The handle self-removes from the registry when fn returns, whether it
// succeeded, errored, or was cancelled. Spawn is a no-op (fn never runs) if
// the registry has already been shut down.
func (r *TaskRegistry) Spawn(parent context.Context, fn TaskFunc) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	id := r.nextID
	r.nextID++
	h := &taskHandle{id: id, cancel: cancel, done: make(chan struct{})}
	r.handles[id] = h
	r.mu.Unlock()

	go func() {
		defer close(h.done)
		defer r.remove(id)
		_ = fn(ctx)
	}()
}

func (r *TaskRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Len reports the number of tasks currently tracked.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ShutdownAll cancels every tracked handle and awaits all of them, errors
// suppressed. After it returns, the registry is empty and rejects further
// Spawn calls, satisfying the invariant that no task may subsequently touch
// torn-down resources.
func (r *TaskRegistry) ShutdownAll() {
	r.mu.Lock()
	r.closed = true
	handles := make([]*taskHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}
