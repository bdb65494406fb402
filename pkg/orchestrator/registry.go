package orchestrator

import (
	"context"
	"sync"
	"time"
)

// TaskInfo describes a workflow currently registered for a target.
type TaskInfo struct {
	TargetID  string    `json:"target_id"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

type task struct {
	kind      string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// TaskRegistry enforces single-flight execution per target: at most one
// provisioning or destroy workflow may run against an environment or
// resource at a time. Acquisition is atomic, so two concurrent starts
// for the same target cannot both succeed.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]*task),
	}
}

// TryAcquire registers a workflow of the given kind for targetID.
// It returns false without side effects when a workflow is already
// registered. cancel is invoked if the task is cancelled via Cancel or
// Shutdown; it may be nil.
func (r *TaskRegistry) TryAcquire(targetID, kind string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[targetID]; exists {
		return false
	}

	if cancel == nil {
		cancel = func() {}
	}
	r.tasks[targetID] = &task{
		kind:      kind,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	return true
}

// Release removes the registration for targetID and wakes all waiters.
// Releasing an unknown target is a no-op.
func (r *TaskRegistry) Release(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[targetID]
	if !exists {
		return
	}
	close(t.done)
	delete(r.tasks, targetID)
}

// IsRunning reports whether a workflow is registered for targetID.
func (r *TaskRegistry) IsRunning(targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.tasks[targetID]
	return exists
}

// Running returns a snapshot of all registered workflows.
func (r *TaskRegistry) Running() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]TaskInfo, 0, len(r.tasks))
	for id, t := range r.tasks {
		infos = append(infos, TaskInfo{
			TargetID:  id,
			Kind:      t.kind,
			StartedAt: t.startedAt,
		})
	}
	return infos
}

// Cancel requests cancellation of the workflow registered for targetID.
// It returns false when no workflow is running. The registration stays
// until the workflow observes the cancellation and calls Release.
func (r *TaskRegistry) Cancel(targetID string) bool {
	r.mu.Lock()
	t, exists := r.tasks[targetID]
	r.mu.Unlock()

	if !exists {
		return false
	}
	t.cancel()
	return true
}

// Wait blocks until the workflow for targetID finishes or ctx is done.
// It returns immediately when no workflow is registered.
func (r *TaskRegistry) Wait(ctx context.Context, targetID string) error {
	r.mu.Lock()
	t, exists := r.tasks[targetID]
	r.mu.Unlock()

	if !exists {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every registered workflow and waits for all of them
// to release, or for ctx to expire.
func (r *TaskRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	pending := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		t.cancel()
		pending = append(pending, t)
	}
	r.mu.Unlock()

	for _, t := range pending {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
