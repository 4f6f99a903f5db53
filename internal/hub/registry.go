package hub

import (
	"sync"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
)

// TaskStatus is the lifecycle state of a tracked task.
type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// TaskState is a snapshot of one task's progress. Mutated only by the
// task driver; everyone else reads copies.
type TaskState struct {
	Status    TaskStatus `json:"status"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	Error     string     `json:"error,omitempty"`
	StartTime time.Time  `json:"start_time"`
}

// Percentage returns completion as 0-100.
func (t TaskState) Percentage() int {
	if t.Total <= 0 {
		return 0
	}
	return t.Current * 100 / t.Total
}

// Registry tracks task lifecycle state keyed by task id.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*TaskState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*TaskState)}
}

// Register creates a running entry for id. Re-registering an id
// resets its state.
func (r *Registry) Register(id string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = &TaskState{
		Status:    StatusRunning,
		Current:   0,
		Total:     total,
		StartTime: time.Now(),
	}
}

// Progress updates the running counters for id. Unknown ids are
// ignored: progress is advisory.
func (r *Registry) Progress(id string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.Current = current
		if total > 0 {
			t.Total = total
		}
	}
}

// Complete marks id as finished successfully.
func (r *Registry) Complete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.Status = StatusCompleted
		t.Current = t.Total
	}
}

// Fail marks id as failed with the given cause.
func (r *Registry) Fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.Status = StatusFailed
		if err != nil {
			t.Error = err.Error()
		}
	}
}

// Status returns a snapshot of id's state.
func (r *Registry) Status(id string) (TaskState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return TaskState{}, core.ErrNotFound("task", id)
	}
	return *t, nil
}

// Remove deletes a task entry. The surrounding service calls this once
// no subscriber can still be attached.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}
