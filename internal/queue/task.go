package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Task is a unit of work stored in the queue. Implementations are plain
// structs whose exported fields are everything needed to run them again
// after a restart.
type Task interface {
	// Kind is the tag the task is registered under.
	Kind() string
	// Execute performs the work. Follow-up tasks go through q.
	Execute(ctx context.Context, q Enqueuer) error
}

// Enqueuer accepts new tasks. Tasks receive it instead of reaching for a global queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Job is a dequeued task together with its record id.
type Job struct {
	ID         int64
	Kind       string
	RetryCount int
	Task       Task
}

// Factory returns a fresh, zero-valued task of one kind. The payload is
// decoded into it, so dependencies set by the factory survive decoding.
type Factory func() Task

// Registry maps kind tags to factories and encodes tasks as kind + JSON.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("register task: empty kind")
	}
	if factory == nil {
		return fmt.Errorf("register task %q: nil factory", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("register task %q: already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Encode returns the kind tag and JSON payload of task.
func (r *Registry) Encode(task Task) (string, string, error) {
	if task == nil {
		return "", "", fmt.Errorf("encode task: nil task")
	}
	kind := task.Kind()
	if _, ok := r.factory(kind); !ok {
		return "", "", fmt.Errorf("encode task %q: %w", kind, ErrUnknownKind)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return "", "", fmt.Errorf("encode task %q: %w", kind, err)
	}
	return kind, string(payload), nil
}

// Decode rebuilds a task from its kind tag and payload.
func (r *Registry) Decode(kind, payload string) (Task, error) {
	factory, ok := r.factory(kind)
	if !ok {
		return nil, fmt.Errorf("decode task %q: %w", kind, ErrUnknownKind)
	}

	task := factory()
	if err := json.Unmarshal([]byte(payload), task); err != nil {
		return nil, fmt.Errorf("decode task %q: %w", kind, err)
	}
	if task.Kind() != kind {
		return nil, fmt.Errorf("decode task %q: factory built %q", kind, task.Kind())
	}
	return task, nil
}

func (r *Registry) factory(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}
