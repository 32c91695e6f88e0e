package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scrapeq/internal/events"

	"github.com/stretchr/testify/require"
)

// recorder collects executions shared by every decoded test task.
type recorder struct {
	mu       sync.Mutex
	executed []string
	failures map[string]int
}

func newRecorder() *recorder {
	return &recorder{failures: make(map[string]int)}
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, name)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

// takeFailure reports whether name should still fail, consuming one failure.
func (r *recorder) takeFailure(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures[name] == 0 {
		return false
	}
	if r.failures[name] > 0 {
		r.failures[name]--
	}
	return true
}

type noteTask struct {
	Name     string   `json:"name"`
	Children []string `json:"children,omitempty"`

	rec *recorder
}

func (t *noteTask) Kind() string { return "note" }

func (t *noteTask) Execute(ctx context.Context, q Enqueuer) error {
	if t.rec.takeFailure(t.Name) {
		return errors.New("flaky " + t.Name)
	}
	t.rec.add(t.Name)
	for _, child := range t.Children {
		if err := q.Enqueue(ctx, &noteTask{Name: child, rec: t.rec}); err != nil {
			return err
		}
	}
	return nil
}

type panicTask struct{}

func (t *panicTask) Kind() string { return "panic" }

func (t *panicTask) Execute(context.Context, Enqueuer) error {
	panic("boom")
}

type unregisteredTask struct{}

func (t *unregisteredTask) Kind() string { return "ghost" }

func (t *unregisteredTask) Execute(context.Context, Enqueuer) error { return nil }

func newTestRegistry(t *testing.T, rec *recorder) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register("note", func() Task { return &noteTask{rec: rec} }))
	require.NoError(t, reg.Register("panic", func() Task { return &panicTask{} }))
	return reg
}

func fastOptions(bus *events.EventBus) Options {
	return Options{
		Retry:        RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		PollInterval: time.Millisecond,
		Events:       bus,
	}
}

// collectEvents returns a bus and a getter for the event types seen so far.
func collectEvents(types ...string) (*events.EventBus, func() []string) {
	bus := events.NewEventBus()
	var mu sync.Mutex
	var seen []string
	for _, typ := range types {
		bus.Subscribe(typ, func(e *events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, e.Type)
			return nil
		})
	}
	return bus, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}
