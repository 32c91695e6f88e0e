package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventTaskEnqueued  = "task_enqueued"
	EventTaskCompleted = "task_completed"
	EventTaskRetried   = "task_retried"
	EventTaskFailed    = "task_failed"
	EventItemScraped   = "item_scraped"
	EventPageFetched   = "page_fetched"
)

// TaskEventPayload describes a task record at a lifecycle step.
type TaskEventPayload struct {
	TaskID     int64      `json:"task_id"`
	Kind       string     `json:"kind"`
	RetryCount int        `json:"retry_count,omitempty"`
	Error      string     `json:"error,omitempty"`
	NextRetry  *time.Time `json:"next_retry,omitempty"`
	Duration   float64    `json:"duration_seconds,omitempty"`
}

// ItemEventPayload describes a scraped detail page.
type ItemEventPayload struct {
	ItemID int64  `json:"item_id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
}

// PageEventPayload describes one fetch through the cache.
type PageEventPayload struct {
	URL   string `json:"url"`
	Bytes int    `json:"bytes"`
	Cache string `json:"cache"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// ErrorHandler is told about handler failures.
type ErrorHandler func(event *Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     ErrorHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler errors.
func (b *EventBus) OnError(h ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = h
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type synchronously, in subscription order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
