package metrics

import (
	"sync"

	"scrapeq/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scrapeq"

// Task outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

var (
	once sync.Once

	tasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks added to the queue by kind.",
		},
		[]string{"kind"},
	)

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Task executions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of successful task executions.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	fetchCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cache_total",
			Help:      "Page fetches by cache result.",
		},
		[]string{"result"},
	)

	itemsScraped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_scraped_total",
			Help:      "Detail pages stored.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(tasksEnqueued, tasksProcessed, taskDuration, fetchCache, itemsScraped)
	})
}

// Subscribe feeds the counters from bus events.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTaskEnqueued, func(e *events.Event) error {
		var p events.TaskEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		tasksEnqueued.WithLabelValues(p.Kind).Inc()
		return nil
	})

	outcomes := map[string]string{
		events.EventTaskCompleted: OutcomeCompleted,
		events.EventTaskRetried:   OutcomeRetried,
		events.EventTaskFailed:    OutcomeFailed,
	}
	for eventType, outcome := range outcomes {
		outcome := outcome
		bus.Subscribe(eventType, func(e *events.Event) error {
			var p events.TaskEventPayload
			if err := e.Decode(&p); err != nil {
				return err
			}
			tasksProcessed.WithLabelValues(p.Kind, outcome).Inc()
			if outcome == OutcomeCompleted {
				taskDuration.WithLabelValues(p.Kind).Observe(p.Duration)
			}
			return nil
		})
	}

	bus.Subscribe(events.EventPageFetched, func(e *events.Event) error {
		var p events.PageEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		fetchCache.WithLabelValues(p.Cache).Inc()
		return nil
	})

	bus.Subscribe(events.EventItemScraped, func(*events.Event) error {
		itemsScraped.Inc()
		return nil
	})
}
