package metrics

import (
	"testing"

	"scrapeq/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRegister(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestSubscribe(t *testing.T) {
	bus := events.NewEventBus()
	Subscribe(bus)

	enqueued := value(t, tasksEnqueued.WithLabelValues("detail"))
	completed := value(t, tasksProcessed.WithLabelValues("detail", OutcomeCompleted))
	failed := value(t, tasksProcessed.WithLabelValues("detail", OutcomeFailed))
	hits := value(t, fetchCache.WithLabelValues("hit"))
	items := value(t, itemsScraped)

	task := events.TaskEventPayload{TaskID: 1, Kind: "detail", Duration: 0.2}
	require.NoError(t, bus.PublishJSON(events.EventTaskEnqueued, task))
	require.NoError(t, bus.PublishJSON(events.EventTaskCompleted, task))
	require.NoError(t, bus.PublishJSON(events.EventTaskFailed, task))
	require.NoError(t, bus.PublishJSON(events.EventPageFetched, events.PageEventPayload{URL: "u", Cache: "hit"}))
	require.NoError(t, bus.PublishJSON(events.EventItemScraped, events.ItemEventPayload{ItemID: 1}))

	assert.Equal(t, enqueued+1, value(t, tasksEnqueued.WithLabelValues("detail")))
	assert.Equal(t, completed+1, value(t, tasksProcessed.WithLabelValues("detail", OutcomeCompleted)))
	assert.Equal(t, failed+1, value(t, tasksProcessed.WithLabelValues("detail", OutcomeFailed)))
	assert.Equal(t, hits+1, value(t, fetchCache.WithLabelValues("hit")))
	assert.Equal(t, items+1, value(t, itemsScraped))
}

func TestSubscribe_BadPayloadReported(t *testing.T) {
	bus := events.NewEventBus()
	Subscribe(bus)

	var reported error
	bus.OnError(func(_ *events.Event, err error) { reported = err })
	bus.Publish(&events.Event{Type: events.EventTaskCompleted, Payload: []byte("not json")})

	assert.Error(t, reported)
}
