package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"scrapeq/internal/events"
	"scrapeq/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQueue_IsEmptyLifecycle(t *testing.T) {
	rec := newRecorder()
	q := New(NewMemoryStore(), newTestRegistry(t, rec), Options{})
	ctx := context.Background()

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "a"}))
	empty, err = q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	job, err := q.DequeueNext(ctx)
	require.NoError(t, err)

	// dequeue alone does not complete the task
	empty, err = q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	require.NoError(t, q.MarkDone(ctx, job))
	empty, err = q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestQueue_DequeueFIFO(t *testing.T) {
	rec := newRecorder()
	q := New(NewMemoryStore(), newTestRegistry(t, rec), Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "A"}))
	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "B"}))

	first, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", first.Task.(*noteTask).Name)
	assert.Equal(t, "note", first.Kind)

	// still pending, so dequeued again until marked done
	again, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, q.MarkDone(ctx, first))

	second, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", second.Task.(*noteTask).Name)
	assert.Greater(t, second.ID, first.ID)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New(NewMemoryStore(), newTestRegistry(t, newRecorder()), Options{})

	job, err := q.DequeueNext(context.Background())
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_MarkDone(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, newTestRegistry(t, newRecorder()), Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "once"}))
	job, err := q.DequeueNext(ctx)
	require.NoError(t, err)

	t.Run("Idempotent", func(t *testing.T) {
		require.NoError(t, q.MarkDone(ctx, job))
		require.NoError(t, q.MarkDone(ctx, job))
		assert.Equal(t, models.TaskDone, store.Records()[0].Status)
	})

	t.Run("UnknownID", func(t *testing.T) {
		err := q.MarkDone(ctx, &Job{ID: 42})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("NilJob", func(t *testing.T) {
		assert.Error(t, q.MarkDone(ctx, nil))
	})
}

func TestQueue_RunListScenario(t *testing.T) {
	rec := newRecorder()
	store := NewMemoryStore()
	bus, seen := collectEvents(events.EventTaskEnqueued, events.EventTaskCompleted)
	q := New(store, newTestRegistry(t, rec), fastOptions(bus))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "list", Children: []string{"detail-1", "detail-2"}}))
	require.NoError(t, q.Run(ctx))

	records := store.Records()
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, models.TaskDone, r.Status, "task %d", r.ID)
	}

	pending, err := store.CountTasks(ctx, models.TaskPending)
	require.NoError(t, err)
	assert.Zero(t, pending)

	assert.Equal(t, []string{"list", "detail-1", "detail-2"}, rec.names())
	assert.Equal(t, 1, rec.count("detail-1"))
	assert.Equal(t, 1, rec.count("detail-2"))

	assert.Len(t, seen(), 6)

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestQueue_RunExecutesEveryTaskOnce(t *testing.T) {
	rec := newRecorder()
	q := New(NewMemoryStore(), newTestRegistry(t, rec), fastOptions(nil))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "a", Children: []string{"a1", "a2"}}))
	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "b"}))
	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "c", Children: []string{"c1"}}))

	require.NoError(t, q.Run(ctx))

	// breadth order by id: children are appended after the seeds
	assert.Equal(t, []string{"a", "b", "c", "a1", "a2", "c1"}, rec.names())

	// a second run on an empty queue does nothing
	require.NoError(t, q.Run(ctx))
	assert.Len(t, rec.names(), 6)
}

func TestQueue_RunRetriesThenSucceeds(t *testing.T) {
	rec := newRecorder()
	rec.failures["flaky"] = 2
	store := NewMemoryStore()
	bus, seen := collectEvents(events.EventTaskRetried, events.EventTaskCompleted, events.EventTaskFailed)
	q := New(store, newTestRegistry(t, rec), fastOptions(bus))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "flaky"}))
	require.NoError(t, q.Run(ctx))

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.TaskDone, records[0].Status)
	assert.Equal(t, 2, records[0].RetryCount)
	assert.Equal(t, 1, rec.count("flaky"))
	assert.Equal(t, []string{events.EventTaskRetried, events.EventTaskRetried, events.EventTaskCompleted}, seen())
}

func TestQueue_RunRetriesExhausted(t *testing.T) {
	rec := newRecorder()
	rec.failures["doomed"] = -1
	store := NewMemoryStore()
	bus, seen := collectEvents(events.EventTaskRetried, events.EventTaskFailed)
	opts := fastOptions(bus)
	opts.Retry.MaxRetries = 2
	q := New(store, newTestRegistry(t, rec), opts)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "doomed"}))
	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "fine"}))
	require.NoError(t, q.Run(ctx))

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, models.TaskFailed, records[0].Status)
	require.NotNil(t, records[0].LastError)
	assert.Contains(t, *records[0].LastError, "flaky doomed")
	assert.Equal(t, models.TaskDone, records[1].Status)

	assert.Equal(t, []string{events.EventTaskRetried, events.EventTaskFailed}, seen())

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestQueue_RunSkipsUndecodableTask(t *testing.T) {
	rec := newRecorder()
	store := NewMemoryStore()
	q := New(store, newTestRegistry(t, rec), fastOptions(nil))
	ctx := context.Background()

	require.NoError(t, store.CreateTask(ctx, &models.TaskRecord{TaskType: "note", Payload: "{not json"}))
	require.NoError(t, store.CreateTask(ctx, &models.TaskRecord{TaskType: "vanished", Payload: "{}"}))
	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "ok"}))

	_, err := q.DequeueNext(ctx)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, int64(1), decodeErr.ID)

	require.NoError(t, q.Run(ctx))

	records := store.Records()
	require.Len(t, records, 3)
	assert.Equal(t, models.TaskFailed, records[0].Status)
	assert.Equal(t, models.TaskFailed, records[1].Status)
	assert.Contains(t, *records[1].LastError, ErrUnknownKind.Error())
	assert.Equal(t, models.TaskDone, records[2].Status)
	assert.Equal(t, []string{"ok"}, rec.names())
}

func TestQueue_RunPanicIsFailure(t *testing.T) {
	store := NewMemoryStore()
	opts := fastOptions(nil)
	opts.Retry.MaxRetries = 1
	q := New(store, newTestRegistry(t, newRecorder()), opts)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &panicTask{}))
	require.NoError(t, q.Run(ctx))

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.TaskFailed, records[0].Status)
	assert.Contains(t, *records[0].LastError, "task panicked: boom")
}

func TestQueue_RunCancelled(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, newTestRegistry(t, newRecorder()), fastOptions(nil))

	require.NoError(t, q.Enqueue(context.Background(), &noteTask{Name: "never"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Run(ctx), context.Canceled)
	assert.Equal(t, models.TaskPending, store.Records()[0].Status)
}

func TestQueue_NoTaskDue(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, newTestRegistry(t, newRecorder()), Options{PollInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &noteTask{Name: "later"}))
	require.NoError(t, store.ScheduleTaskRetry(ctx, 1, "busy", time.Now().Add(time.Hour)))

	_, err := q.DequeueNext(ctx)
	assert.ErrorIs(t, err, ErrNoTaskDue)

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	q.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	job, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, job.RetryCount)

	// Run waits for the poll interval and gives up when the context ends
	q.now = time.Now
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Run(runCtx), context.DeadlineExceeded)
}

func TestQueue_EnqueueUnknownKind(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, newTestRegistry(t, newRecorder()), Options{})

	err := q.Enqueue(context.Background(), &unregisteredTask{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Empty(t, store.Records())
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateTask(ctx context.Context, task *models.TaskRecord) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockStore) NextPendingTask(ctx context.Context, now time.Time) (*models.TaskRecord, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TaskRecord), args.Error(1)
}

func (m *mockStore) CountTasks(ctx context.Context, status models.TaskStatus) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) MarkTaskDone(ctx context.Context, id int64, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockStore) MarkTaskFailed(ctx context.Context, id int64, errMsg string, at time.Time) error {
	return m.Called(ctx, id, errMsg, at).Error(0)
}

func (m *mockStore) ScheduleTaskRetry(ctx context.Context, id int64, errMsg string, next time.Time) error {
	return m.Called(ctx, id, errMsg, next).Error(0)
}

func TestQueue_StoreUnavailable(t *testing.T) {
	store := new(mockStore)
	q := New(store, newTestRegistry(t, newRecorder()), Options{})
	ctx := context.Background()
	down := errors.New("disk I/O error")

	store.On("CreateTask", ctx, mock.Anything).Return(down).Once()
	err := q.Enqueue(ctx, &noteTask{Name: "x"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, down)

	store.On("CountTasks", ctx, models.TaskPending).Return(0, down).Once()
	assert.ErrorIs(t, q.Run(ctx), ErrStoreUnavailable)

	store.On("CountTasks", ctx, models.TaskPending).Return(1, nil).Once()
	store.On("NextPendingTask", ctx, mock.Anything).Return(nil, down).Once()
	assert.ErrorIs(t, q.Run(ctx), ErrStoreUnavailable)

	store.On("MarkTaskDone", ctx, int64(5), mock.Anything).Return(down).Once()
	assert.ErrorIs(t, q.MarkDone(ctx, &Job{ID: 5}), ErrStoreUnavailable)

	store.AssertExpectations(t)
}
