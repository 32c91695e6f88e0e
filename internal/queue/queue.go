package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"scrapeq/internal/events"
	"scrapeq/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists task records. database.DB and MemoryStore implement it.
type Store interface {
	CreateTask(ctx context.Context, task *models.TaskRecord) error
	NextPendingTask(ctx context.Context, now time.Time) (*models.TaskRecord, error)
	CountTasks(ctx context.Context, status models.TaskStatus) (int, error)
	MarkTaskDone(ctx context.Context, id int64, at time.Time) error
	MarkTaskFailed(ctx context.Context, id int64, errMsg string, at time.Time) error
	ScheduleTaskRetry(ctx context.Context, id int64, errMsg string, next time.Time) error
}

// EventPublisher receives task lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Options struct {
	Retry        RetryPolicy
	PollInterval time.Duration
	Events       EventPublisher
	Logger       *zerolog.Logger
}

// Queue is a durable FIFO of tasks drained by a single worker loop.
// Tasks run at least once: a task interrupted before MarkDone stays pending
// and runs again on the next Run.
type Queue struct {
	store    Store
	registry *Registry
	retry    RetryPolicy
	poll     time.Duration
	events   EventPublisher
	logger   *zerolog.Logger
	now      func() time.Time
}

func New(store Store, registry *Registry, opts Options) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = models.DefaultPollInterval * time.Second
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}

	return &Queue{
		store:    store,
		registry: registry,
		retry:    opts.Retry.withDefaults(),
		poll:     opts.PollInterval,
		events:   opts.Events,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// IsEmpty reports whether no task is pending, including tasks waiting for a retry.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	count, err := q.store.CountTasks(ctx, models.TaskPending)
	if err != nil {
		return false, storeErr("count pending", err)
	}
	return count == 0, nil
}

// Enqueue stores task as a new pending record.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	kind, payload, err := q.registry.Encode(task)
	if err != nil {
		return err
	}

	record := &models.TaskRecord{
		TaskType: kind,
		Payload:  payload,
		Status:   models.TaskPending,
	}
	if err := q.store.CreateTask(ctx, record); err != nil {
		return storeErr("enqueue", err)
	}

	q.logger.Debug().Int64("task_id", record.ID).Str("kind", kind).Msg("task enqueued")
	q.publish(events.EventTaskEnqueued, events.TaskEventPayload{TaskID: record.ID, Kind: kind})
	return nil
}

// DequeueNext returns the due pending task with the lowest id. The record
// stays pending until MarkDone. It returns ErrNotFound on an empty queue,
// ErrNoTaskDue when all pending tasks wait for a retry, and *DecodeError
// when the payload cannot be decoded.
func (q *Queue) DequeueNext(ctx context.Context) (*Job, error) {
	record, err := q.store.NextPendingTask(ctx, q.now())
	if errors.Is(err, models.ErrTaskNotFound) {
		empty, err := q.IsEmpty(ctx)
		if err != nil {
			return nil, err
		}
		if empty {
			return nil, ErrNotFound
		}
		return nil, ErrNoTaskDue
	}
	if err != nil {
		return nil, storeErr("dequeue", err)
	}

	task, err := q.registry.Decode(record.TaskType, record.Payload)
	if err != nil {
		return nil, &DecodeError{ID: record.ID, Kind: record.TaskType, Err: err}
	}

	return &Job{
		ID:         record.ID,
		Kind:       record.TaskType,
		RetryCount: record.RetryCount,
		Task:       task,
	}, nil
}

// MarkDone completes job. Completing it twice is a no-op.
func (q *Queue) MarkDone(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("mark done: nil job")
	}
	if err := q.store.MarkTaskDone(ctx, job.ID, q.now()); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return err
		}
		return storeErr("mark done", err)
	}
	return nil
}

// Run drains the queue: while a task is pending it dequeues one, executes it
// and marks it done. It returns nil once the queue is observed empty, the
// context error on cancellation, or the first store error.
func (q *Queue) Run(ctx context.Context) error {
	logger := q.logger.With().Str("run_id", uuid.NewString()).Logger()
	logger.Info().Msg("queue run started")

	var stats runStats
	defer func() {
		logger.Info().
			Int("completed", stats.completed).
			Int("retried", stats.retried).
			Int("failed", stats.failed).
			Msg("queue run finished")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		empty, err := q.IsEmpty(ctx)
		if err != nil {
			return q.stopErr(ctx, err)
		}
		if empty {
			return nil
		}

		if err := q.step(ctx, &logger, &stats); err != nil {
			return q.stopErr(ctx, err)
		}
	}
}

// stopErr prefers the context error so callers see cancellation, not its symptoms.
func (q *Queue) stopErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

type runStats struct {
	completed int
	retried   int
	failed    int
}

// step handles a single dequeue. Only errors that must stop Run are returned.
func (q *Queue) step(ctx context.Context, logger *zerolog.Logger, stats *runStats) error {
	job, err := q.DequeueNext(ctx)

	var decodeErr *DecodeError
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil
	case errors.Is(err, ErrNoTaskDue):
		return q.wait(ctx)
	case errors.As(err, &decodeErr):
		logger.Error().Err(err).Int64("task_id", decodeErr.ID).Msg("undecodable task, marking failed")
		stats.failed++
		return q.markFailed(ctx, decodeErr.ID, decodeErr.Kind, 0, err)
	default:
		return err
	}

	taskLogger := logger.With().Int64("task_id", job.ID).Str("kind", job.Kind).Logger()
	started := q.now()

	if err := q.execute(ctx, job, &taskLogger); err != nil {
		if ctx.Err() != nil {
			// interrupted, leave it pending for the next run
			return ctx.Err()
		}
		return q.retryOrFail(ctx, job, err, &taskLogger, stats)
	}

	if err := q.MarkDone(ctx, job); err != nil {
		return err
	}

	stats.completed++
	elapsed := q.now().Sub(started)
	taskLogger.Debug().Dur("elapsed", elapsed).Msg("task completed")
	q.publish(events.EventTaskCompleted, events.TaskEventPayload{
		TaskID:     job.ID,
		Kind:       job.Kind,
		RetryCount: job.RetryCount,
		Duration:   elapsed.Seconds(),
	})
	return nil
}

func (q *Queue) execute(ctx context.Context, job *Job, logger *zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("task panicked")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return job.Task.Execute(ctx, q)
}

func (q *Queue) retryOrFail(ctx context.Context, job *Job, cause error, logger *zerolog.Logger, stats *runStats) error {
	attempt := job.RetryCount + 1
	if q.retry.Exhausted(attempt) {
		logger.Error().Err(cause).Int("attempt", attempt).Msg("task failed, retries exhausted")
		stats.failed++
		return q.markFailed(ctx, job.ID, job.Kind, job.RetryCount, cause)
	}

	next := q.now().Add(q.retry.NextDelay(attempt))
	if err := q.store.ScheduleTaskRetry(ctx, job.ID, cause.Error(), next); err != nil {
		return storeErr("schedule retry", err)
	}

	logger.Warn().Err(cause).Int("attempt", attempt).Time("next_retry_at", next).Msg("task failed, will retry")
	stats.retried++
	q.publish(events.EventTaskRetried, events.TaskEventPayload{
		TaskID:     job.ID,
		Kind:       job.Kind,
		RetryCount: attempt,
		Error:      cause.Error(),
		NextRetry:  &next,
	})
	return nil
}

func (q *Queue) markFailed(ctx context.Context, id int64, kind string, retries int, cause error) error {
	if err := q.store.MarkTaskFailed(ctx, id, cause.Error(), q.now()); err != nil {
		return storeErr("mark failed", err)
	}
	q.publish(events.EventTaskFailed, events.TaskEventPayload{
		TaskID:     id,
		Kind:       kind,
		RetryCount: retries,
		Error:      cause.Error(),
	})
	return nil
}

func (q *Queue) wait(ctx context.Context) error {
	timer := time.NewTimer(q.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *Queue) publish(eventType string, payload events.TaskEventPayload) {
	if q.events == nil {
		return
	}
	if err := q.events.PublishJSON(eventType, payload); err != nil {
		q.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
