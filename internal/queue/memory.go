package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scrapeq/internal/models"
)

// MemoryStore is a Store kept in process memory, for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*models.TaskRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*models.TaskRecord)}
}

func (s *MemoryStore) CreateTask(_ context.Context, task *models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	task.ID = s.nextID
	task.CreatedAt = time.Now()
	stored := *task
	s.records[stored.ID] = &stored
	return nil
}

func (s *MemoryStore) NextPendingTask(_ context.Context, now time.Time) (*models.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.TaskRecord
	for _, r := range s.records {
		if r.Status != models.TaskPending || !r.Due(now) {
			continue
		}
		if next == nil || r.ID < next.ID {
			next = r
		}
	}
	if next == nil {
		return nil, models.ErrTaskNotFound
	}
	found := *next
	return &found, nil
}

func (s *MemoryStore) CountTasks(_ context.Context, status models.TaskStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.records {
		if r.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkTaskDone(_ context.Context, id int64, at time.Time) error {
	return s.transition(id, models.TaskDone, func(r *models.TaskRecord) {
		r.ProcessedAt = &at
		r.NextRetryAt = nil
	})
}

func (s *MemoryStore) MarkTaskFailed(_ context.Context, id int64, errMsg string, at time.Time) error {
	return s.transition(id, models.TaskFailed, func(r *models.TaskRecord) {
		r.LastError = &errMsg
		r.ProcessedAt = &at
		r.NextRetryAt = nil
	})
}

func (s *MemoryStore) ScheduleTaskRetry(_ context.Context, id int64, errMsg string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return models.ErrTaskNotFound
	}
	if r.Status != models.TaskPending {
		return fmt.Errorf("retry task %d: %w", id, models.ErrInvalidTransition)
	}
	r.RetryCount++
	r.LastError = &errMsg
	r.NextRetryAt = &next
	return nil
}

// Records returns copies of all records ordered by id.
func (s *MemoryStore) Records() []models.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TaskRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) transition(id int64, target models.TaskStatus, apply func(*models.TaskRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return models.ErrTaskNotFound
	}
	switch r.Status {
	case target:
		return nil
	case models.TaskPending:
		r.Status = target
		apply(r)
		return nil
	default:
		return fmt.Errorf("task %d is %s, cannot mark %s: %w", id, r.Status, target, models.ErrInvalidTransition)
	}
}
