package models

import "time"

// TaskStatus is the lifecycle state of a persisted task record.
type TaskStatus int

const (
	TaskPending TaskStatus = 0
	TaskDone    TaskStatus = 1
	TaskFailed  TaskStatus = 2
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	return s == TaskPending || s == TaskDone || s == TaskFailed
}

// TaskRecord is a queued unit of work as stored in the tasks table.
// Payload holds the JSON encoding of the task variant named by TaskType.
type TaskRecord struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	Payload     string     `json:"payload"`
	Status      TaskStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// Due reports whether a pending record may be picked up at now.
func (t *TaskRecord) Due(now time.Time) bool {
	return t.NextRetryAt == nil || !t.NextRetryAt.After(now)
}
