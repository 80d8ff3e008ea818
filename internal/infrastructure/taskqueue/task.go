package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle of a queued task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"
	TaskStatusDead      TaskStatus = "DEAD"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsActive returns true while the task may still run
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// Task is one unit of queued work. ID is caller-chosen and unique among active tasks.
type Task struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      TaskStatus      `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a pending task with a JSON payload
func NewTask(id, kind string, payload any) (*Task, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Task{ID: id, Kind: kind, Payload: raw, Status: TaskStatusPending}, nil
}

// DecodePayload unmarshals the payload into v
func (t *Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload, v)
}

// CanRetry reports whether another attempt is allowed
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

func (t *Task) start(at time.Time) {
	t.Status = TaskStatusRunning
	t.Attempts++
	t.StartedAt = &at
	t.NextRunAt = nil
}

func (t *Task) succeed(at time.Time) {
	t.Status = TaskStatusSucceeded
	t.CompletedAt = &at
	t.LastError = ""
}

func (t *Task) scheduleRetry(err error, at time.Time) {
	t.Status = TaskStatusPending
	t.LastError = err.Error()
	t.NextRunAt = &at
}

func (t *Task) kill(err error, at time.Time) {
	t.Status = TaskStatusDead
	t.LastError = err.Error()
	t.CompletedAt = &at
}

func (t *Task) cancel(at time.Time) {
	t.Status = TaskStatusCancelled
	t.CompletedAt = &at
}
