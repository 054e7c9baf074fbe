package domain

import "time"

// TaskStatus enumerates the lifecycle of one remote asynchronous job.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusTimedOut:
		return true
	default:
		return false
	}
}

// Task tracks an in-flight provider job between submit and resolution. It
// lives only for the duration of one request.
type Task struct {
	ID        string
	Provider  string
	Kind      Modality
	CreatedAt time.Time
	Status    TaskStatus
	ResultURL string
	Polls     int
}
