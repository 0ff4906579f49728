// Package scheduler defers workspace commands to a future time and replays
// them through the full validate-then-execute path when they fall due.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/pysugar/workspace-nexus/internal/workspace"
)

var (
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("scheduled task not found")
	// ErrTaskRunning is returned when the task is already executing.
	ErrTaskRunning = errors.New("scheduled task already executing")
	// ErrTaskDisabled is returned when executing a cancelled or finished task.
	ErrTaskDisabled = errors.New("scheduled task is disabled")
)

// Status is a scheduled task's position in its lifecycle:
// PENDING -> DUE -> EXECUTING -> COMPLETED | RETRY_SCHEDULED | FAILED_PERMANENT.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusDue             Status = "DUE"
	StatusExecuting       Status = "EXECUTING"
	StatusCompleted       Status = "COMPLETED"
	StatusRetryScheduled  Status = "RETRY_SCHEDULED"
	StatusFailedPermanent Status = "FAILED_PERMANENT"
	StatusCancelled       Status = "CANCELLED"
)

// Task is a deferred workspace command.
type Task struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agentId"`
	ConnectionID string            `json:"connectionId"`
	Command      workspace.Command `json:"command"`
	Status       Status            `json:"status"`
	NextRun      time.Time         `json:"nextRun"`
	LastRun      *time.Time        `json:"lastRun,omitempty"`
	Enabled      bool              `json:"enabled"`
	RetryCount   int               `json:"retryCount"`
	MaxRetries   int               `json:"maxRetries"`
	LastError    string            `json:"lastError,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Due reports whether the task should run at now.
func (t *Task) Due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// TaskStore persists scheduled tasks.
type TaskStore interface {
	Save(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	ListDue(ctx context.Context, now time.Time) ([]Task, error)
	ListByAgent(ctx context.Context, agentID string) ([]Task, error)
}
