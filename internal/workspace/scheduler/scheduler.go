package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pysugar/workspace-nexus/internal/workspace"
)

// DefaultMaxRetries bounds attempts for tasks scheduled without a limit.
const DefaultMaxRetries = 3

// Executor runs a command now, through permission validation and the tool
// layer. A denied validation must come back as a *workspace.WorkspaceError.
type Executor interface {
	ExecuteCommand(ctx context.Context, agentID, connectionID string, cmd workspace.Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, agentID, connectionID string, cmd workspace.Command) error

func (f ExecutorFunc) ExecuteCommand(ctx context.Context, agentID, connectionID string, cmd workspace.Command) error {
	return f(ctx, agentID, connectionID, cmd)
}

// ExecutionReport describes one attempt.
type ExecutionReport struct {
	TaskID      string    `json:"taskId"`
	Success     bool      `json:"success"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ShouldRetry bool      `json:"shouldRetry"`
	RetryCount  int       `json:"retryCount"`
	NextRun     time.Time `json:"nextRun,omitempty"`
}

// SweepReport summarises one ProcessDueTasks pass.
type SweepReport struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Scheduler owns scheduled tasks and their retry state machine.
type Scheduler struct {
	store      TaskStore
	exec       Executor
	policy     RetryPolicy
	maxRetries int
	now        func() time.Time

	sweepMu sync.Mutex

	// stateMu serialises read-modify-write of stored task state.
	stateMu sync.Mutex

	runMu   sync.Mutex
	running map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

func WithMaxRetries(n int) Option {
	return func(s *Scheduler) { s.maxRetries = n }
}

// New builds a scheduler over store; exec replays due commands.
func New(store TaskStore, exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		exec:       exec,
		policy:     DefaultRetryPolicy(),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		running:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleCommand persists cmd to run at cmd.ScheduledTime.
func (s *Scheduler) ScheduleCommand(ctx context.Context, agentID, connectionID string, cmd workspace.Command) (*Task, error) {
	if cmd.ScheduledTime == nil {
		return nil, errors.New("command has no scheduled time")
	}
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	now := s.now()
	task := &Task{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		ConnectionID: connectionID,
		Command:      cmd,
		Status:       StatusPending,
		NextRun:      *cmd.ScheduledTime,
		Enabled:      true,
		MaxRetries:   s.maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("save scheduled task: %w", err)
	}
	log.Printf("📅 Scheduled %s for agent %s at %s (task %s)", cmd.Type, agentID, task.NextRun.Format(time.RFC3339), task.ID)
	return task, nil
}

func (s *Scheduler) acquire(id string) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.runMu.Lock()
	delete(s.running, id)
	s.runMu.Unlock()
}

// update applies mutate to the stored task and saves it. Every state change
// goes through here, so a change never overwrites one made in between.
func (s *Scheduler) update(ctx context.Context, taskID string, mutate func(*Task) error) (*Task, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := mutate(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = s.now()
	if err := s.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("save task %s: %w", taskID, err)
	}
	return task, nil
}

// ExecuteScheduledTask runs a task now. Permission is re-validated by the
// executor at fire time; grants from schedule time are not trusted. A task
// cancelled while its attempt is in flight stays cancelled.
func (s *Scheduler) ExecuteScheduledTask(ctx context.Context, taskID string) (*ExecutionReport, error) {
	if !s.acquire(taskID) {
		return nil, fmt.Errorf("%w: %s", ErrTaskRunning, taskID)
	}
	defer s.release(taskID)

	if _, err := s.update(ctx, taskID, func(t *Task) error {
		if !t.Enabled {
			return fmt.Errorf("%w: %s", ErrTaskDisabled, taskID)
		}
		if t.Due(s.now()) {
			t.Status = StatusDue
		}
		return nil
	}); err != nil {
		return nil, err
	}
	task, err := s.update(ctx, taskID, func(t *Task) error {
		if !t.Enabled {
			return fmt.Errorf("%w: %s", ErrTaskDisabled, taskID)
		}
		t.Status = StatusExecuting
		return nil
	})
	if err != nil {
		return nil, err
	}

	execErr := s.exec.ExecuteCommand(ctx, task.AgentID, task.ConnectionID, task.Command)

	report := &ExecutionReport{TaskID: taskID}
	if execErr != nil {
		report.Error = execErr.Error()
		report.ShouldRetry = ShouldRetry(execErr)
	}

	task, err = s.update(ctx, taskID, func(t *Task) error {
		now := s.now()
		t.LastRun = &now
		if !t.Enabled || t.Status == StatusCancelled {
			t.LastError = report.Error
			log.Printf("🛑 Scheduled task %s was cancelled during its attempt; keeping %s", t.ID, t.Status)
			return nil
		}
		if execErr == nil {
			t.Status = StatusCompleted
			t.Enabled = false
			t.LastError = ""
			report.Success = true
			log.Printf("✅ Scheduled task %s (%s) completed", t.ID, t.Command.Type)
			return nil
		}
		t.RetryCount++
		t.LastError = execErr.Error()
		if report.ShouldRetry && t.RetryCount < t.MaxRetries {
			t.Status = StatusRetryScheduled
			t.NextRun = now.Add(s.policy.Delay(t.RetryCount, execErr, now))
			log.Printf("⏳ Scheduled task %s failed (attempt %d/%d), retrying at %s: %v",
				t.ID, t.RetryCount, t.MaxRetries, t.NextRun.Format(time.RFC3339), execErr)
		} else {
			t.Status = StatusFailedPermanent
			t.Enabled = false
			log.Printf("❌ Scheduled task %s failed permanently after %d attempt(s): %v", t.ID, t.RetryCount, execErr)
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	report.Status = task.Status
	report.RetryCount = task.RetryCount
	report.NextRun = task.NextRun
	return report, nil
}

// GetDueTasks lists enabled tasks whose next run is not in the future.
func (s *Scheduler) GetDueTasks(ctx context.Context) ([]Task, error) {
	return s.store.ListDue(ctx, s.now())
}

// GetAgentTasks lists every task of one agent.
func (s *Scheduler) GetAgentTasks(ctx context.Context, agentID string) ([]Task, error) {
	return s.store.ListByAgent(ctx, agentID)
}

// GetTask returns one task.
func (s *Scheduler) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return s.store.Get(ctx, taskID)
}

// CancelScheduledTask disables a task. An in-flight attempt is not
// interrupted, but its outcome will not re-enable the task.
func (s *Scheduler) CancelScheduledTask(ctx context.Context, taskID string) error {
	var changed bool
	_, err := s.update(ctx, taskID, func(t *Task) error {
		if !t.Enabled {
			return nil
		}
		t.Enabled = false
		t.Status = StatusCancelled
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	if changed {
		log.Printf("🛑 Cancelled scheduled task %s", taskID)
	}
	return nil
}

// ProcessDueTasks runs every due task once. Sweeps are serialised; a task
// still executing from elsewhere is skipped.
func (s *Scheduler) ProcessDueTasks(ctx context.Context) (SweepReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var report SweepReport
	due, err := s.GetDueTasks(ctx)
	if err != nil {
		return report, fmt.Errorf("list due tasks: %w", err)
	}
	report.Due = len(due)

	for i := range due {
		task := &due[i]
		res, err := s.ExecuteScheduledTask(ctx, task.ID)
		switch {
		case errors.Is(err, ErrTaskRunning), errors.Is(err, ErrTaskDisabled):
			report.Skipped++
			continue
		case err != nil && res == nil:
			log.Printf("⚠️ Scheduled task %s could not run: %v", task.ID, err)
			report.Skipped++
			continue
		}
		switch res.Status {
		case StatusCompleted:
			report.Completed++
		case StatusRetryScheduled:
			report.Retried++
		case StatusCancelled:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	if report.Due > 0 {
		log.Printf("🔄 Scheduler sweep: %d due, %d completed, %d retrying, %d failed, %d skipped",
			report.Due, report.Completed, report.Retried, report.Failed, report.Skipped)
	}
	return report, nil
}

// Start sweeps every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ProcessDueTasks(ctx); err != nil {
					log.Printf("⚠️ Scheduler sweep failed: %v", err)
				}
			}
		}
	}()
	log.Printf("🔄 Scheduler started (interval: %s)", interval)
}
