package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/dbtest"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedExecutor fails with the queued errors, then succeeds.
type scriptedExecutor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (e *scriptedExecutor) ExecuteCommand(context.Context, string, string, workspace.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) == 0 {
		return nil
	}
	err := e.errs[0]
	e.errs = e.errs[1:]
	return err
}

func newScheduler(t *testing.T, exec Executor) (*Scheduler, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	return New(NewMemoryStore(), exec, WithClock(c.now)), c
}

func schedule(t *testing.T, s *Scheduler, at time.Time) *Task {
	t.Helper()
	task, err := s.ScheduleCommand(context.Background(), "agent-1", "conn-1", workspace.Command{
		Type:          workspace.CommandSendEmail,
		Entities:      map[string]any{"to": "bob@example.com"},
		ScheduledTime: &at,
	})
	if err != nil {
		t.Fatalf("ScheduleCommand: %v", err)
	}
	return task
}

func TestScheduleCommand_RequiresScheduledTime(t *testing.T) {
	s, _ := newScheduler(t, &scriptedExecutor{})
	if _, err := s.ScheduleCommand(context.Background(), "agent-1", "conn-1", workspace.Command{Type: workspace.CommandSendEmail}); err == nil {
		t.Fatalf("expected error without scheduled time")
	}
}

func TestProcessDueTasks_OnlyRunsDueTasks(t *testing.T) {
	exec := &scriptedExecutor{}
	s, c := newScheduler(t, exec)
	ctx := context.Background()

	due := schedule(t, s, c.now().Add(-time.Minute))
	later := schedule(t, s, c.now().Add(time.Hour))

	report, err := s.ProcessDueTasks(ctx)
	if err != nil {
		t.Fatalf("ProcessDueTasks: %v", err)
	}
	if report.Due != 1 || report.Completed != 1 || exec.calls != 1 {
		t.Fatalf("report = %+v calls = %d", report, exec.calls)
	}

	got, _ := s.GetTask(ctx, due.ID)
	if got.Status != StatusCompleted || got.Enabled || got.LastRun == nil {
		t.Fatalf("due task = %+v", got)
	}
	pending, _ := s.GetTask(ctx, later.ID)
	if pending.Status != StatusPending || !pending.Enabled {
		t.Fatalf("later task = %+v", pending)
	}
}

func TestExecuteScheduledTask_RetryExhaustion(t *testing.T) {
	netErr := errors.New("network error: connection reset by peer")
	exec := &scriptedExecutor{errs: []error{netErr, netErr, netErr}}
	s, c := newScheduler(t, exec)
	ctx := context.Background()
	task := schedule(t, s, c.now())

	wantStatus := []Status{StatusRetryScheduled, StatusRetryScheduled, StatusFailedPermanent}
	for i, want := range wantStatus {
		res, err := s.ExecuteScheduledTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if res.Status != want || res.RetryCount != i+1 || !res.ShouldRetry {
			t.Fatalf("attempt %d: report = %+v", i+1, res)
		}
		c.advance(2 * time.Hour)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Enabled {
		t.Fatalf("task should be disabled after exhausting retries")
	}
	due, _ := s.GetDueTasks(ctx)
	if len(due) != 0 {
		t.Fatalf("exhausted task still due: %+v", due)
	}
}

func TestExecuteScheduledTask_PermissionFailureIsNotRetried(t *testing.T) {
	denied := workspace.NoPermissionError(models.CapabilityEmailSend, nil)
	exec := &scriptedExecutor{errs: []error{denied}}
	s, c := newScheduler(t, exec)
	task := schedule(t, s, c.now())

	res, err := s.ExecuteScheduledTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ExecuteScheduledTask: %v", err)
	}
	if res.ShouldRetry || res.Status != StatusFailedPermanent {
		t.Fatalf("report = %+v", res)
	}
	got, _ := s.GetTask(context.Background(), task.ID)
	if got.Enabled {
		t.Fatalf("task should be disabled")
	}
}

func TestExecuteScheduledTask_BacksOffExponentially(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{errors.New("request timeout"), errors.New("request timeout")}}
	s, c := newScheduler(t, exec)
	s.maxRetries = 5
	task := schedule(t, s, c.now())

	first, _ := s.ExecuteScheduledTask(context.Background(), task.ID)
	if d := first.NextRun.Sub(c.now()); d != time.Minute {
		t.Fatalf("first delay = %v, want 1m", d)
	}
	second, _ := s.ExecuteScheduledTask(context.Background(), task.ID)
	if d := second.NextRun.Sub(c.now()); d != 2*time.Minute {
		t.Fatalf("second delay = %v, want 2m", d)
	}
}

func TestExecuteScheduledTask_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	exec := ExecutorFunc(func(context.Context, string, string, workspace.Command) error {
		close(started)
		<-release
		return nil
	})
	s, c := newScheduler(t, exec)
	task := schedule(t, s, c.now())

	done := make(chan error, 1)
	go func() {
		_, err := s.ExecuteScheduledTask(context.Background(), task.ID)
		done <- err
	}()
	<-started

	if _, err := s.ExecuteScheduledTask(context.Background(), task.ID); !errors.Is(err, ErrTaskRunning) {
		t.Fatalf("expected ErrTaskRunning, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestCancelScheduledTask(t *testing.T) {
	s, c := newScheduler(t, &scriptedExecutor{})
	ctx := context.Background()
	task := schedule(t, s, c.now())

	if err := s.CancelScheduledTask(ctx, task.ID); err != nil {
		t.Fatalf("CancelScheduledTask: %v", err)
	}
	if _, err := s.ExecuteScheduledTask(ctx, task.ID); !errors.Is(err, ErrTaskDisabled) {
		t.Fatalf("expected ErrTaskDisabled, got %v", err)
	}
	if err := s.CancelScheduledTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCancelScheduledTask_DuringAttemptStaysCancelled(t *testing.T) {
	ctx := context.Background()
	var s *Scheduler
	var taskID string
	exec := ExecutorFunc(func(context.Context, string, string, workspace.Command) error {
		if err := s.CancelScheduledTask(ctx, taskID); err != nil {
			t.Errorf("cancel: %v", err)
		}
		return errors.New("network error: connection reset by peer")
	})
	s, c := newScheduler(t, exec)
	taskID = schedule(t, s, c.now()).ID

	res, err := s.ExecuteScheduledTask(ctx, taskID)
	if err != nil {
		t.Fatalf("ExecuteScheduledTask: %v", err)
	}
	if res.Status != StatusCancelled || res.Success {
		t.Fatalf("report = %+v", res)
	}
	got, _ := s.GetTask(ctx, taskID)
	if got.Enabled || got.Status != StatusCancelled {
		t.Fatalf("cancelled task came back: status=%s enabled=%v", got.Status, got.Enabled)
	}
	if got.LastRun == nil || got.LastError == "" || got.RetryCount != 0 {
		t.Fatalf("attempt not recorded as-is: %+v", got)
	}
	c.advance(24 * time.Hour)
	if due, _ := s.GetDueTasks(ctx); len(due) != 0 {
		t.Fatalf("cancelled task is due again: %+v", due)
	}
}

// cancelAfterListStore cancels a task once the sweep has listed it as due.
type cancelAfterListStore struct {
	*MemoryStore
	cancel func()
}

func (s cancelAfterListStore) ListDue(ctx context.Context, now time.Time) ([]Task, error) {
	due, err := s.MemoryStore.ListDue(ctx, now)
	s.cancel()
	return due, err
}

func TestProcessDueTasks_SkipsTaskCancelledAfterListing(t *testing.T) {
	ctx := context.Background()
	exec := &scriptedExecutor{}
	c := &clock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	var s *Scheduler
	var taskID string
	store := cancelAfterListStore{MemoryStore: NewMemoryStore(), cancel: func() {
		if err := s.CancelScheduledTask(ctx, taskID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}}
	s = New(store, exec, WithClock(c.now))
	taskID = schedule(t, s, c.now()).ID

	report, err := s.ProcessDueTasks(ctx)
	if err != nil {
		t.Fatalf("ProcessDueTasks: %v", err)
	}
	if report.Due != 1 || report.Skipped != 1 || exec.calls != 0 {
		t.Fatalf("report = %+v calls = %d", report, exec.calls)
	}
	got, _ := s.GetTask(ctx, taskID)
	if got.Enabled || got.Status != StatusCancelled {
		t.Fatalf("task = status %s enabled %v", got.Status, got.Enabled)
	}
}

func TestExecuteScheduledTask_MarksExecutingDuringAttempt(t *testing.T) {
	ctx := context.Background()
	var s *Scheduler
	var taskID string
	var seen Status
	exec := ExecutorFunc(func(context.Context, string, string, workspace.Command) error {
		got, err := s.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		seen = got.Status
		return nil
	})
	s, c := newScheduler(t, exec)
	taskID = schedule(t, s, c.now()).ID

	if _, err := s.ExecuteScheduledTask(ctx, taskID); err != nil {
		t.Fatalf("ExecuteScheduledTask: %v", err)
	}
	if seen != StatusExecuting {
		t.Fatalf("status during attempt = %s", seen)
	}
}

func TestShouldRetry(t *testing.T) {
	conn := &models.WorkspaceConnection{ID: "c1", Email: "a@biz.com", Provider: models.ProviderGoogleWorkspace}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("dial tcp: network is unreachable"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"timeout text", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"service unavailable", &providers.APIError{StatusCode: 503, Message: "backend"}, true},
		{"permission denied text", errors.New("permission denied"), false},
		{"rate limited validation", workspace.RateLimitedError(models.CapabilityEmailSend, conn, time.Now()), true},
		{"expired token", workspace.ExpiredTokenError(models.CapabilityEmailSend, conn), false},
		{"no permission wrapping network", fmt.Errorf("network: %w", workspace.NoPermissionError(models.CapabilityEmailSend, conn)), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldRetry(tc.err); got != tc.want {
				t.Fatalf("ShouldRetry(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryPolicy_DelayHonoursProviderHint(t *testing.T) {
	p := RetryPolicy{Base: time.Minute, Max: 10 * time.Minute, Multiplier: 2}
	now := time.Now()

	if d := p.Delay(5, errors.New("x"), now); d != 10*time.Minute {
		t.Fatalf("capped delay = %v", d)
	}
	hint := &providers.APIError{StatusCode: 429, RetryAfter: 30 * time.Minute}
	if d := p.Delay(1, hint, now); d != 30*time.Minute {
		t.Fatalf("hinted delay = %v", d)
	}
}

func TestGormStore_RoundTrip(t *testing.T) {
	store := NewGormStore(dbtest.NewDB(t))
	ctx := context.Background()
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	task := &Task{
		ID: "t1", AgentID: "agent-1", ConnectionID: "conn-1",
		Command: workspace.Command{Type: workspace.CommandScheduleMeeting, Entities: map[string]any{"title": "Sync"}, ScheduledTime: &at},
		Status:  StatusPending, NextRun: at, Enabled: true, MaxRetries: 3,
	}
	if err := store.Save(ctx, task); err != nil {
		t.Fatalf("Save: %v", err)
	}
	task.RetryCount = 1
	task.Status = StatusRetryScheduled
	if err := store.Save(ctx, task); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Command.Type != workspace.CommandScheduleMeeting || got.Command.Entities["title"] != "Sync" || got.RetryCount != 1 {
		t.Fatalf("task = %+v", got)
	}

	due, err := store.ListDue(ctx, at.Add(time.Second))
	if err != nil || len(due) != 1 {
		t.Fatalf("ListDue = %v, %v", due, err)
	}
	if due, _ := store.ListDue(ctx, at.Add(-time.Second)); len(due) != 0 {
		t.Fatalf("not yet due, got %d", len(due))
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
