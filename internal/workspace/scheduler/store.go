package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemoryStore keeps tasks in a map. Used by tests and single-process setups.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) Save(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return &t, nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Due(now) {
			out = append(out, t)
		}
	}
	sortByNextRun(out)
	return out, nil
}

func (s *MemoryStore) ListByAgent(_ context.Context, agentID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	sortByNextRun(out)
	return out, nil
}

func sortByNextRun(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].NextRun.Equal(tasks[j].NextRun) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].NextRun.Before(tasks[j].NextRun)
	})
}

// GormStore persists tasks in the workspace_scheduled_tasks table with the
// command JSON-encoded.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Save(ctx context.Context, task *Task) error {
	row, err := toRow(task)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*Task, error) {
	var row models.WorkspaceScheduledTask
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return fromRow(&row)
}

func (s *GormStore) ListDue(ctx context.Context, now time.Time) ([]Task, error) {
	var rows []models.WorkspaceScheduledTask
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run <= ?", true, now).
		Order("next_run ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *GormStore) ListByAgent(ctx context.Context, agentID string) ([]Task, error) {
	var rows []models.WorkspaceScheduledTask
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("next_run ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func toRow(t *Task) (*models.WorkspaceScheduledTask, error) {
	cmd, err := json.Marshal(t.Command)
	if err != nil {
		return nil, fmt.Errorf("encode command for task %s: %w", t.ID, err)
	}
	return &models.WorkspaceScheduledTask{
		ID:           t.ID,
		AgentID:      t.AgentID,
		ConnectionID: t.ConnectionID,
		Command:      string(cmd),
		Status:       string(t.Status),
		NextRun:      t.NextRun,
		LastRun:      t.LastRun,
		Enabled:      t.Enabled,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		LastError:    t.LastError,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}, nil
}

func fromRow(r *models.WorkspaceScheduledTask) (*Task, error) {
	t := &Task{
		ID:           r.ID,
		AgentID:      r.AgentID,
		ConnectionID: r.ConnectionID,
		Status:       Status(r.Status),
		NextRun:      r.NextRun,
		LastRun:      r.LastRun,
		Enabled:      r.Enabled,
		RetryCount:   r.RetryCount,
		MaxRetries:   r.MaxRetries,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Command), &t.Command); err != nil {
		return nil, fmt.Errorf("decode command for task %s: %w", r.ID, err)
	}
	return t, nil
}

func fromRows(rows []models.WorkspaceScheduledTask) ([]Task, error) {
	out := make([]Task, 0, len(rows))
	for i := range rows {
		t, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}
