package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Audit query limits.
const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 500
)

// ConnectionFilter selects connections; zero fields are ignored.
type ConnectionFilter struct {
	UserID         string
	OrganizationID string
	Provider       models.Provider
	Email          string
	Status         models.ConnectionStatus
	IDs            []string
}

// PermissionFilter selects grants by any subset of agent, connection and capability.
type PermissionFilter struct {
	AgentID               string
	WorkspaceConnectionID string
	Capability            models.Capability
	ActiveOnly            bool
}

// AuditFilter selects audit rows, newest first.
type AuditFilter struct {
	WorkspaceConnectionID string
	AgentID               string
	Action                models.AuditAction
	Limit                 int
}

// Store is the data-access port for connections, grants and audit logs.
type Store interface {
	CreateConnection(ctx context.Context, conn *models.WorkspaceConnection) error
	UpdateConnection(ctx context.Context, conn *models.WorkspaceConnection) error
	GetConnection(ctx context.Context, id string) (*models.WorkspaceConnection, error)
	FindConnections(ctx context.Context, filter ConnectionFilter) ([]models.WorkspaceConnection, error)
	DeleteConnection(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm *models.AgentWorkspacePermission) error
	UpdatePermission(ctx context.Context, perm *models.AgentWorkspacePermission) error
	TouchPermission(ctx context.Context, id string, at time.Time) error
	GetPermission(ctx context.Context, id string) (*models.AgentWorkspacePermission, error)
	FindAgentWorkspacePermissions(ctx context.Context, filter PermissionFilter) ([]models.AgentWorkspacePermission, error)

	CreateAuditLog(ctx context.Context, entry *models.WorkspaceAuditLog) error
	FindAuditLogs(ctx context.Context, filter AuditFilter) ([]models.WorkspaceAuditLog, error)
}

// GormStore implements Store on gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle for collaborators that share it.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) CreateConnection(ctx context.Context, conn *models.WorkspaceConnection) error {
	return s.db.WithContext(ctx).Create(conn).Error
}

func (s *GormStore) UpdateConnection(ctx context.Context, conn *models.WorkspaceConnection) error {
	return s.db.WithContext(ctx).Save(conn).Error
}

func (s *GormStore) GetConnection(ctx context.Context, id string) (*models.WorkspaceConnection, error) {
	var conn models.WorkspaceConnection
	if err := s.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "connection %s", id)
	}
	return &conn, nil
}

func (s *GormStore) FindConnections(ctx context.Context, filter ConnectionFilter) ([]models.WorkspaceConnection, error) {
	q := s.db.WithContext(ctx).Model(&models.WorkspaceConnection{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.OrganizationID != "" {
		q = q.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Email != "" {
		q = q.Where("LOWER(email) = LOWER(?)", filter.Email)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}

	var conns []models.WorkspaceConnection
	if err := q.Order("created_at ASC").Order("id ASC").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func (s *GormStore) DeleteConnection(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.WorkspaceConnection{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) CreatePermission(ctx context.Context, perm *models.AgentWorkspacePermission) error {
	return s.db.WithContext(ctx).Create(perm).Error
}

func (s *GormStore) UpdatePermission(ctx context.Context, perm *models.AgentWorkspacePermission) error {
	return s.db.WithContext(ctx).Save(perm).Error
}

// TouchPermission records a use of an active grant. A revoked grant is left
// untouched.
func (s *GormStore) TouchPermission(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.AgentWorkspacePermission{}).
		Where("id = ? AND revoked_at IS NULL", id).
		UpdateColumn("last_used_at", at).Error
}

func (s *GormStore) GetPermission(ctx context.Context, id string) (*models.AgentWorkspacePermission, error) {
	var perm models.AgentWorkspacePermission
	if err := s.db.WithContext(ctx).First(&perm, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "permission %s", id)
	}
	return &perm, nil
}

func (s *GormStore) FindAgentWorkspacePermissions(ctx context.Context, filter PermissionFilter) ([]models.AgentWorkspacePermission, error) {
	q := s.db.WithContext(ctx).Model(&models.AgentWorkspacePermission{})
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.WorkspaceConnectionID != "" {
		q = q.Where("workspace_connection_id = ?", filter.WorkspaceConnectionID)
	}
	if filter.Capability != "" {
		q = q.Where("capability = ?", filter.Capability)
	}
	if filter.ActiveOnly {
		q = q.Where("revoked_at IS NULL")
	}

	var perms []models.AgentWorkspacePermission
	if err := q.Order("granted_at ASC").Order("id ASC").Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *GormStore) CreateAuditLog(ctx context.Context, entry *models.WorkspaceAuditLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) FindAuditLogs(ctx context.Context, filter AuditFilter) ([]models.WorkspaceAuditLog, error) {
	q := s.db.WithContext(ctx).Model(&models.WorkspaceAuditLog{})
	if filter.WorkspaceConnectionID != "" {
		q = q.Where("workspace_connection_id = ?", filter.WorkspaceConnectionID)
	}
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	var logs []models.WorkspaceAuditLog
	if err := q.Order("timestamp DESC").Limit(auditLimit(filter.Limit)).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// auditLimit defaults an unset limit and clamps an oversized one.
func auditLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultAuditLimit
	case n > MaxAuditLimit:
		return MaxAuditLimit
	}
	return n
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}
