package models

import "time"

// AgentWorkspacePermission grants one agent one capability on one connection.
// The (AgentID, WorkspaceConnectionID, Capability) triple is unique: a revoked
// grant is reactivated in place rather than duplicated.
type AgentWorkspacePermission struct {
	ID                    string      `gorm:"primaryKey" json:"id"`
	AgentID               string      `gorm:"uniqueIndex:idx_agent_conn_cap;not null" json:"agent_id"`
	WorkspaceConnectionID string      `gorm:"uniqueIndex:idx_agent_conn_cap;index;not null" json:"workspace_connection_id"`
	Capability            Capability  `gorm:"uniqueIndex:idx_agent_conn_cap;not null" json:"capability"`
	AccessLevel           AccessLevel `gorm:"not null" json:"access_level"`
	Restrictions          string      `gorm:"type:text" json:"restrictions,omitempty"` // JSON
	GrantedBy             string      `json:"granted_by"`
	GrantedAt             time.Time   `json:"granted_at"`
	RevokedAt             *time.Time  `gorm:"index" json:"revoked_at,omitempty"`
	LastUsedAt            *time.Time  `json:"last_used_at,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Active reports whether the grant has not been revoked.
func (p *AgentWorkspacePermission) Active() bool {
	return p.RevokedAt == nil
}
