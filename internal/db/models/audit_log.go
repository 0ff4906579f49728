package models

import "time"

// WorkspaceAuditLog is an append-only record of workspace access events.
type WorkspaceAuditLog struct {
	ID                    string      `gorm:"primaryKey" json:"id"`
	WorkspaceConnectionID string      `gorm:"index" json:"workspace_connection_id"`
	AgentID               string      `gorm:"index" json:"agent_id,omitempty"`
	Action                AuditAction `gorm:"index;not null" json:"action"`
	Capability            Capability  `json:"capability,omitempty"`
	Result                AuditResult `gorm:"not null" json:"result"`
	Metadata              string      `gorm:"type:text" json:"metadata,omitempty"` // JSON
	Timestamp             time.Time   `gorm:"index" json:"timestamp"`
}
