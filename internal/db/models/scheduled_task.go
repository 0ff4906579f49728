package models

import "time"

// WorkspaceScheduledTask persists a deferred workspace command.
type WorkspaceScheduledTask struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	AgentID      string     `gorm:"index;not null" json:"agent_id"`
	ConnectionID string     `gorm:"index" json:"connection_id"`
	Command      string     `gorm:"type:text;not null" json:"command"` // JSON-encoded workspace command
	Status       string     `gorm:"index;not null" json:"status"`
	NextRun      time.Time  `gorm:"index" json:"next_run"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	Enabled      bool       `gorm:"index" json:"enabled"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
