package models

import (
	"strings"
	"time"
)

// WorkspaceConnection stores an OAuth-backed link to one workspace account.
// (UserID, Provider, Email) identifies the account; re-authorization updates the row.
type WorkspaceConnection struct {
	ID             string           `gorm:"primaryKey" json:"id"` // UUID
	UserID         string           `gorm:"index:idx_conn_owner" json:"user_id"`
	OrganizationID string           `gorm:"index" json:"organization_id,omitempty"`
	Provider       Provider         `gorm:"index:idx_conn_owner;not null" json:"provider"`
	AccountType    AccountType      `gorm:"not null;default:'PERSONAL'" json:"account_type"`
	ConnectionType ConnectionType   `gorm:"not null;default:'DELEGATED'" json:"connection_type"`
	Email          string           `gorm:"index:idx_conn_owner;not null" json:"email"`
	DisplayName    string           `json:"display_name"`
	Domain         string           `gorm:"index" json:"domain"`
	AccessToken    string           `gorm:"type:text" json:"-"`
	RefreshToken   string           `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time       `json:"token_expires_at,omitempty"`
	Scopes         string           `gorm:"type:text" json:"scopes"` // space-delimited, as granted
	Status         ConnectionStatus `gorm:"index;not null;default:'ACTIVE'" json:"status"`
	LastSyncAt     *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TokenExpired reports whether the access token expired before now.
// An unset expiry never expires.
func (c *WorkspaceConnection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && c.TokenExpiresAt.Before(now)
}

// Usable reports whether the connection can serve calls without a refresh.
func (c *WorkspaceConnection) Usable(now time.Time) bool {
	return c.Status == ConnectionStatusActive && !c.TokenExpired(now)
}

// Name returns the label used in user-facing messages.
func (c *WorkspaceConnection) Name() string {
	if c.DisplayName != "" && !strings.EqualFold(c.DisplayName, c.Email) {
		return c.DisplayName + " <" + c.Email + ">"
	}
	return c.Email
}

// EmailDomain returns the lower-cased part after '@', falling back to Domain.
func (c *WorkspaceConnection) EmailDomain() string {
	if i := strings.LastIndex(c.Email, "@"); i >= 0 {
		return strings.ToLower(c.Email[i+1:])
	}
	return strings.ToLower(c.Domain)
}
