// Package workspace holds the domain vocabulary shared by the permission,
// selection, tool and scheduling layers.
package workspace

import (
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// ErrorKind classifies a workspace failure for remediation.
type ErrorKind string

const (
	ErrorNoConnection       ErrorKind = "NO_CONNECTION"
	ErrorConnectionInactive ErrorKind = "CONNECTION_INACTIVE"
	ErrorExpiredToken       ErrorKind = "EXPIRED_TOKEN"
	ErrorNoPermission       ErrorKind = "NO_PERMISSION"
	ErrorRateLimited        ErrorKind = "RATE_LIMIT"
	ErrorScopeMismatch      ErrorKind = "SCOPE_MISMATCH"
	ErrorProviderAPIFailure ErrorKind = "PROVIDER_API_FAILURE"
	ErrorExecutionFailure   ErrorKind = "EXECUTION_FAILURE"
)

// WorkspaceError carries a user-facing message plus enough context to render
// a remediation without another lookup.
type WorkspaceError struct {
	Kind           ErrorKind         `json:"kind"`
	Message        string            `json:"message"`
	Capability     models.Capability `json:"capability,omitempty"`
	ConnectionID   string            `json:"connection_id,omitempty"`
	ConnectionName string            `json:"connection_name,omitempty"`
	Provider       models.Provider   `json:"provider,omitempty"`
	ResetTime      *time.Time        `json:"reset_time,omitempty"`
	Err            error             `json:"-"`
}

func (e *WorkspaceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first WorkspaceError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var we *WorkspaceError
	if errors.As(err, &we) {
		return we.Kind, true
	}
	return "", false
}

// NoConnectionError reports that no connection can serve capability.
func NoConnectionError(capability models.Capability) *WorkspaceError {
	return &WorkspaceError{
		Kind:       ErrorNoConnection,
		Capability: capability,
		Message: fmt.Sprintf("No workspace connection found to %s. Please connect a workspace account first.",
			capability.Label()),
	}
}

// ConnectionInactiveError reports a connection that is not ACTIVE.
func ConnectionInactiveError(capability models.Capability, conn *models.WorkspaceConnection) *WorkspaceError {
	return &WorkspaceError{
		Kind:           ErrorConnectionInactive,
		Capability:     capability,
		ConnectionID:   conn.ID,
		ConnectionName: conn.Name(),
		Provider:       conn.Provider,
		Message: fmt.Sprintf("Workspace connection %s is %s. Please reconnect your %s account.",
			conn.Name(), conn.Status, conn.Provider.DisplayName()),
	}
}

// ExpiredTokenError reports a connection whose access token has lapsed.
func ExpiredTokenError(capability models.Capability, conn *models.WorkspaceConnection) *WorkspaceError {
	return &WorkspaceError{
		Kind:           ErrorExpiredToken,
		Capability:     capability,
		ConnectionID:   conn.ID,
		ConnectionName: conn.Name(),
		Provider:       conn.Provider,
		Message: fmt.Sprintf("Your %s access for %s has expired. Please refresh or reconnect the account.",
			conn.Provider.DisplayName(), conn.Name()),
	}
}

// NoPermissionError reports a missing or insufficient grant.
func NoPermissionError(capability models.Capability, conn *models.WorkspaceConnection) *WorkspaceError {
	we := &WorkspaceError{
		Kind:       ErrorNoPermission,
		Capability: capability,
		Message: fmt.Sprintf("This agent is not allowed to %s. Ask an administrator to grant %s access.",
			capability.Label(), capability),
	}
	if conn != nil {
		we.ConnectionID = conn.ID
		we.ConnectionName = conn.Name()
		we.Provider = conn.Provider
		we.Message = fmt.Sprintf("This agent is not allowed to %s using %s. Ask an administrator to grant %s access.",
			capability.Label(), conn.Name(), capability)
	}
	return we
}

// RateLimitedError reports a throttled capability with its reset time.
func RateLimitedError(capability models.Capability, conn *models.WorkspaceConnection, reset time.Time) *WorkspaceError {
	return &WorkspaceError{
		Kind:           ErrorRateLimited,
		Capability:     capability,
		ConnectionID:   conn.ID,
		ConnectionName: conn.Name(),
		Provider:       conn.Provider,
		ResetTime:      &reset,
		Message: fmt.Sprintf("Rate limit reached for %s on %s. Try again after %s.",
			capability.Label(), conn.Name(), reset.Format(time.Kitchen)),
	}
}
