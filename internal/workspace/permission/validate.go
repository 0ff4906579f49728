package permission

import (
	"context"
	"errors"
	"log"

	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
)

// ValidationResult reports whether an agent may use a capability. A failed
// validation is a value, not an error: callers must check IsValid.
type ValidationResult struct {
	IsValid        bool                             `json:"isValid"`
	Permission     *models.AgentWorkspacePermission `json:"permission,omitempty"`
	Connection     *models.WorkspaceConnection      `json:"connection,omitempty"`
	RateLimit      *RateLimitResult                 `json:"rateLimit,omitempty"`
	Error          string                           `json:"error,omitempty"`
	WorkspaceError *workspace.WorkspaceError        `json:"workspaceError,omitempty"`
}

func invalid(we *workspace.WorkspaceError, conn *models.WorkspaceConnection) ValidationResult {
	return ValidationResult{IsValid: false, Connection: conn, Error: we.Message, WorkspaceError: we}
}

// ValidatePermissions guards every tool call. Checks run in a fixed order
// and stop at the first failure: connection exists, connection ACTIVE, token
// unexpired, active grant present, rate limit. A returned error means the
// store or limiter failed, not that access was denied.
func (s *Service) ValidatePermissions(ctx context.Context, agentID string, capability models.Capability, connectionID string) (ValidationResult, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return invalid(workspace.NoConnectionError(capability), nil), nil
		}
		return ValidationResult{}, err
	}

	if conn.Status != models.ConnectionStatusActive {
		return invalid(workspace.ConnectionInactiveError(capability, conn), conn), nil
	}

	now := s.now()
	if conn.TokenExpired(now) {
		return invalid(workspace.ExpiredTokenError(capability, conn), conn), nil
	}

	perms, err := s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
		AgentID:               agentID,
		WorkspaceConnectionID: connectionID,
		Capability:            capability,
		ActiveOnly:            true,
	})
	if err != nil {
		return ValidationResult{}, err
	}
	if len(perms) == 0 {
		return invalid(workspace.NoPermissionError(capability, conn), conn), nil
	}
	perm := perms[0]

	rl, err := s.limiter.CheckRateLimit(ctx, agentID, capability, connectionID)
	if err != nil {
		return ValidationResult{}, err
	}
	if !rl.Allowed {
		res := invalid(workspace.RateLimitedError(capability, conn, rl.ResetTime), conn)
		res.RateLimit = &rl
		return res, nil
	}

	// Writes last_used_at alone; a revoke since the lookup stays in effect.
	if err := s.store.TouchPermission(ctx, perm.ID, now); err != nil {
		log.Printf("⚠️ Failed to update last use of permission %s: %v", perm.ID, err)
	}
	perm.LastUsedAt = &now

	return ValidationResult{IsValid: true, Permission: &perm, Connection: conn, RateLimit: &rl}, nil
}

// ValidateAccess runs ValidatePermissions and additionally requires the
// grant's access level to be at least required.
func (s *Service) ValidateAccess(ctx context.Context, agentID string, capability models.Capability, connectionID string, required models.AccessLevel) (ValidationResult, error) {
	res, err := s.ValidatePermissions(ctx, agentID, capability, connectionID)
	if err != nil || !res.IsValid {
		return res, err
	}
	if !res.Permission.AccessLevel.Allows(required) {
		we := workspace.NoPermissionError(capability, res.Connection)
		we.Message = "This agent has " + string(res.Permission.AccessLevel) + " access to " + capability.Label() +
			" on " + res.Connection.Name() + " but needs " + string(required) + ". Ask an administrator to raise the access level."
		return invalid(we, res.Connection), nil
	}
	return res, nil
}

// ValidateAgentHasCapability checks a capability before any connection has
// been chosen. It succeeds when any usable connection grants it; otherwise it
// reports the most actionable failure it found.
func (s *Service) ValidateAgentHasCapability(ctx context.Context, agentID string, capability models.Capability) (ValidationResult, error) {
	perms, err := s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
		AgentID:    agentID,
		Capability: capability,
		ActiveOnly: true,
	})
	if err != nil {
		return ValidationResult{}, err
	}
	if len(perms) == 0 {
		return invalid(workspace.NoPermissionError(capability, nil), nil), nil
	}

	conns, err := s.connectionsFor(ctx, perms)
	if err != nil {
		return ValidationResult{}, err
	}

	now := s.now()
	var first *ValidationResult
	for i := range perms {
		perm := perms[i]
		conn, ok := conns[perm.WorkspaceConnectionID]
		var res ValidationResult
		switch {
		case !ok:
			res = invalid(workspace.NoConnectionError(capability), nil)
		case conn.Status != models.ConnectionStatusActive:
			res = invalid(workspace.ConnectionInactiveError(capability, &conn), &conn)
		case conn.TokenExpired(now):
			res = invalid(workspace.ExpiredTokenError(capability, &conn), &conn)
		default:
			return ValidationResult{IsValid: true, Permission: &perm, Connection: &conn}, nil
		}
		if first == nil {
			first = &res
		}
	}
	return *first, nil
}
