package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

// PermissionService is the ledger behind the permission routes.
type PermissionService interface {
	ConnectionAgentLister
	GrantPermission(ctx context.Context, params permission.GrantParams) (*models.AgentWorkspacePermission, error)
	RevokePermission(ctx context.Context, permissionID, revokedBy string) error
	ValidatePermissions(ctx context.Context, agentID string, capability models.Capability, connectionID string) (permission.ValidationResult, error)
	ValidateAccess(ctx context.Context, agentID string, capability models.Capability, connectionID string, required models.AccessLevel) (permission.ValidationResult, error)
	GetAgentWorkspaceCapabilities(ctx context.Context, agentID string) ([]permission.AgentCapability, error)
}

// AuditReader queries the audit trail.
type AuditReader interface {
	FindAuditLogs(ctx context.Context, f db.AuditFilter) ([]models.WorkspaceAuditLog, error)
}

type grantRequest struct {
	AgentID      string             `json:"agentId" validate:"required"`
	ConnectionID string             `json:"connectionId" validate:"required"`
	Capability   models.Capability  `json:"capability" validate:"required"`
	AccessLevel  models.AccessLevel `json:"accessLevel,omitempty"`
	Restrictions map[string]any     `json:"restrictions,omitempty"`
	GrantedBy    string             `json:"grantedBy" validate:"required"`
}

// GrantPermissionHandler grants or re-activates a capability grant.
func GrantPermissionHandler(perms PermissionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if !req.Capability.Valid() {
			writeError(w, r, badRequest("unknown capability %q", req.Capability))
			return
		}
		if req.AccessLevel != "" && !req.AccessLevel.Valid() {
			writeError(w, r, badRequest("unknown access level %q", req.AccessLevel))
			return
		}

		perm, err := perms.GrantPermission(r.Context(), permission.GrantParams{
			AgentID:      req.AgentID,
			ConnectionID: req.ConnectionID,
			Capability:   req.Capability,
			AccessLevel:  req.AccessLevel,
			Restrictions: req.Restrictions,
			GrantedBy:    req.GrantedBy,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, perm)
	}
}

// RevokePermissionHandler revokes one grant. Revoking twice is a no-op.
func RevokePermissionHandler(perms PermissionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := perms.RevokePermission(r.Context(), id, actor(r, "api")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "id": id})
	}
}

type validateRequest struct {
	AgentID      string             `json:"agentId" validate:"required"`
	Capability   models.Capability  `json:"capability" validate:"required"`
	ConnectionID string             `json:"connectionId" validate:"required"`
	AccessLevel  models.AccessLevel `json:"accessLevel,omitempty"`
}

// ValidatePermissionHandler runs the full validation chain without
// executing anything. Denials are 200 responses with isValid=false.
func ValidatePermissionHandler(perms PermissionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if !req.Capability.Valid() {
			writeError(w, r, badRequest("unknown capability %q", req.Capability))
			return
		}

		var (
			res permission.ValidationResult
			err error
		)
		if req.AccessLevel != "" {
			if !req.AccessLevel.Valid() {
				writeError(w, r, badRequest("unknown access level %q", req.AccessLevel))
				return
			}
			res, err = perms.ValidateAccess(r.Context(), req.AgentID, req.Capability, req.ConnectionID, req.AccessLevel)
		} else {
			res, err = perms.ValidatePermissions(r.Context(), req.AgentID, req.Capability, req.ConnectionID)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// AuditLogHandler lists audit rows, newest first.
func AuditLogHandler(audit AuditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r, db.DefaultAuditLimit, db.MaxAuditLimit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		logs, err := audit.FindAuditLogs(r.Context(), db.AuditFilter{
			WorkspaceConnectionID: q.Get("connection_id"),
			AgentID:               q.Get("agent_id"),
			Action:                models.AuditAction(q.Get("action")),
			Limit:                 limit,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}

// AgentCapabilitiesHandler lists an agent's active grants with their connections.
func AgentCapabilitiesHandler(perms PermissionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "agentId")
		caps, err := perms.GetAgentWorkspaceCapabilities(r.Context(), agentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agentId": agentID, "capabilities": caps})
	}
}
