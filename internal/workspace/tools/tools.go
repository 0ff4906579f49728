// Package tools is the capability-gated tool catalogue agents call into.
// Listing hides tools an agent holds no grant for; executing re-validates
// the grant right before the provider call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

// ErrUnknownTool is returned for a tool name missing from the catalogue.
var ErrUnknownTool = errors.New("unknown tool")

// PermissionChecker is the slice of the permission service the tools need.
type PermissionChecker interface {
	GetAgentWorkspaceCapabilities(ctx context.Context, agentID string) ([]permission.AgentCapability, error)
	ValidateAccess(ctx context.Context, agentID string, capability models.Capability, connectionID string, required models.AccessLevel) (permission.ValidationResult, error)
}

// AuditWriter records tool executions.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, entry *models.WorkspaceAuditLog) error
}

// AgentTools executes catalogue tools on behalf of agents.
type AgentTools struct {
	perms    PermissionChecker
	registry Registry
	audit    AuditWriter
	tools    []Tool
	byName   map[string]Tool
	now      func() time.Time
}

// New builds the tool layer. audit may be nil.
func New(perms PermissionChecker, registry Registry, audit AuditWriter) *AgentTools {
	catalog := Catalog()
	byName := make(map[string]Tool, len(catalog))
	for _, t := range catalog {
		byName[t.Name] = t
	}
	return &AgentTools{
		perms:    perms,
		registry: registry,
		audit:    audit,
		tools:    catalog,
		byName:   byName,
		now:      time.Now,
	}
}

// Lookup returns the tool registered under name.
func (a *AgentTools) Lookup(name string) (Tool, bool) {
	t, ok := a.byName[name]
	return t, ok
}

// Catalog lists every tool regardless of grants.
func (a *AgentTools) Catalog() []ToolInfo {
	out := make([]ToolInfo, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, t.Info())
	}
	return out
}

// GetAvailableTools lists the tools whose capability the agent holds, at a
// sufficient access level, on at least one ACTIVE connection.
func (a *AgentTools) GetAvailableTools(ctx context.Context, agentID string) ([]ToolInfo, error) {
	caps, err := a.perms.GetAgentWorkspaceCapabilities(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}

	var out []ToolInfo
	for _, t := range a.tools {
		var conns []ToolConnection
		for _, c := range caps {
			if c.Capability == t.Capability && c.AccessLevel.Allows(t.AccessLevel) {
				conns = append(conns, ToolConnection{ID: c.ConnectionID, Email: c.Email, Provider: c.Provider})
			}
		}
		if len(conns) == 0 {
			continue
		}
		info := t.Info()
		info.Connections = conns
		out = append(out, info)
	}
	return out, nil
}

// ExecuteRequest names a tool call.
type ExecuteRequest struct {
	AgentID      string          `json:"agentId"`
	ConnectionID string          `json:"connectionId"`
	Tool         string          `json:"tool"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// ToolResult is the outcome of a call that passed parameter validation.
// Denied calls come back with Success=false and WorkspaceError set.
type ToolResult struct {
	Success        bool                      `json:"success"`
	Tool           string                    `json:"tool"`
	ConnectionID   string                    `json:"connectionId"`
	Data           any                       `json:"data,omitempty"`
	Error          string                    `json:"error,omitempty"`
	WorkspaceError *workspace.WorkspaceError `json:"workspaceError,omitempty"`
}

// ExecuteTool decodes the parameters, re-validates access and runs the tool.
// Provider failures are returned as errors for the caller to classify.
func (a *AgentTools) ExecuteTool(ctx context.Context, req ExecuteRequest) (*ToolResult, error) {
	t, ok := a.byName[req.Tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}
	run, err := t.prepare(req.Params)
	if err != nil {
		return nil, err
	}

	res, err := a.perms.ValidateAccess(ctx, req.AgentID, t.Capability, req.ConnectionID, t.AccessLevel)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", t.Name, err)
	}
	result := &ToolResult{Tool: t.Name, ConnectionID: req.ConnectionID}
	if !res.IsValid {
		result.Error = res.Error
		result.WorkspaceError = res.WorkspaceError
		return result, nil
	}

	data, err := run(ctx, &execution{conn: res.Connection, registry: a.registry, now: a.now()})
	if err != nil {
		a.record(ctx, req, t, models.AuditResultFailure, err)
		return nil, fmt.Errorf("%s on %s: %w", t.Name, res.Connection.Email, err)
	}
	a.record(ctx, req, t, models.AuditResultSuccess, nil)

	result.Success = true
	result.Data = data
	return result, nil
}

func (a *AgentTools) record(ctx context.Context, req ExecuteRequest, t Tool, result models.AuditResult, cause error) {
	if a.audit == nil {
		return
	}
	meta := map[string]any{"tool": t.Name}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	raw, _ := json.Marshal(meta)
	entry := &models.WorkspaceAuditLog{
		ID:                    uuid.NewString(),
		WorkspaceConnectionID: req.ConnectionID,
		AgentID:               req.AgentID,
		Action:                models.AuditActionToolExecuted,
		Capability:            t.Capability,
		Result:                result,
		Metadata:              string(raw),
		Timestamp:             a.now(),
	}
	if err := a.audit.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("⚠️ Failed to write audit log for %s: %v", t.Name, err)
	}
}

// unsupported reports a provider without an implementation for area.
func unsupported(p models.Provider, area string) *workspace.WorkspaceError {
	return &workspace.WorkspaceError{
		Kind:     workspace.ErrorProviderAPIFailure,
		Message:  fmt.Sprintf("%s %s is not supported yet.", p.DisplayName(), area),
		Provider: p,
	}
}
