package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/integration"
	"github.com/pysugar/workspace-nexus/internal/workspace/scheduler"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// ToolService lists and executes agent tools.
type ToolService interface {
	GetAvailableTools(ctx context.Context, agentID string) ([]tools.ToolInfo, error)
	ExecuteTool(ctx context.Context, req tools.ExecuteRequest) (*tools.ToolResult, error)
}

// Selector picks a connection from a sender preference.
type Selector interface {
	SelectConnection(ctx context.Context, req selector.SelectionRequest) (*selector.ConnectionSelectionResult, error)
}

// CommandProcessor runs or schedules typed workspace commands.
type CommandProcessor interface {
	ProcessWorkspaceCommand(ctx context.Context, agentID string, cmd workspace.Command, opts integration.Options) (*integration.EnhancedResult, error)
}

// TaskService manages scheduled commands.
type TaskService interface {
	GetAgentTasks(ctx context.Context, agentID string) ([]scheduler.Task, error)
	CancelScheduledTask(ctx context.Context, taskID string) error
}

// AgentToolsHandler lists the tools an agent can run and on which connections.
func AgentToolsHandler(svc ToolService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "agentId")
		list, err := svc.GetAvailableTools(r.Context(), agentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agentId": agentID, "tools": list})
	}
}

type executeToolRequest struct {
	ConnectionID string          `json:"connectionId" validate:"required"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// ExecuteToolHandler runs one tool. Denials and provider failures come
// back as 200 with success=false and a workspaceError.
func ExecuteToolHandler(svc ToolService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeToolRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.ExecuteTool(r.Context(), tools.ExecuteRequest{
			AgentID:      chi.URLParam(r, "agentId"),
			ConnectionID: req.ConnectionID,
			Tool:         chi.URLParam(r, "tool"),
			Params:       req.Params,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type selectRequest struct {
	Capability      models.Capability           `json:"capability" validate:"required"`
	Preference      *workspace.SenderPreference `json:"preference,omitempty"`
	RecipientEmails []string                    `json:"recipientEmails,omitempty"`
}

// SelectConnectionHandler resolves which connection an agent should use.
func SelectConnectionHandler(sel Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if !req.Capability.Valid() {
			writeError(w, r, badRequest("unknown capability %q", req.Capability))
			return
		}
		res, err := sel.SelectConnection(r.Context(), selector.SelectionRequest{
			AgentID:         chi.URLParam(r, "agentId"),
			Capability:      req.Capability,
			Preference:      req.Preference,
			RecipientEmails: req.RecipientEmails,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type commandRequest struct {
	Command      workspace.Command `json:"command"`
	ConnectionID string            `json:"connectionId,omitempty"`
}

// CommandHandler processes a parsed command now or schedules it.
func CommandHandler(proc CommandProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := proc.ProcessWorkspaceCommand(r.Context(), chi.URLParam(r, "agentId"), req.Command,
			integration.Options{ConnectionID: req.ConnectionID})
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.Scheduled != nil {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}

// AgentTasksHandler lists an agent's scheduled tasks.
func AgentTasksHandler(tasks TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "agentId")
		list, err := tasks.GetAgentTasks(r.Context(), agentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agentId": agentID, "tasks": list})
	}
}

// CancelTaskHandler disables a scheduled task.
func CancelTaskHandler(tasks TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := tasks.CancelScheduledTask(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(scheduler.StatusCancelled), "id": id})
	}
}

// HealthHandler reports liveness.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
