// Package integration turns parsed workspace commands into permission-checked
// tool calls, choosing a connection when the caller did not name one and
// handing future-dated commands to the scheduler.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
	"github.com/pysugar/workspace-nexus/internal/workspace/scheduler"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// ErrUnknownCommand is returned for a command type with no capability mapping.
var ErrUnknownCommand = errors.New("unknown workspace command")

// CommandParser turns free text into a typed command.
type CommandParser interface {
	ParseWorkspaceCommand(ctx context.Context, text string) (*workspace.Command, error)
}

// Validator is the slice of the permission service used before execution.
type Validator interface {
	ValidatePermissions(ctx context.Context, agentID string, capability models.Capability, connectionID string) (permission.ValidationResult, error)
}

// ToolRunner executes catalogue tools.
type ToolRunner interface {
	ExecuteTool(ctx context.Context, req tools.ExecuteRequest) (*tools.ToolResult, error)
}

// Scheduler defers commands.
type Scheduler interface {
	ScheduleCommand(ctx context.Context, agentID, connectionID string, cmd workspace.Command) (*scheduler.Task, error)
}

// Options tune one ProcessWorkspaceCommand call.
type Options struct {
	// ConnectionID pins the connection and skips selection.
	ConnectionID string `json:"connectionId,omitempty"`
}

// CommandResult is the outcome of a processed command. Denials and
// unresolved selections come back with Success=false, not as errors.
type CommandResult struct {
	Success            bool                               `json:"success"`
	Command            workspace.CommandType              `json:"command"`
	Tool               string                             `json:"tool,omitempty"`
	ConnectionID       string                             `json:"connectionId,omitempty"`
	Message            string                             `json:"message,omitempty"`
	Data               any                                `json:"data,omitempty"`
	Scheduled          *scheduler.Task                    `json:"scheduled,omitempty"`
	RequiresUserChoice bool                               `json:"requiresUserChoice,omitempty"`
	Selection          *selector.ConnectionSelectionResult `json:"selection,omitempty"`
	WorkspaceError     *workspace.WorkspaceError          `json:"workspaceError,omitempty"`
}

// Integration wires selection, validation, execution and scheduling.
type Integration struct {
	validator Validator
	tools     ToolRunner
	selector  *selector.ConnectionSelector
	ranker    *selector.ProviderSelector
	scheduler Scheduler
	parser    CommandParser
}

// New builds the integration. scheduler and parser may be nil.
func New(v Validator, t ToolRunner, sel *selector.ConnectionSelector, ranker *selector.ProviderSelector, sched Scheduler, parser CommandParser) *Integration {
	return &Integration{validator: v, tools: t, selector: sel, ranker: ranker, scheduler: sched, parser: parser}
}

// SetScheduler attaches the scheduler after construction, since the
// scheduler in turn executes through this integration.
func (i *Integration) SetScheduler(s Scheduler) {
	i.scheduler = s
}

// ProcessText parses text with the configured parser and processes the result.
func (i *Integration) ProcessText(ctx context.Context, agentID, text string, opts Options) (*CommandResult, error) {
	if i.parser == nil {
		return nil, errors.New("no command parser configured")
	}
	cmd, err := i.parser.ParseWorkspaceCommand(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	return i.ProcessWorkspaceCommand(ctx, agentID, *cmd, opts)
}

// ProcessWorkspaceCommand resolves a connection, then either schedules the
// command or validates and executes it now.
func (i *Integration) ProcessWorkspaceCommand(ctx context.Context, agentID string, cmd workspace.Command, opts Options) (*CommandResult, error) {
	capability, tool, err := route(cmd.Type)
	if err != nil {
		return nil, err
	}
	if err := tools.ValidateStruct(&cmd); err != nil {
		return nil, err
	}
	result := &CommandResult{Command: cmd.Type, Tool: tool}

	connID, unresolved, err := i.resolveConnection(ctx, agentID, capability, cmd, opts)
	if err != nil {
		return nil, err
	}
	if unresolved != nil {
		result.Selection = unresolved
		result.RequiresUserChoice = unresolved.RequiresUserChoice
		result.Message = unresolved.SuggestedMessage
		if result.Message == "" {
			result.Message = unresolved.Error
		}
		if unresolved.Connection == nil && !unresolved.RequiresUserChoice {
			result.WorkspaceError = workspace.NoConnectionError(capability)
		}
		return result, nil
	}
	result.ConnectionID = connID

	if cmd.ScheduledTime != nil {
		if i.scheduler == nil {
			return nil, errors.New("command is scheduled but no scheduler is configured")
		}
		task, err := i.scheduler.ScheduleCommand(ctx, agentID, connID, cmd)
		if err != nil {
			return nil, err
		}
		result.Success = true
		result.Scheduled = task
		result.Message = fmt.Sprintf("Scheduled for %s.", task.NextRun.Format("Mon Jan 2 15:04 MST"))
		return result, nil
	}

	return i.run(ctx, agentID, connID, capability, tool, cmd, result)
}

// ExecuteCommand validates and executes cmd on connectionID immediately.
// Denials are returned as *workspace.WorkspaceError so schedulers can
// classify them.
func (i *Integration) ExecuteCommand(ctx context.Context, agentID, connectionID string, cmd workspace.Command) error {
	capability, tool, err := route(cmd.Type)
	if err != nil {
		return err
	}
	if connectionID == "" {
		resolved, unresolved, err := i.resolveConnection(ctx, agentID, capability, cmd, Options{})
		if err != nil {
			return err
		}
		if unresolved != nil {
			return workspace.NoConnectionError(capability)
		}
		connectionID = resolved
	}
	res, err := i.run(ctx, agentID, connectionID, capability, tool, cmd, &CommandResult{Command: cmd.Type, Tool: tool})
	if err != nil {
		return err
	}
	if res.WorkspaceError != nil {
		return res.WorkspaceError
	}
	if !res.Success {
		return &workspace.WorkspaceError{Kind: workspace.ErrorExecutionFailure, Message: res.Message}
	}
	return nil
}

func (i *Integration) run(ctx context.Context, agentID, connID string, capability models.Capability, tool string, cmd workspace.Command, result *CommandResult) (*CommandResult, error) {
	result.ConnectionID = connID
	v, err := i.validator.ValidatePermissions(ctx, agentID, capability, connID)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", capability, err)
	}
	if !v.IsValid {
		log.Printf("🔒 Agent %s denied %s on %s: %s", agentID, capability, connID, v.Error)
		result.Message = v.Error
		result.WorkspaceError = v.WorkspaceError
		return result, nil
	}

	params, err := json.Marshal(cmd.Entities)
	if err != nil {
		return nil, fmt.Errorf("encode %s parameters: %w", cmd.Type, err)
	}
	out, err := i.tools.ExecuteTool(ctx, tools.ExecuteRequest{
		AgentID:      agentID,
		ConnectionID: connID,
		Tool:         tool,
		Params:       params,
	})
	if err != nil {
		return nil, err
	}
	result.Success = out.Success
	result.Data = out.Data
	result.WorkspaceError = out.WorkspaceError
	if !out.Success {
		result.Message = out.Error
	}
	return result, nil
}

// resolveConnection returns a connection id, or a selection result the
// caller must show when no single connection could be chosen.
func (i *Integration) resolveConnection(ctx context.Context, agentID string, capability models.Capability, cmd workspace.Command, opts Options) (string, *selector.ConnectionSelectionResult, error) {
	if opts.ConnectionID != "" {
		return opts.ConnectionID, nil, nil
	}

	if workspace.IsEmailSendCommand(cmd.Type) && cmd.SenderPreference != nil && i.selector != nil {
		sel, err := i.selector.SelectConnection(ctx, selector.SelectionRequest{
			AgentID:         agentID,
			Capability:      capability,
			Preference:      cmd.SenderPreference,
			RecipientEmails: cmd.RecipientEmails(),
		})
		if err != nil {
			return "", nil, err
		}
		if !sel.Resolved() {
			return "", sel, nil
		}
		log.Printf("🎯 Selected %s for %s (confidence %.2f): %s", sel.Connection.Email, cmd.Type, sel.Confidence, sel.Reason)
		return sel.Connection.ID, nil, nil
	}

	best, err := i.ranker.SelectBest(ctx, agentID, selector.Criteria{
		Capability:      capability,
		RecipientEmails: cmd.RecipientEmails(),
	})
	if err != nil {
		return "", nil, err
	}
	if best == nil {
		return "", &selector.ConnectionSelectionResult{
			Error: workspace.NoConnectionError(capability).Message,
		}, nil
	}
	return best.Connection.ID, nil, nil
}

func route(t workspace.CommandType) (models.Capability, string, error) {
	capability, ok := workspace.CapabilityForCommand(t)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownCommand, t)
	}
	tool, _ := workspace.ToolForCommand(t)
	return capability, tool, nil
}
