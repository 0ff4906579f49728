package integration

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
	"github.com/pysugar/workspace-nexus/internal/workspace/scheduler"
)

// DefaultTimeout bounds one command when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// ActionType names a remediation button.
type ActionType string

const (
	ActionRetry         ActionType = "retry"
	ActionRequestAccess ActionType = "request_access"
	ActionReconnect     ActionType = "reconnect"
	ActionWaitAndRetry  ActionType = "wait_and_retry"
)

// Action is a button offered alongside a failure.
type Action struct {
	Type  ActionType        `json:"type"`
	Label string            `json:"label"`
	Data  map[string]string `json:"data,omitempty"`
}

// ErrorDetails explains a failed command to the user.
type ErrorDetails struct {
	Classification
	UserMessage      string        `json:"userMessage"`
	TechnicalMessage string        `json:"technicalMessage,omitempty"`
	RetryAfter       time.Duration `json:"retryAfter,omitempty"`
	Actions          []Action      `json:"actions,omitempty"`
}

// EnhancedResult is a CommandResult plus remediation for failures.
type EnhancedResult struct {
	*CommandResult
	ErrorDetails *ErrorDetails `json:"errorDetails,omitempty"`
}

// ErrorReporter records classified failures.
type ErrorReporter interface {
	ReportError(ctx context.Context, report ErrorReport)
}

// ErrorReport is one classified failure.
type ErrorReport struct {
	AgentID        string
	ConnectionID   string
	Command        workspace.CommandType
	Capability     models.Capability
	Classification Classification
	Err            error
}

// AuditWriter persists audit rows.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, entry *models.WorkspaceAuditLog) error
}

// AuditReporter writes EXECUTION_FAILED audit rows. Write failures are logged.
type AuditReporter struct {
	audit AuditWriter
	now   func() time.Time
}

func NewAuditReporter(audit AuditWriter) *AuditReporter {
	return &AuditReporter{audit: audit, now: time.Now}
}

func (r *AuditReporter) ReportError(ctx context.Context, rep ErrorReport) {
	meta, _ := json.Marshal(map[string]any{
		"command":   rep.Command,
		"category":  rep.Classification.Category,
		"severity":  rep.Classification.Severity,
		"retryable": rep.Classification.Retryable,
		"error":     rep.Err.Error(),
	})
	entry := &models.WorkspaceAuditLog{
		ID:                    uuid.NewString(),
		WorkspaceConnectionID: rep.ConnectionID,
		AgentID:               rep.AgentID,
		Action:                models.AuditActionExecutionFailed,
		Capability:            rep.Capability,
		Result:                models.AuditResultFailure,
		Metadata:              string(meta),
		Timestamp:             r.now(),
	}
	if err := r.audit.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("⚠️ Failed to record execution failure for agent %s: %v", rep.AgentID, err)
	}
}

// Enhanced layers timeouts, error classification and remediation actions
// over Integration. Authorization stays with the wrapped integration.
type Enhanced struct {
	base     *Integration
	reporter ErrorReporter
	timeout  time.Duration
	retry    scheduler.RetryPolicy
	now      func() time.Time
}

// NewEnhanced wraps base. reporter may be nil; timeout <= 0 uses DefaultTimeout.
func NewEnhanced(base *Integration, reporter ErrorReporter, timeout time.Duration) *Enhanced {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Enhanced{
		base:     base,
		reporter: reporter,
		timeout:  timeout,
		retry:    scheduler.DefaultRetryPolicy(),
		now:      time.Now,
	}
}

// ProcessWorkspaceCommand runs cmd under the configured timeout and turns
// any failure into ErrorDetails. It only returns an error for commands that
// could not be understood at all.
func (e *Enhanced) ProcessWorkspaceCommand(ctx context.Context, agentID string, cmd workspace.Command, opts Options) (*EnhancedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	capability, _, err := route(cmd.Type)
	if err != nil {
		return nil, err
	}

	res, err := e.base.ProcessWorkspaceCommand(ctx, agentID, cmd, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out after %s: %w", cmd.Type, e.timeout, err)
		}
		out := &EnhancedResult{CommandResult: &CommandResult{Command: cmd.Type, ConnectionID: opts.ConnectionID}}
		out.ErrorDetails = e.explain(ctx, agentID, opts.ConnectionID, cmd.Type, capability, err)
		out.Message = out.ErrorDetails.UserMessage
		return out, nil
	}

	out := &EnhancedResult{CommandResult: res}
	if res.WorkspaceError != nil {
		out.ErrorDetails = e.explain(ctx, agentID, res.ConnectionID, cmd.Type, capability, res.WorkspaceError)
	}
	return out, nil
}

func (e *Enhanced) explain(ctx context.Context, agentID, connID string, cmd workspace.CommandType, capability models.Capability, err error) *ErrorDetails {
	c := Classify(err)
	d := &ErrorDetails{
		Classification:   c,
		UserMessage:      userMessage(c, err),
		TechnicalMessage: err.Error(),
	}
	if c.Retryable {
		d.RetryAfter = e.retry.Delay(1, err, e.now())
	}
	d.Actions = actionsFor(c, d.RetryAfter, connID, capability)

	log.Printf("❌ %s failed for agent %s [%s/%s]: %v", cmd, agentID, c.Category, c.Severity, err)
	if e.reporter != nil {
		e.reporter.ReportError(context.WithoutCancel(ctx), ErrorReport{
			AgentID:        agentID,
			ConnectionID:   connID,
			Command:        cmd,
			Capability:     capability,
			Classification: c,
			Err:            err,
		})
	}
	return d
}

func userMessage(c Classification, err error) string {
	var we *workspace.WorkspaceError
	if errors.As(err, &we) && we.Kind != workspace.ErrorProviderAPIFailure && we.Kind != workspace.ErrorExecutionFailure {
		return we.Message
	}
	switch c.Category {
	case CategoryRateLimit:
		return "The workspace provider is rate limiting requests. Please wait a moment and try again."
	case CategoryPermission:
		return "The workspace provider denied access. The connected account may lack the required permission."
	case CategoryConnection:
		return "The workspace account needs to be reconnected before this can run."
	case CategoryNetwork:
		return "Could not reach the workspace provider. Please try again."
	case CategoryExternalService:
		return "The workspace provider returned an error."
	case CategoryValidation:
		return "The request is missing or has invalid details: " + err.Error()
	case CategoryInternal:
		return "Something went wrong on our side. The error has been recorded."
	}
	return "The workspace command failed."
}

// actionsFor picks remediation buttons by category.
func actionsFor(c Classification, retryAfter time.Duration, connID string, capability models.Capability) []Action {
	data := map[string]string{}
	if connID != "" {
		data["connectionId"] = connID
	}
	if capability != "" {
		data["capability"] = string(capability)
	}

	switch c.Category {
	case CategoryPermission:
		return []Action{{Type: ActionRequestAccess, Label: "Request Access", Data: data}}
	case CategoryConnection:
		return []Action{{Type: ActionReconnect, Label: "Reconnect", Data: data}}
	case CategoryRateLimit:
		wait := map[string]string{"retryAfterSeconds": fmt.Sprintf("%d", int(retryAfter.Seconds()))}
		for k, v := range data {
			wait[k] = v
		}
		return []Action{{Type: ActionWaitAndRetry, Label: "Wait & Retry", Data: wait}}
	}
	if c.Retryable {
		return []Action{{Type: ActionRetry, Label: "Retry", Data: data}}
	}
	return nil
}
