package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/dbtest"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/scheduler"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

type sentMail struct {
	from string
	p    tools.SendEmailParams
}

func (f *fakeEmail) SendEmail(_ context.Context, conn *models.WorkspaceConnection, p tools.SendEmailParams) (*tools.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMail{from: conn.Email, p: p})
	return &tools.SentMessage{ID: "msg-1"}, nil
}

func (f *fakeEmail) ReplyToEmail(context.Context, *models.WorkspaceConnection, tools.ReplyToEmailParams) (*tools.SentMessage, error) {
	return &tools.SentMessage{ID: "reply-1"}, f.err
}

func (f *fakeEmail) ForwardEmail(context.Context, *models.WorkspaceConnection, tools.ForwardEmailParams) (*tools.SentMessage, error) {
	return &tools.SentMessage{ID: "fwd-1"}, f.err
}

func (f *fakeEmail) GetEmail(context.Context, *models.WorkspaceConnection, string) (*tools.EmailMessage, error) {
	return nil, errors.New("message not found")
}

func (f *fakeEmail) SearchEmails(context.Context, *models.WorkspaceConnection, tools.SearchEmailsParams) ([]tools.EmailMessage, error) {
	return nil, f.err
}

func (f *fakeEmail) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	store *db.GormStore
	perms *permission.Service
	email *fakeEmail
	integ *Integration
	sched *scheduler.Scheduler
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := dbtest.NewStore(t)
	perms := permission.NewService(store)
	email := &fakeEmail{}
	agentTools := tools.New(perms, tools.Registry{models.ProviderGoogleWorkspace: {Email: email}}, store)

	integ := New(perms, agentTools, selector.NewConnectionSelector(perms), selector.NewProviderSelector(perms, nil), nil, nil)
	f := &fixture{store: store, perms: perms, email: email, integ: integ, now: time.Now()}
	f.sched = scheduler.New(scheduler.NewMemoryStore(), integ, scheduler.WithClock(func() time.Time { return f.now }))
	integ.SetScheduler(f.sched)
	return f
}

func (f *fixture) connection(t *testing.T, email string) *models.WorkspaceConnection {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	conn := &models.WorkspaceConnection{
		ID:             uuid.NewString(),
		UserID:         "user-1",
		Provider:       models.ProviderGoogleWorkspace,
		AccountType:    models.AccountTypeOrganizational,
		Email:          email,
		TokenExpiresAt: &expires,
		Status:         models.ConnectionStatusActive,
	}
	if err := f.store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func (f *fixture) grant(t *testing.T, connID string, capability models.Capability) *models.AgentWorkspacePermission {
	t.Helper()
	perm, err := f.perms.GrantPermission(context.Background(), permission.GrantParams{
		AgentID:      "agent-1",
		ConnectionID: connID,
		Capability:   capability,
		GrantedBy:    "admin",
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	return perm
}

func sendCommand() workspace.Command {
	return workspace.Command{
		Type:       workspace.CommandSendEmail,
		Confidence: 0.9,
		Entities: map[string]any{
			"to":      []string{"bob@partner.com"},
			"subject": "Quarterly numbers",
			"body":    "Attached.",
		},
	}
}

func TestProcessWorkspaceCommand_ExecutesOnExplicitConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, "alice@biz.com")
	f.grant(t, conn.ID, models.CapabilityEmailSend)

	res, err := f.integ.ProcessWorkspaceCommand(context.Background(), "agent-1", sendCommand(), Options{ConnectionID: conn.ID})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if !res.Success || res.Tool != "send_email" || res.ConnectionID != conn.ID {
		t.Fatalf("result = %+v", res)
	}
	if f.email.sentCount() != 1 || f.email.sent[0].p.Subject != "Quarterly numbers" {
		t.Fatalf("sent = %+v", f.email.sent)
	}
}

func TestProcessWorkspaceCommand_RanksWhenNoConnectionGiven(t *testing.T) {
	f := newFixture(t)
	f.connection(t, "unused@biz.com")
	conn := f.connection(t, "alice@biz.com")
	f.grant(t, conn.ID, models.CapabilityEmailSend)

	res, err := f.integ.ProcessWorkspaceCommand(context.Background(), "agent-1", sendCommand(), Options{})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if !res.Success || res.ConnectionID != conn.ID {
		t.Fatalf("result = %+v", res)
	}
}

func TestProcessWorkspaceCommand_SenderPreferencePicksAccount(t *testing.T) {
	f := newFixture(t)
	work := f.connection(t, "alice@biz.com")
	other := f.connection(t, "alice@side-project.io")
	f.grant(t, work.ID, models.CapabilityEmailSend)
	f.grant(t, other.ID, models.CapabilityEmailSend)

	cmd := sendCommand()
	cmd.SenderPreference = &workspace.SenderPreference{
		Type:       workspace.PreferenceSpecificEmail,
		Value:      "alice@side-project.io",
		Confidence: 0.95,
	}
	res, err := f.integ.ProcessWorkspaceCommand(context.Background(), "agent-1", cmd, Options{})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if !res.Success || res.ConnectionID != other.ID {
		t.Fatalf("result = %+v", res)
	}
	if f.email.sent[0].from != "alice@side-project.io" {
		t.Fatalf("sent from %s", f.email.sent[0].from)
	}
}

func TestProcessWorkspaceCommand_Denials(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, "alice@biz.com")

	tests := []struct {
		name string
		opts Options
		want workspace.ErrorKind
	}{
		{"no grant on named connection", Options{ConnectionID: conn.ID}, workspace.ErrorNoPermission},
		{"missing connection", Options{ConnectionID: "missing"}, workspace.ErrorNoConnection},
		{"nothing to rank", Options{}, workspace.ErrorNoConnection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.integ.ProcessWorkspaceCommand(context.Background(), "agent-1", sendCommand(), tc.opts)
			if err != nil {
				t.Fatalf("ProcessWorkspaceCommand: %v", err)
			}
			if res.Success || res.WorkspaceError == nil || res.WorkspaceError.Kind != tc.want {
				t.Fatalf("result = %+v", res)
			}
		})
	}
	if f.email.sentCount() != 0 {
		t.Fatalf("denied command reached the provider")
	}
}

func TestProcessWorkspaceCommand_RejectsUnknownAndInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.integ.ProcessWorkspaceCommand(ctx, "agent-1", workspace.Command{Type: "LAUNCH_ROCKET"}, Options{}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	cmd := sendCommand()
	cmd.Confidence = 3
	if _, err := f.integ.ProcessWorkspaceCommand(ctx, "agent-1", cmd, Options{}); !errors.Is(err, tools.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestProcessWorkspaceCommand_SchedulesAndFiresLater(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, "alice@biz.com")
	f.grant(t, conn.ID, models.CapabilityEmailSend)
	ctx := context.Background()

	cmd := sendCommand()
	at := f.now.Add(2 * time.Hour)
	cmd.ScheduledTime = &at

	res, err := f.integ.ProcessWorkspaceCommand(ctx, "agent-1", cmd, Options{ConnectionID: conn.ID})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if !res.Success || res.Scheduled == nil || f.email.sentCount() != 0 {
		t.Fatalf("result = %+v, sent = %d", res, f.email.sentCount())
	}

	f.now = at.Add(time.Second)
	report, err := f.sched.ProcessDueTasks(ctx)
	if err != nil {
		t.Fatalf("ProcessDueTasks: %v", err)
	}
	if report.Completed != 1 || f.email.sentCount() != 1 {
		t.Fatalf("report = %+v, sent = %d", report, f.email.sentCount())
	}
}

func TestScheduledCommand_RevokedGrantFailsPermanently(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, "alice@biz.com")
	perm := f.grant(t, conn.ID, models.CapabilityEmailSend)
	ctx := context.Background()

	cmd := sendCommand()
	at := f.now.Add(time.Hour)
	cmd.ScheduledTime = &at
	res, err := f.integ.ProcessWorkspaceCommand(ctx, "agent-1", cmd, Options{ConnectionID: conn.ID})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if err := f.perms.RevokePermission(ctx, perm.ID, "admin"); err != nil {
		t.Fatalf("RevokePermission: %v", err)
	}

	f.now = at.Add(time.Second)
	run, err := f.sched.ExecuteScheduledTask(ctx, res.Scheduled.ID)
	if err != nil {
		t.Fatalf("ExecuteScheduledTask: %v", err)
	}
	if run.Status != scheduler.StatusFailedPermanent || run.ShouldRetry {
		t.Fatalf("report = %+v", run)
	}
	if f.email.sentCount() != 0 {
		t.Fatalf("revoked grant still sent mail")
	}
}

func TestEnhanced_ExplainsFailures(t *testing.T) {
	tests := []struct {
		name       string
		grant      bool
		providerEr error
		category   Category
		action     ActionType
	}{
		{
			name:     "missing grant",
			category: CategoryPermission,
			action:   ActionRequestAccess,
		},
		{
			name:       "provider outage",
			grant:      true,
			providerEr: &providers.APIError{Provider: models.ProviderGoogleWorkspace, StatusCode: 503, Message: "backend"},
			category:   CategoryExternalService,
			action:     ActionRetry,
		},
		{
			name:       "provider throttling",
			grant:      true,
			providerEr: &providers.APIError{Provider: models.ProviderGoogleWorkspace, StatusCode: 429, RetryAfter: 5 * time.Minute},
			category:   CategoryRateLimit,
			action:     ActionWaitAndRetry,
		},
		{
			name:       "revoked upstream",
			grant:      true,
			providerEr: &providers.APIError{Provider: models.ProviderGoogleWorkspace, StatusCode: 401, Code: "invalid_grant"},
			category:   CategoryConnection,
			action:     ActionReconnect,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			conn := f.connection(t, "alice@biz.com")
			if tc.grant {
				f.grant(t, conn.ID, models.CapabilityEmailSend)
			}
			f.email.err = tc.providerEr
			enhanced := NewEnhanced(f.integ, NewAuditReporter(f.store), time.Second)

			res, err := enhanced.ProcessWorkspaceCommand(context.Background(), "agent-1", sendCommand(), Options{ConnectionID: conn.ID})
			if err != nil {
				t.Fatalf("ProcessWorkspaceCommand: %v", err)
			}
			if res.Success || res.ErrorDetails == nil {
				t.Fatalf("result = %+v", res)
			}
			d := res.ErrorDetails
			if d.Category != tc.category {
				t.Fatalf("category = %s, want %s (%s)", d.Category, tc.category, d.TechnicalMessage)
			}
			if len(d.Actions) != 1 || d.Actions[0].Type != tc.action {
				t.Fatalf("actions = %+v", d.Actions)
			}
			if d.UserMessage == "" {
				t.Fatalf("empty user message")
			}

			logs, err := f.store.FindAuditLogs(context.Background(), db.AuditFilter{AgentID: "agent-1", Action: models.AuditActionExecutionFailed})
			if err != nil {
				t.Fatalf("FindAuditLogs: %v", err)
			}
			if len(logs) != 1 || logs[0].Capability != models.CapabilityEmailSend {
				t.Fatalf("audit = %+v", logs)
			}
		})
	}
}

func TestEnhanced_WaitAndRetryUsesProviderHint(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, "alice@biz.com")
	f.grant(t, conn.ID, models.CapabilityEmailSend)
	f.email.err = &providers.APIError{Provider: models.ProviderGoogleWorkspace, StatusCode: 429, RetryAfter: 5 * time.Minute}

	res, err := NewEnhanced(f.integ, nil, 0).ProcessWorkspaceCommand(context.Background(), "agent-1", sendCommand(), Options{ConnectionID: conn.ID})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if res.ErrorDetails.RetryAfter != 5*time.Minute {
		t.Fatalf("retry after = %v", res.ErrorDetails.RetryAfter)
	}
	if got := res.ErrorDetails.Actions[0].Data["retryAfterSeconds"]; got != "300" {
		t.Fatalf("retryAfterSeconds = %q", got)
	}
}

func TestEnhanced_SuccessHasNoDetails(t *testing.T) {
	f := newFixture(t)
	conn := f.connection(t, "alice@biz.com")
	f.grant(t, conn.ID, models.CapabilityEmailSend)

	res, err := NewEnhanced(f.integ, NewAuditReporter(f.store), 0).ProcessWorkspaceCommand(context.Background(), "agent-1", sendCommand(), Options{ConnectionID: conn.ID})
	if err != nil {
		t.Fatalf("ProcessWorkspaceCommand: %v", err)
	}
	if !res.Success || res.ErrorDetails != nil {
		t.Fatalf("result = %+v", res)
	}
}
