package tools

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/dbtest"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

type fakeEmail struct {
	sent     []SendEmailParams
	messages []EmailMessage
	err      error
}

func (f *fakeEmail) SendEmail(_ context.Context, _ *models.WorkspaceConnection, p SendEmailParams) (*SentMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, p)
	return &SentMessage{ID: "msg-1"}, nil
}

func (f *fakeEmail) ReplyToEmail(context.Context, *models.WorkspaceConnection, ReplyToEmailParams) (*SentMessage, error) {
	return &SentMessage{ID: "reply-1"}, f.err
}

func (f *fakeEmail) ForwardEmail(context.Context, *models.WorkspaceConnection, ForwardEmailParams) (*SentMessage, error) {
	return &SentMessage{ID: "fwd-1"}, f.err
}

func (f *fakeEmail) GetEmail(_ context.Context, _ *models.WorkspaceConnection, id string) (*EmailMessage, error) {
	for _, m := range f.messages {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, errors.New("message not found")
}

func (f *fakeEmail) SearchEmails(context.Context, *models.WorkspaceConnection, SearchEmailsParams) ([]EmailMessage, error) {
	return f.messages, f.err
}

type fixture struct {
	store *db.GormStore
	perms *permission.Service
	email *fakeEmail
	tools *AgentTools
	conn  *models.WorkspaceConnection
}

func newFixture(t *testing.T, provider models.Provider) *fixture {
	t.Helper()
	store := dbtest.NewStore(t)
	perms := permission.NewService(store)
	email := &fakeEmail{}
	conn := &models.WorkspaceConnection{
		ID:       uuid.NewString(),
		UserID:   "user-1",
		Provider: provider,
		Email:    "alice@biz.com",
		Status:   models.ConnectionStatusActive,
	}
	if err := store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	registry := Registry{models.ProviderGoogleWorkspace: {Email: email}}
	return &fixture{store: store, perms: perms, email: email, tools: New(perms, registry, store), conn: conn}
}

func (f *fixture) grant(t *testing.T, capability models.Capability, level models.AccessLevel) *models.AgentWorkspacePermission {
	t.Helper()
	perm, err := f.perms.GrantPermission(context.Background(), permission.GrantParams{
		AgentID: "agent-1", ConnectionID: f.conn.ID, Capability: capability, AccessLevel: level, GrantedBy: "admin",
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	return perm
}

func toolNames(infos []ToolInfo) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Name)
	}
	return out
}

func TestGetAvailableTools_EmailReadOnly(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	f.grant(t, models.CapabilityEmailRead, models.AccessLevelRead)

	infos, err := f.tools.GetAvailableTools(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("available tools: %v", err)
	}
	names := toolNames(infos)
	for _, want := range []string{"read_specific_email", "search_emails", "get_email_analytics", "find_important_emails", "get_action_items"} {
		if !slices.Contains(names, want) {
			t.Errorf("expected %s in %v", want, names)
		}
	}
	for _, hidden := range []string{"send_email", "reply_to_email", "schedule_event"} {
		if slices.Contains(names, hidden) {
			t.Errorf("%s must be hidden without its grant", hidden)
		}
	}
	if got := infos[0].Connections; len(got) != 1 || got[0].ID != f.conn.ID {
		t.Fatalf("expected tool to list the granting connection, got %+v", got)
	}
}

func TestGetAvailableTools_RequiresAccessLevel(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	f.grant(t, models.CapabilityEmailSend, models.AccessLevelRead)

	infos, err := f.tools.GetAvailableTools(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("available tools: %v", err)
	}
	if slices.Contains(toolNames(infos), "send_email") {
		t.Fatal("READ grant on EMAIL_SEND must not expose send_email")
	}
}

func TestExecuteTool_SendsAndAudits(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	f.grant(t, models.CapabilityEmailSend, models.AccessLevelWrite)

	res, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{
		AgentID:      "agent-1",
		ConnectionID: f.conn.ID,
		Tool:         "send_email",
		Params:       json.RawMessage(`{"to":["bob@example.com"],"subject":"Hi","body":"Hello"}`),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || len(f.email.sent) != 1 {
		t.Fatalf("expected one sent email, got %+v (sent=%d)", res, len(f.email.sent))
	}

	logs, err := f.store.FindAuditLogs(context.Background(), db.AuditFilter{Action: models.AuditActionToolExecuted})
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Result != models.AuditResultSuccess {
		t.Fatalf("expected one successful TOOL_EXECUTED row, got %+v", logs)
	}
}

func TestExecuteTool_RevalidatesBeforeCall(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	perm := f.grant(t, models.CapabilityEmailSend, models.AccessLevelWrite)
	if err := f.perms.RevokePermission(context.Background(), perm.ID, "admin"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	res, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{
		AgentID:      "agent-1",
		ConnectionID: f.conn.ID,
		Tool:         "send_email",
		Params:       json.RawMessage(`{"to":["bob@example.com"],"subject":"Hi","body":"Hello"}`),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || res.WorkspaceError == nil || res.WorkspaceError.Kind != workspace.ErrorNoPermission {
		t.Fatalf("expected NO_PERMISSION denial, got %+v", res)
	}
	if len(f.email.sent) != 0 {
		t.Fatal("provider must not be called after revocation")
	}
}

func TestExecuteTool_RejectsInvalidParams(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	f.grant(t, models.CapabilityEmailSend, models.AccessLevelWrite)

	tests := map[string]string{
		"missing recipients": `{"subject":"Hi","body":"Hello"}`,
		"bad address":        `{"to":["not-an-address"],"subject":"Hi","body":"Hello"}`,
		"malformed json":     `{"to":`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{
				AgentID: "agent-1", ConnectionID: f.conn.ID, Tool: "send_email", Params: json.RawMessage(raw),
			})
			if !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
	if len(f.email.sent) != 0 {
		t.Fatal("invalid params must not reach the provider")
	}
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	_, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{AgentID: "agent-1", ConnectionID: f.conn.ID, Tool: "launch_rocket"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteTool_UnsupportedProvider(t *testing.T) {
	f := newFixture(t, models.ProviderZoho)
	f.grant(t, models.CapabilityEmailRead, models.AccessLevelRead)

	_, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{
		AgentID: "agent-1", ConnectionID: f.conn.ID, Tool: "search_emails", Params: json.RawMessage(`{}`),
	})
	if kind, ok := workspace.KindOf(err); !ok || kind != workspace.ErrorProviderAPIFailure {
		t.Fatalf("expected PROVIDER_API_FAILURE, got %v", err)
	}
}

func TestExecuteTool_ProviderErrorIsAuditedAsFailure(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	f.grant(t, models.CapabilityEmailSend, models.AccessLevelWrite)
	f.email.err = errors.New("network timeout")

	_, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{
		AgentID: "agent-1", ConnectionID: f.conn.ID, Tool: "send_email",
		Params: json.RawMessage(`{"to":["bob@example.com"],"subject":"Hi","body":"Hello"}`),
	})
	if err == nil {
		t.Fatal("expected provider error")
	}
	logs, _ := f.store.FindAuditLogs(context.Background(), db.AuditFilter{Action: models.AuditActionToolExecuted})
	if len(logs) != 1 || logs[0].Result != models.AuditResultFailure {
		t.Fatalf("expected one failed TOOL_EXECUTED row, got %+v", logs)
	}
}

func TestExecuteTool_EmailAnalytics(t *testing.T) {
	f := newFixture(t, models.ProviderGoogleWorkspace)
	f.grant(t, models.CapabilityEmailRead, models.AccessLevelRead)
	now := time.Now()
	f.email.messages = []EmailMessage{
		{ID: "1", From: "Bob <bob@acme.com>", Subject: "URGENT: contract", Date: now, Unread: true},
		{ID: "2", From: "bob@acme.com", Subject: "lunch", Date: now},
		{ID: "3", From: "carol@acme.com", Subject: "report", Date: now, Important: true},
	}

	res, err := f.tools.ExecuteTool(context.Background(), ExecuteRequest{
		AgentID: "agent-1", ConnectionID: f.conn.ID, Tool: "get_email_analytics", Params: json.RawMessage(`{"days":3}`),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	stats, ok := res.Data.(EmailAnalytics)
	if !ok {
		t.Fatalf("unexpected data type %T", res.Data)
	}
	if stats.Total != 3 || stats.Unread != 1 || stats.Important != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.TopSenders[0].Sender != "bob@acme.com" || stats.TopSenders[0].Count != 2 {
		t.Fatalf("unexpected top sender %+v", stats.TopSenders[0])
	}
}

func TestCatalog_CoversEveryCommand(t *testing.T) {
	tools := New(nil, nil, nil)
	for _, ct := range workspace.CommandTypes() {
		name, _ := workspace.ToolForCommand(ct)
		capability, _ := workspace.CapabilityForCommand(ct)
		tool, ok := tools.Lookup(name)
		if !ok {
			t.Errorf("command %s maps to missing tool %s", ct, name)
			continue
		}
		if tool.Capability != capability {
			t.Errorf("tool %s requires %s, command %s maps to %s", name, tool.Capability, ct, capability)
		}
	}
}

func TestExtractActionItems(t *testing.T) {
	items := ExtractActionItems([]EmailMessage{
		{ID: "1", Body: "Thanks for the update. Could you send the slides by Friday? Cheers"},
		{ID: "2", Snippet: "FYI only"},
	})
	if len(items) != 1 || items[0].Text != "Could you send the slides by Friday" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestFindFreeSlots(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	events := []CalendarEvent{
		{Title: "standup", Start: at(9, 0), End: at(9, 30)},
		{Title: "review", Start: at(10, 0), End: at(12, 0)},
		{Title: "overlap", Start: at(11, 30), End: at(13, 0)},
	}
	slots := FindFreeSlots(events, at(0, 0), at(24, 0), time.Hour, 9, 17)

	want := []TimeSlot{{Start: at(13, 0), End: at(17, 0)}}
	if len(slots) != len(want) {
		t.Fatalf("slots = %+v, want %+v", slots, want)
	}
	for i := range want {
		if !slots[i].Start.Equal(want[i].Start) || !slots[i].End.Equal(want[i].End) {
			t.Fatalf("slot %d = %+v, want %+v", i, slots[i], want[i])
		}
	}
}
