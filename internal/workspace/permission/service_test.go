package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/dbtest"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace"
)

func seedConnection(t *testing.T, store db.Store, email string, mutate func(*models.WorkspaceConnection)) *models.WorkspaceConnection {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	conn := &models.WorkspaceConnection{
		ID:             uuid.NewString(),
		UserID:         "user-1",
		Provider:       models.ProviderGoogleWorkspace,
		AccountType:    models.AccountTypeOrganizational,
		ConnectionType: models.ConnectionTypeDelegated,
		Email:          email,
		DisplayName:    email,
		TokenExpiresAt: &expires,
		Status:         models.ConnectionStatusActive,
	}
	if mutate != nil {
		mutate(conn)
	}
	if err := store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func grant(t *testing.T, svc *Service, agentID, connID string, capability models.Capability, level models.AccessLevel) *models.AgentWorkspacePermission {
	t.Helper()
	perm, err := svc.GrantPermission(context.Background(), GrantParams{
		AgentID:      agentID,
		ConnectionID: connID,
		Capability:   capability,
		AccessLevel:  level,
		GrantedBy:    "admin",
	})
	if err != nil {
		t.Fatalf("grant %s: %v", capability, err)
	}
	return perm
}

func TestGrantPermission_IsIdempotentUpsert(t *testing.T) {
	store := dbtest.NewStore(t)
	svc := NewService(store)
	conn := seedConnection(t, store, "alice@biz.com", nil)

	first := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailSend, models.AccessLevelRead)
	second := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailSend, models.AccessLevelWrite)

	if first.ID != second.ID {
		t.Fatalf("expected same permission row, got %s and %s", first.ID, second.ID)
	}
	rows, err := store.FindAgentWorkspacePermissions(context.Background(), db.PermissionFilter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("find permissions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(rows))
	}
	if rows[0].AccessLevel != models.AccessLevelWrite {
		t.Fatalf("expected latest access level WRITE, got %s", rows[0].AccessLevel)
	}
}

func TestGrantPermission_DefaultsAccessLevelAndStoresRestrictions(t *testing.T) {
	store := dbtest.NewStore(t)
	svc := NewService(store)
	conn := seedConnection(t, store, "alice@biz.com", nil)

	perm, err := svc.GrantPermission(context.Background(), GrantParams{
		AgentID:      "agent-1",
		ConnectionID: conn.ID,
		Capability:   models.CapabilityCalendarRead,
		Restrictions: map[string]any{"calendars": []string{"primary"}},
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if perm.AccessLevel != models.AccessLevelRead {
		t.Fatalf("expected READ default for read capability, got %s", perm.AccessLevel)
	}
	if perm.Restrictions != `{"calendars":["primary"]}` {
		t.Fatalf("unexpected restrictions %q", perm.Restrictions)
	}
}

func TestGrantPermission_RequiresActiveConnection(t *testing.T) {
	store := dbtest.NewStore(t)
	svc := NewService(store)
	revoked := seedConnection(t, store, "old@biz.com", func(c *models.WorkspaceConnection) {
		c.Status = models.ConnectionStatusRevoked
	})

	tests := []struct {
		name   string
		connID string
	}{
		{name: "missing", connID: "does-not-exist"},
		{name: "revoked", connID: revoked.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GrantPermission(context.Background(), GrantParams{
				AgentID:      "agent-1",
				ConnectionID: tt.connID,
				Capability:   models.CapabilityEmailRead,
			})
			if !errors.Is(err, ErrConnectionUnavailable) {
				t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
			}
		})
	}
}

func TestGrantPermission_RejectsProgrammerErrors(t *testing.T) {
	svc := NewService(dbtest.NewStore(t))
	if _, err := svc.GrantPermission(context.Background(), GrantParams{ConnectionID: "c", Capability: models.CapabilityEmailRead}); err == nil {
		t.Fatalf("expected error for missing agent id")
	}
	if _, err := svc.GrantPermission(context.Background(), GrantParams{AgentID: "a", ConnectionID: "c", Capability: "TELEPORT"}); err == nil {
		t.Fatalf("expected error for unknown capability")
	}
}

func TestRevokePermission_IsSoft(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)
	conn := seedConnection(t, store, "alice@biz.com", nil)
	perm := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailRead, models.AccessLevelRead)

	if err := svc.RevokePermission(ctx, perm.ID, "admin"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	caps, err := svc.GetAgentWorkspaceCapabilities(ctx, "agent-1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps) != 0 {
		t.Fatalf("expected revoked capability to disappear, got %+v", caps)
	}

	row, err := store.GetPermission(ctx, perm.ID)
	if err != nil {
		t.Fatalf("expected row to survive revoke: %v", err)
	}
	if row.RevokedAt == nil {
		t.Fatalf("expected revokedAt to be set")
	}

	logs, err := store.FindAuditLogs(ctx, db.AuditFilter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	var granted, revoked int
	for _, l := range logs {
		switch l.Action {
		case models.AuditActionAccessGranted:
			granted++
		case models.AuditActionAccessRevoked:
			revoked++
		}
	}
	if granted != 1 || revoked != 1 {
		t.Fatalf("expected one grant and one revoke event, got %d/%d", granted, revoked)
	}
}

func TestRevokePermission_UnknownID(t *testing.T) {
	svc := NewService(dbtest.NewStore(t))
	err := svc.RevokePermission(context.Background(), "missing", "admin")
	if !errors.Is(err, ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound, got %v", err)
	}
}

func TestGrantPermission_ReactivatesRevokedRow(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)
	conn := seedConnection(t, store, "alice@biz.com", nil)
	perm := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailSend, models.AccessLevelWrite)
	if err := svc.RevokePermission(ctx, perm.ID, "admin"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	again := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailSend, models.AccessLevelAdmin)
	if again.ID != perm.ID {
		t.Fatalf("expected revoked row to be reused")
	}
	if again.RevokedAt != nil {
		t.Fatalf("expected revokedAt cleared")
	}
}

type failingAuditStore struct {
	*db.GormStore
}

func (failingAuditStore) CreateAuditLog(context.Context, *models.WorkspaceAuditLog) error {
	return errors.New("audit table locked")
}

func TestGrantPermission_AuditFailureIsSwallowed(t *testing.T) {
	store := failingAuditStore{dbtest.NewStore(t)}
	svc := NewService(store)
	conn := seedConnection(t, store, "alice@biz.com", nil)

	perm := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailRead, models.AccessLevelRead)
	if err := svc.RevokePermission(context.Background(), perm.ID, "admin"); err != nil {
		t.Fatalf("revoke must not fail on audit error: %v", err)
	}
}

type stubLimiter struct {
	result RateLimitResult
}

func (l stubLimiter) CheckRateLimit(context.Context, string, models.Capability, string) (RateLimitResult, error) {
	return l.result, nil
}

func TestValidatePermissions_Ordering(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	past := time.Now().Add(-time.Hour)

	active := seedConnection(t, store, "active@biz.com", nil)
	inactive := seedConnection(t, store, "inactive@biz.com", func(c *models.WorkspaceConnection) {
		c.Status = models.ConnectionStatusError
		c.TokenExpiresAt = &past
	})
	expired := seedConnection(t, store, "expired@biz.com", func(c *models.WorkspaceConnection) {
		c.TokenExpiresAt = &past
	})
	noExpiry := seedConnection(t, store, "forever@biz.com", func(c *models.WorkspaceConnection) {
		c.TokenExpiresAt = nil
	})

	svc := NewService(store)
	grant(t, svc, "agent-1", active.ID, models.CapabilityEmailSend, models.AccessLevelWrite)
	grant(t, svc, "agent-1", noExpiry.ID, models.CapabilityEmailSend, models.AccessLevelWrite)

	reset := time.Now().Add(10 * time.Minute)
	limited := NewService(store, WithRateLimiter(stubLimiter{RateLimitResult{Allowed: false, ResetTime: reset}}))

	tests := []struct {
		name   string
		svc    *Service
		connID string
		cap    models.Capability
		want   workspace.ErrorKind
	}{
		{name: "missing connection", svc: svc, connID: "nope", cap: models.CapabilityEmailSend, want: workspace.ErrorNoConnection},
		{name: "inactive beats expired", svc: svc, connID: inactive.ID, cap: models.CapabilityEmailSend, want: workspace.ErrorConnectionInactive},
		{name: "expired beats missing grant", svc: svc, connID: expired.ID, cap: models.CapabilityEmailSend, want: workspace.ErrorExpiredToken},
		{name: "missing grant", svc: svc, connID: active.ID, cap: models.CapabilityCalendarDelete, want: workspace.ErrorNoPermission},
		{name: "rate limited", svc: limited, connID: active.ID, cap: models.CapabilityEmailSend, want: workspace.ErrorRateLimited},
		{name: "valid", svc: svc, connID: active.ID, cap: models.CapabilityEmailSend},
		{name: "unset expiry never expires", svc: svc, connID: noExpiry.ID, cap: models.CapabilityEmailSend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.svc.ValidatePermissions(ctx, "agent-1", tt.cap, tt.connID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == "" {
				if !res.IsValid {
					t.Fatalf("expected valid, got %+v", res.WorkspaceError)
				}
				return
			}
			if res.IsValid {
				t.Fatalf("expected %s, got valid", tt.want)
			}
			if res.WorkspaceError.Kind != tt.want {
				t.Fatalf("expected %s, got %s (%s)", tt.want, res.WorkspaceError.Kind, res.Error)
			}
			if res.Error == "" {
				t.Fatalf("expected user-facing message")
			}
		})
	}

	t.Run("rate limit carries reset time", func(t *testing.T) {
		res, _ := limited.ValidatePermissions(ctx, "agent-1", models.CapabilityEmailSend, active.ID)
		if res.WorkspaceError.ResetTime == nil || !res.WorkspaceError.ResetTime.Equal(reset) {
			t.Fatalf("expected reset time %v, got %v", reset, res.WorkspaceError.ResetTime)
		}
	})
}

func TestValidatePermissions_UpdatesLastUsed(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	now := time.Now().Round(time.Second)
	svc := NewService(store, WithClock(func() time.Time { return now }))
	conn := seedConnection(t, store, "alice@biz.com", func(c *models.WorkspaceConnection) {
		later := now.Add(time.Hour)
		c.TokenExpiresAt = &later
	})
	perm := grant(t, svc, "agent-1", conn.ID, models.CapabilityEmailRead, models.AccessLevelRead)

	res, err := svc.ValidatePermissions(ctx, "agent-1", models.CapabilityEmailRead, conn.ID)
	if err != nil || !res.IsValid {
		t.Fatalf("expected valid, got %+v err=%v", res, err)
	}
	if res.RateLimit == nil || !res.RateLimit.Allowed {
		t.Fatalf("expected default limiter to allow, got %+v", res.RateLimit)
	}
	if !res.RateLimit.ResetTime.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected reset at %v from the service clock, got %v", now.Add(time.Hour), res.RateLimit.ResetTime)
	}
	row, err := store.GetPermission(ctx, perm.ID)
	if err != nil {
		t.Fatalf("get permission: %v", err)
	}
	if row.LastUsedAt == nil || !row.LastUsedAt.Equal(now) {
		t.Fatalf("expected lastUsedAt %v, got %v", now, row.LastUsedAt)
	}
}

// revokeOnTouchStore revokes the grant right before its use is recorded.
type revokeOnTouchStore struct {
	*db.GormStore
	revoke func()
}

func (s revokeOnTouchStore) TouchPermission(ctx context.Context, id string, at time.Time) error {
	s.revoke()
	return s.GormStore.TouchPermission(ctx, id, at)
}

func TestValidatePermissions_KeepsConcurrentRevoke(t *testing.T) {
	ctx := context.Background()
	base := dbtest.NewStore(t)
	admin := NewService(base)
	conn := seedConnection(t, base, "alice@biz.com", nil)
	perm := grant(t, admin, "agent-1", conn.ID, models.CapabilityEmailRead, models.AccessLevelRead)

	svc := NewService(revokeOnTouchStore{GormStore: base, revoke: func() {
		if err := admin.RevokePermission(ctx, perm.ID, "admin"); err != nil {
			t.Errorf("revoke: %v", err)
		}
	}})
	if res, err := svc.ValidatePermissions(ctx, "agent-1", models.CapabilityEmailRead, conn.ID); err != nil || !res.IsValid {
		t.Fatalf("expected the in-flight validation to pass, got %+v err=%v", res, err)
	}

	row, err := base.GetPermission(ctx, perm.ID)
	if err != nil {
		t.Fatalf("get permission: %v", err)
	}
	if row.RevokedAt == nil {
		t.Fatalf("revoked grant is active again")
	}
	res, err := admin.ValidatePermissions(ctx, "agent-1", models.CapabilityEmailRead, conn.ID)
	if err != nil || res.IsValid {
		t.Fatalf("expected denial after revoke, got %+v err=%v", res, err)
	}
	if kind, _ := workspace.KindOf(res.WorkspaceError); kind != workspace.ErrorNoPermission {
		t.Fatalf("expected NO_PERMISSION, got %s", kind)
	}
}

func TestValidateAccess_RequiresLevel(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)
	conn := seedConnection(t, store, "alice@biz.com", nil)
	grant(t, svc, "agent-1", conn.ID, models.CapabilitySpreadsheetEdit, models.AccessLevelRead)

	res, err := svc.ValidateAccess(ctx, "agent-1", models.CapabilitySpreadsheetEdit, conn.ID, models.AccessLevelWrite)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.IsValid || res.WorkspaceError.Kind != workspace.ErrorNoPermission {
		t.Fatalf("expected NO_PERMISSION for insufficient level, got %+v", res)
	}
}

func TestValidateAgentHasCapability(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)

	res, err := svc.ValidateAgentHasCapability(ctx, "agent-1", models.CapabilityEmailRead)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.IsValid || res.WorkspaceError.Kind != workspace.ErrorNoPermission {
		t.Fatalf("expected NO_PERMISSION without grants, got %+v", res)
	}

	broken := seedConnection(t, store, "broken@biz.com", nil)
	grant(t, svc, "agent-1", broken.ID, models.CapabilityEmailRead, models.AccessLevelRead)
	broken.Status = models.ConnectionStatusExpired
	if err := store.UpdateConnection(ctx, broken); err != nil {
		t.Fatalf("update: %v", err)
	}

	res, _ = svc.ValidateAgentHasCapability(ctx, "agent-1", models.CapabilityEmailRead)
	if res.IsValid || res.WorkspaceError.Kind != workspace.ErrorConnectionInactive {
		t.Fatalf("expected CONNECTION_INACTIVE, got %+v", res)
	}

	healthy := seedConnection(t, store, "healthy@biz.com", nil)
	grant(t, svc, "agent-1", healthy.ID, models.CapabilityEmailRead, models.AccessLevelRead)
	res, _ = svc.ValidateAgentHasCapability(ctx, "agent-1", models.CapabilityEmailRead)
	if !res.IsValid || res.Connection.ID != healthy.ID {
		t.Fatalf("expected healthy connection to satisfy capability, got %+v", res)
	}
}

func TestGetAgentWorkspaceCapabilities_SkipsInactiveConnections(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)
	good := seedConnection(t, store, "good@biz.com", nil)
	bad := seedConnection(t, store, "bad@biz.com", nil)
	grant(t, svc, "agent-1", good.ID, models.CapabilityEmailRead, models.AccessLevelRead)
	grant(t, svc, "agent-1", bad.ID, models.CapabilityCalendarRead, models.AccessLevelRead)

	bad.Status = models.ConnectionStatusRevoked
	if err := store.UpdateConnection(ctx, bad); err != nil {
		t.Fatalf("update: %v", err)
	}

	caps, err := svc.GetAgentWorkspaceCapabilities(ctx, "agent-1")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps) != 1 || caps[0].Capability != models.CapabilityEmailRead || caps[0].ProviderName != "Google Workspace" {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
}

func TestRevokeAllConnectionPermissions(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)
	conn := seedConnection(t, store, "shared@biz.com", nil)
	other := seedConnection(t, store, "other@biz.com", nil)
	grant(t, svc, "agent-b", conn.ID, models.CapabilityEmailRead, models.AccessLevelRead)
	grant(t, svc, "agent-a", conn.ID, models.CapabilityEmailSend, models.AccessLevelWrite)
	grant(t, svc, "agent-a", conn.ID, models.CapabilityEmailRead, models.AccessLevelRead)
	grant(t, svc, "agent-a", other.ID, models.CapabilityEmailRead, models.AccessLevelRead)

	agents, err := svc.GetConnectionAgents(ctx, conn.ID)
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	if len(agents) != 2 || agents[0] != "agent-a" || agents[1] != "agent-b" {
		t.Fatalf("unexpected agents %v", agents)
	}

	n, err := svc.RevokeAllConnectionPermissions(ctx, conn.ID, "system")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	agents, _ = svc.GetConnectionAgents(ctx, conn.ID)
	if len(agents) != 0 {
		t.Fatalf("expected no agents after cascade, got %v", agents)
	}
	remaining, _ := svc.ListAgentPermissions(ctx, "agent-a", false)
	if len(remaining) != 1 || remaining[0].WorkspaceConnectionID != other.ID {
		t.Fatalf("expected other connection untouched, got %+v", remaining)
	}
}

func TestGetBestConnectionForCapability_PrefersRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	svc := NewService(store)
	a := seedConnection(t, store, "a@biz.com", nil)
	b := seedConnection(t, store, "b@biz.com", nil)
	grant(t, svc, "agent-1", a.ID, models.CapabilityDriveRead, models.AccessLevelRead)
	grant(t, svc, "agent-1", b.ID, models.CapabilityDriveRead, models.AccessLevelRead)

	if res, err := svc.ValidatePermissions(ctx, "agent-1", models.CapabilityDriveRead, b.ID); err != nil || !res.IsValid {
		t.Fatalf("validate: %+v %v", res, err)
	}

	best, err := svc.GetBestConnectionForCapability(ctx, "agent-1", models.CapabilityDriveRead)
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best == nil || best.ID != b.ID {
		t.Fatalf("expected recently used connection %s, got %+v", b.ID, best)
	}

	none, err := svc.GetBestConnectionForCapability(ctx, "agent-1", models.CapabilityEmailSend)
	if err != nil || none != nil {
		t.Fatalf("expected nil without grants, got %+v %v", none, err)
	}
}
