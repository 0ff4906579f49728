// Package permission is the capability-grant ledger: it grants and revokes
// agent capabilities on workspace connections and validates them before
// every tool call.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
)

var (
	// ErrConnectionUnavailable is returned when granting against a missing or non-ACTIVE connection.
	ErrConnectionUnavailable = errors.New("workspace connection not found or inactive")
	// ErrPermissionNotFound is returned when revoking an unknown permission id.
	ErrPermissionNotFound = errors.New("permission not found")
)

// Service is the single authority for agent workspace grants.
type Service struct {
	store   db.Store
	limiter RateLimiter
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimiter replaces the default Unlimited limiter.
func WithRateLimiter(l RateLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a permission service over store.
func NewService(store db.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = Unlimited{Now: s.now}
	}
	return s
}

// GrantParams describes a grant request.
type GrantParams struct {
	AgentID      string             `json:"agentId"`
	ConnectionID string             `json:"connectionId"`
	Capability   models.Capability  `json:"capability"`
	AccessLevel  models.AccessLevel `json:"accessLevel,omitempty"`
	Restrictions map[string]any     `json:"restrictions,omitempty"`
	GrantedBy    string             `json:"grantedBy"`
}

// DefaultAccessLevel is the level granted when a request names none.
func DefaultAccessLevel(c models.Capability) models.AccessLevel {
	switch c {
	case models.CapabilityEmailRead, models.CapabilityCalendarRead, models.CapabilityDocumentRead,
		models.CapabilityDriveRead, models.CapabilitySpreadsheetRead, models.CapabilityContactsRead:
		return models.AccessLevelRead
	}
	return models.AccessLevelWrite
}

func (p *GrantParams) normalize() error {
	if p.AgentID == "" || p.ConnectionID == "" {
		return errors.New("agentId and connectionId are required")
	}
	if !p.Capability.Valid() {
		return fmt.Errorf("unknown capability %q", p.Capability)
	}
	if p.AccessLevel == "" {
		p.AccessLevel = DefaultAccessLevel(p.Capability)
	}
	if !p.AccessLevel.Valid() {
		return fmt.Errorf("unknown access level %q", p.AccessLevel)
	}
	return nil
}

// GrantPermission upserts the grant for (agent, connection, capability).
// An existing row, active or revoked, is updated in place.
func (s *Service) GrantPermission(ctx context.Context, params GrantParams) (*models.AgentWorkspacePermission, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}

	conn, err := s.store.GetConnection(ctx, params.ConnectionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConnectionUnavailable, params.ConnectionID)
		}
		return nil, err
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrConnectionUnavailable, conn.Email, conn.Status)
	}

	restrictions := ""
	if len(params.Restrictions) > 0 {
		raw, err := json.Marshal(params.Restrictions)
		if err != nil {
			return nil, fmt.Errorf("encode restrictions: %w", err)
		}
		restrictions = string(raw)
	}

	perm, reactivated, err := s.upsertGrant(ctx, params, restrictions)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &models.WorkspaceAuditLog{
		WorkspaceConnectionID: conn.ID,
		AgentID:               params.AgentID,
		Action:                models.AuditActionAccessGranted,
		Capability:            params.Capability,
		Result:                models.AuditResultSuccess,
	}, map[string]any{
		"accessLevel": perm.AccessLevel,
		"grantedBy":   params.GrantedBy,
		"updated":     reactivated,
	})

	log.Printf("✅ Granted %s (%s) to agent %s on %s", params.Capability, perm.AccessLevel, params.AgentID, conn.Email)
	return perm, nil
}

func (s *Service) upsertGrant(ctx context.Context, params GrantParams, restrictions string) (*models.AgentWorkspacePermission, bool, error) {
	now := s.now()
	apply := func(perm *models.AgentWorkspacePermission) {
		perm.AccessLevel = params.AccessLevel
		perm.Restrictions = restrictions
		perm.GrantedBy = params.GrantedBy
		perm.GrantedAt = now
		perm.RevokedAt = nil
	}

	// Two attempts: a concurrent grant may insert the row between our lookup
	// and create, in which case the unique index rejects ours and we update.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
			AgentID:               params.AgentID,
			WorkspaceConnectionID: params.ConnectionID,
			Capability:            params.Capability,
		})
		if err != nil {
			return nil, false, err
		}
		if len(existing) > 0 {
			perm := existing[0]
			apply(&perm)
			if err := s.store.UpdatePermission(ctx, &perm); err != nil {
				return nil, false, err
			}
			return &perm, true, nil
		}

		perm := models.AgentWorkspacePermission{
			ID:                    uuid.NewString(),
			AgentID:               params.AgentID,
			WorkspaceConnectionID: params.ConnectionID,
			Capability:            params.Capability,
		}
		apply(&perm)
		if lastErr = s.store.CreatePermission(ctx, &perm); lastErr == nil {
			return &perm, false, nil
		}
	}
	return nil, false, fmt.Errorf("create permission: %w", lastErr)
}

// RevokePermission soft-deletes a grant. The row is kept for audit.
func (s *Service) RevokePermission(ctx context.Context, permissionID, revokedBy string) error {
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPermissionNotFound, permissionID)
		}
		return err
	}
	if !perm.Active() {
		return nil
	}
	return s.revoke(ctx, perm, revokedBy)
}

func (s *Service) revoke(ctx context.Context, perm *models.AgentWorkspacePermission, revokedBy string) error {
	now := s.now()
	perm.RevokedAt = &now
	if err := s.store.UpdatePermission(ctx, perm); err != nil {
		return fmt.Errorf("revoke permission %s: %w", perm.ID, err)
	}

	s.audit(ctx, &models.WorkspaceAuditLog{
		WorkspaceConnectionID: perm.WorkspaceConnectionID,
		AgentID:               perm.AgentID,
		Action:                models.AuditActionAccessRevoked,
		Capability:            perm.Capability,
		Result:                models.AuditResultSuccess,
	}, map[string]any{"revokedBy": revokedBy})

	log.Printf("🔒 Revoked %s from agent %s (permission %s)", perm.Capability, perm.AgentID, perm.ID)
	return nil
}

// RevokeAllConnectionPermissions revokes every active grant on a connection,
// e.g. when it is disconnected. It returns how many grants were revoked.
func (s *Service) RevokeAllConnectionPermissions(ctx context.Context, connectionID, revokedBy string) (int, error) {
	perms, err := s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
		WorkspaceConnectionID: connectionID,
		ActiveOnly:            true,
	})
	if err != nil {
		return 0, err
	}
	for i := range perms {
		if err := s.revoke(ctx, &perms[i], revokedBy); err != nil {
			return i, err
		}
	}
	return len(perms), nil
}

// ListAgentPermissions returns an agent's grants, optionally including revoked ones.
func (s *Service) ListAgentPermissions(ctx context.Context, agentID string, includeRevoked bool) ([]models.AgentWorkspacePermission, error) {
	return s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
		AgentID:    agentID,
		ActiveOnly: !includeRevoked,
	})
}

// audit appends an audit row. Failures are logged and never returned.
func (s *Service) audit(ctx context.Context, entry *models.WorkspaceAuditLog, metadata map[string]any) {
	entry.ID = uuid.NewString()
	entry.Timestamp = s.now()
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(raw)
		}
	}
	if err := s.store.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("⚠️ Failed to write audit log (%s %s): %v", entry.Action, entry.Capability, err)
	}
}

// AgentCapability is one active grant flattened with its connection.
type AgentCapability struct {
	PermissionID   string             `json:"permissionId"`
	Capability     models.Capability  `json:"capability"`
	Label          string             `json:"label"`
	AccessLevel    models.AccessLevel `json:"accessLevel"`
	ConnectionID   string             `json:"connectionId"`
	ConnectionName string             `json:"connectionName"`
	Email          string             `json:"email"`
	Provider       models.Provider    `json:"provider"`
	ProviderName   string             `json:"providerName"`
	AccountType    models.AccountType `json:"accountType"`
}

// GetAgentWorkspaceCapabilities lists the agent's active grants whose
// connection is still ACTIVE. Grants on inactive connections are omitted.
func (s *Service) GetAgentWorkspaceCapabilities(ctx context.Context, agentID string) ([]AgentCapability, error) {
	perms, err := s.ListAgentPermissions(ctx, agentID, false)
	if err != nil {
		return nil, err
	}
	conns, err := s.connectionsFor(ctx, perms)
	if err != nil {
		return nil, err
	}

	out := make([]AgentCapability, 0, len(perms))
	for _, p := range perms {
		conn, ok := conns[p.WorkspaceConnectionID]
		if !ok || conn.Status != models.ConnectionStatusActive {
			continue
		}
		out = append(out, AgentCapability{
			PermissionID:   p.ID,
			Capability:     p.Capability,
			Label:          p.Capability.Label(),
			AccessLevel:    p.AccessLevel,
			ConnectionID:   conn.ID,
			ConnectionName: conn.Name(),
			Email:          conn.Email,
			Provider:       conn.Provider,
			ProviderName:   conn.Provider.DisplayName(),
			AccountType:    conn.AccountType,
		})
	}
	return out, nil
}

// Candidate pairs an ACTIVE connection with the grant that exposes it.
type Candidate struct {
	Connection models.WorkspaceConnection
	Permission models.AgentWorkspacePermission
}

// ConnectionsForCapability returns ACTIVE connections on which the agent
// holds capability at minLevel or above, in connection creation order.
func (s *Service) ConnectionsForCapability(ctx context.Context, agentID string, capability models.Capability, minLevel models.AccessLevel) ([]Candidate, error) {
	perms, err := s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
		AgentID:    agentID,
		Capability: capability,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}
	conns, err := s.connectionsFor(ctx, perms)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(perms))
	for _, p := range perms {
		if !p.AccessLevel.Allows(minLevel) {
			continue
		}
		conn, ok := conns[p.WorkspaceConnectionID]
		if !ok || conn.Status != models.ConnectionStatusActive {
			continue
		}
		out = append(out, Candidate{Connection: conn, Permission: p})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Connection.CreatedAt.Before(out[j].Connection.CreatedAt)
	})
	return out, nil
}

// GetBestConnectionForCapability returns the usable connection the agent most
// recently used for capability, or nil when none is available.
func (s *Service) GetBestConnectionForCapability(ctx context.Context, agentID string, capability models.Capability) (*models.WorkspaceConnection, error) {
	candidates, err := s.ConnectionsForCapability(ctx, agentID, capability, models.AccessLevelRead)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if !c.Connection.Usable(now) {
			continue
		}
		if best == nil || usedAfter(c.Permission.LastUsedAt, best.Permission.LastUsedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	conn := best.Connection
	return &conn, nil
}

func usedAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}

// GetConnectionAgents returns the distinct agents holding active grants on a connection.
func (s *Service) GetConnectionAgents(ctx context.Context, connectionID string) ([]string, error) {
	perms, err := s.store.FindAgentWorkspacePermissions(ctx, db.PermissionFilter{
		WorkspaceConnectionID: connectionID,
		ActiveOnly:            true,
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(perms))
	agents := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.AgentID]; ok {
			continue
		}
		seen[p.AgentID] = struct{}{}
		agents = append(agents, p.AgentID)
	}
	sort.Strings(agents)
	return agents, nil
}

func (s *Service) connectionsFor(ctx context.Context, perms []models.AgentWorkspacePermission) (map[string]models.WorkspaceConnection, error) {
	if len(perms) == 0 {
		return map[string]models.WorkspaceConnection{}, nil
	}
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.WorkspaceConnectionID)
	}
	conns, err := s.store.FindConnections(ctx, db.ConnectionFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.WorkspaceConnection, len(conns))
	for _, c := range conns {
		byID[c.ID] = c
	}
	return byID, nil
}
