package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
)

var (
	// ErrUnknownProvider is returned for a provider with no registration.
	ErrUnknownProvider = errors.New("workspace provider not configured")
	// ErrNoRefreshToken is returned when a connection cannot be refreshed.
	ErrNoRefreshToken = errors.New("connection has no refresh token")
	// ErrRefreshRejected wraps refresh failures that need the user to reconnect.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// PermissionRevoker cascades a disconnect to the agent grants.
type PermissionRevoker interface {
	RevokeAllConnectionPermissions(ctx context.Context, connectionID, revokedBy string) (int, error)
}

// Manager owns the lifecycle of workspace connections.
type Manager struct {
	store     db.Store
	perms     PermissionRevoker
	providers map[models.Provider]*Provider
	http      *http.Client
	refreshes singleflight.Group
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient sets the client used for token, profile and revoke calls.
func WithHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) { m.http = hc }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a connection manager for the given providers.
func NewManager(store db.Store, perms PermissionRevoker, providers []*Provider, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		perms:     perms,
		providers: make(map[models.Provider]*Provider, len(providers)),
		http:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
	for _, p := range providers {
		m.providers[p.ID] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Provider returns the registration for id.
func (m *Manager) Provider(id models.Provider) (*Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Providers lists the configured providers in display order.
func (m *Manager) Providers() []models.Provider {
	var out []models.Provider
	for _, id := range models.Providers {
		if _, ok := m.providers[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.http)
}

// InitiateConnection returns the consent URL the user must visit.
func (m *Manager) InitiateConnection(provider models.Provider, userID, organizationID string) (string, error) {
	p, err := m.Provider(provider)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	state := State{UserID: userID, OrganizationID: organizationID, Nonce: uuid.NewString()}
	return p.Config.AuthCodeURL(state.Encode(), p.AuthOpts...), nil
}

// CompleteConnection exchanges the authorization code, identifies the
// account and stores the connection. Re-authorizing an account updates its
// existing row and keeps its id.
func (m *Manager) CompleteConnection(ctx context.Context, provider models.Provider, code, rawState string) (*models.WorkspaceConnection, error) {
	p, err := m.Provider(provider)
	if err != nil {
		return nil, err
	}
	state, err := DecodeState(rawState)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	octx := m.oauthContext(ctx)
	tok, err := p.Config.Exchange(octx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	profile, err := p.fetchProfile(octx, tok)
	if err != nil {
		return nil, err
	}

	conn, created, err := m.upsert(ctx, p, state, profile, tok)
	if err != nil {
		return nil, err
	}
	m.audit(ctx, conn.ID, models.AuditActionConnectionCreated, models.AuditResultSuccess, map[string]any{
		"provider": provider,
		"email":    conn.Email,
		"created":  created,
	})
	log.Printf("✅ Connected %s account %s (id: %s)", provider.DisplayName(), conn.Email, conn.ID)
	return conn, nil
}

func (m *Manager) upsert(ctx context.Context, p *Provider, state State, profile Profile, tok *oauth2.Token) (*models.WorkspaceConnection, bool, error) {
	existing, err := m.store.FindConnections(ctx, db.ConnectionFilter{
		UserID:   state.UserID,
		Provider: p.ID,
		Email:    profile.Email,
	})
	if err != nil {
		return nil, false, fmt.Errorf("find existing connection: %w", err)
	}

	conn := &models.WorkspaceConnection{ID: uuid.NewString(), ConnectionType: models.ConnectionTypeDelegated}
	created := len(existing) == 0
	if !created {
		*conn = existing[0]
		m.pruneDuplicates(ctx, existing[1:])
	}

	now := m.now()
	accountType, domain := classifyAccount(profile)
	conn.UserID = state.UserID
	if state.OrganizationID != "" {
		conn.OrganizationID = state.OrganizationID
	}
	conn.Provider = p.ID
	conn.Email = profile.Email
	conn.DisplayName = profile.DisplayName
	conn.AccountType = accountType
	conn.Domain = domain
	conn.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	conn.TokenExpiresAt = tokenExpiry(tok)
	conn.Scopes = grantedScopes(tok, p.Config.Scopes)
	conn.Status = models.ConnectionStatusActive
	conn.LastSyncAt = &now

	if created {
		err = m.store.CreateConnection(ctx, conn)
	} else {
		err = m.store.UpdateConnection(ctx, conn)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to save connection: %w", err)
	}
	return conn, created, nil
}

// pruneDuplicates removes extra rows for one (user, provider, email).
func (m *Manager) pruneDuplicates(ctx context.Context, dups []models.WorkspaceConnection) {
	for _, d := range dups {
		if _, err := m.perms.RevokeAllConnectionPermissions(ctx, d.ID, "system:dedupe"); err != nil {
			log.Printf("⚠️ Failed to revoke grants on duplicate connection %s: %v", d.ID, err)
		}
		if err := m.store.DeleteConnection(ctx, d.ID); err != nil {
			log.Printf("⚠️ Failed to prune duplicate connection %s: %v", d.ID, err)
			continue
		}
		log.Printf("🧹 Pruned duplicate connection %s for %s", d.ID, d.Email)
	}
}

// RefreshConnection runs the refresh-token grant for one connection.
// Concurrent calls for the same connection share one provider round-trip.
// A rejected refresh token marks the connection EXPIRED; other failures
// leave it untouched for the next attempt.
func (m *Manager) RefreshConnection(ctx context.Context, connectionID string) (*models.WorkspaceConnection, error) {
	v, err, shared := m.refreshes.Do(connectionID, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), connectionID)
	})
	if shared {
		log.Printf("🔄 Joined in-flight refresh for connection %s", connectionID)
	}
	if err != nil {
		return nil, err
	}
	conn := *v.(*models.WorkspaceConnection)
	return &conn, nil
}

func (m *Manager) refresh(ctx context.Context, connectionID string) (*models.WorkspaceConnection, error) {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status == models.ConnectionStatusRevoked {
		return nil, fmt.Errorf("connection %s is revoked", conn.Email)
	}
	if conn.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRefreshToken, conn.Email)
	}
	p, err := m.Provider(conn.Provider)
	if err != nil {
		return nil, err
	}

	src := p.Config.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: conn.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		log.Printf("❌ Refresh token failed for %s: %v", conn.Email, err)
		if !IsPermanentRefreshError(err) {
			log.Printf("⏳ Transient refresh failure for %s, connection remains %s", conn.Email, conn.Status)
			return nil, fmt.Errorf("refresh %s: %w", conn.Email, err)
		}
		conn.Status = models.ConnectionStatusExpired
		if saveErr := m.store.UpdateConnection(ctx, conn); saveErr != nil {
			log.Printf("⚠️ Failed to mark connection %s expired: %v", conn.ID, saveErr)
		}
		m.audit(ctx, conn.ID, models.AuditActionConnectionRefreshed, models.AuditResultFailure, map[string]any{"error": err.Error()})
		log.Printf("🔒 Connection %s marked as EXPIRED. Please reconnect.", conn.Email)
		return nil, fmt.Errorf("%w for %s: %v", ErrRefreshRejected, conn.Email, err)
	}

	now := m.now()
	conn.AccessToken = tok.AccessToken
	conn.TokenExpiresAt = tokenExpiry(tok)
	conn.Status = models.ConnectionStatusActive
	conn.LastSyncAt = &now
	if tok.RefreshToken != "" && tok.RefreshToken != conn.RefreshToken {
		log.Printf("🔄 Rotating refresh token for: %s", conn.Email)
		conn.RefreshToken = tok.RefreshToken
	}
	if err := m.store.UpdateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}
	m.audit(ctx, conn.ID, models.AuditActionConnectionRefreshed, models.AuditResultSuccess, nil)

	expires := "never"
	if conn.TokenExpiresAt != nil {
		expires = conn.TokenExpiresAt.Format(time.RFC3339)
	}
	log.Printf("✅ Refreshed token for: %s (token: %s, expires: %s)", conn.Email, maskToken(conn.AccessToken), expires)
	return conn, nil
}

// ValidateConnection checks the stored token against the provider's
// profile endpoint, refreshing first when it has expired.
func (m *Manager) ValidateConnection(ctx context.Context, connectionID string) (bool, error) {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return false, err
	}
	if conn.Status != models.ConnectionStatusActive {
		return false, nil
	}
	if conn.TokenExpired(m.now()) {
		if conn, err = m.RefreshConnection(ctx, connectionID); err != nil {
			return false, nil
		}
	}
	p, err := m.Provider(conn.Provider)
	if err != nil {
		return false, err
	}
	if _, err := p.fetchProfile(m.oauthContext(ctx), connectionToken(conn)); err != nil {
		log.Printf("⚠️ Connection %s failed validation: %v", conn.Email, err)
		return false, nil
	}
	return true, nil
}

// IsHealthy reports whether conn can serve calls right now.
func (m *Manager) IsHealthy(conn *models.WorkspaceConnection) bool {
	return conn != nil && conn.Usable(m.now())
}

// RevokeConnection disconnects a connection: the token is revoked at the
// provider (best effort), the row is marked REVOKED and every agent grant
// on it is revoked.
func (m *Manager) RevokeConnection(ctx context.Context, connectionID, revokedBy string) error {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	if p, err := m.Provider(conn.Provider); err == nil {
		token := conn.RefreshToken
		if token == "" {
			token = conn.AccessToken
		}
		if err := p.revoke(ctx, m.http, token); err != nil {
			log.Printf("⚠️ Provider revoke failed for %s, continuing: %v", conn.Email, err)
		}
	}

	conn.Status = models.ConnectionStatusRevoked
	conn.AccessToken = ""
	conn.RefreshToken = ""
	if err := m.store.UpdateConnection(ctx, conn); err != nil {
		return fmt.Errorf("failed to mark connection revoked: %w", err)
	}

	revoked, err := m.perms.RevokeAllConnectionPermissions(ctx, conn.ID, revokedBy)
	if err != nil {
		return fmt.Errorf("revoke agent permissions: %w", err)
	}
	m.audit(ctx, conn.ID, models.AuditActionConnectionRevoked, models.AuditResultSuccess, map[string]any{
		"revokedBy":          revokedBy,
		"permissionsRevoked": revoked,
	})
	log.Printf("🔒 Disconnected %s (%d agent permissions revoked)", conn.Email, revoked)
	return nil
}

// ListConnections returns a user's connections, oldest first.
func (m *Manager) ListConnections(ctx context.Context, userID string) ([]models.WorkspaceConnection, error) {
	return m.store.FindConnections(ctx, db.ConnectionFilter{UserID: userID})
}

// ExpiringConnections lists ACTIVE connections whose token expires before
// now+window and that can be refreshed.
func (m *Manager) ExpiringConnections(ctx context.Context, window time.Duration) ([]models.WorkspaceConnection, error) {
	conns, err := m.store.FindConnections(ctx, db.ConnectionFilter{Status: models.ConnectionStatusActive})
	if err != nil {
		return nil, err
	}
	threshold := m.now().Add(window)
	var out []models.WorkspaceConnection
	for _, c := range conns {
		if c.RefreshToken != "" && c.TokenExpiresAt != nil && c.TokenExpiresAt.Before(threshold) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Manager) audit(ctx context.Context, connID string, action models.AuditAction, result models.AuditResult, metadata map[string]any) {
	entry := &models.WorkspaceAuditLog{
		ID:                    uuid.NewString(),
		WorkspaceConnectionID: connID,
		Action:                action,
		Result:                result,
		Timestamp:             m.now(),
	}
	if len(metadata) > 0 {
		raw, _ := json.Marshal(metadata)
		entry.Metadata = string(raw)
	}
	if err := m.store.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("⚠️ Failed to write %s audit for %s: %v", action, connID, err)
	}
}

// classifyAccount infers the account type and domain from the profile.
func classifyAccount(p Profile) (models.AccountType, string) {
	if p.HostedDomain != "" {
		return models.AccountTypeOrganizational, strings.ToLower(p.HostedDomain)
	}
	domain := ""
	if i := strings.LastIndex(p.Email, "@"); i >= 0 {
		domain = strings.ToLower(p.Email[i+1:])
	}
	if domain == "" || selector.IsPersonalDomain(domain) || domain == "zoho.com" {
		return models.AccountTypePersonal, domain
	}
	return models.AccountTypeOrganizational, domain
}

func tokenExpiry(tok *oauth2.Token) *time.Time {
	if tok.Expiry.IsZero() {
		return nil
	}
	t := tok.Expiry
	return &t
}

// grantedScopes prefers the scope list the token endpoint reports.
func grantedScopes(tok *oauth2.Token, requested []string) string {
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		return strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " ")
	}
	return strings.Join(requested, " ")
}

func connectionToken(conn *models.WorkspaceConnection) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: conn.AccessToken, TokenType: "Bearer"}
	if conn.TokenExpiresAt != nil {
		tok.Expiry = *conn.TokenExpiresAt
	}
	return tok
}

var permanentRefreshMarkers = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"token has been expired or revoked",
	"revoked",
}

// IsPermanentRefreshError reports whether a refresh failure needs the user
// to reconnect rather than a later retry.
func IsPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentRefreshMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func maskToken(t string) string {
	if len(t) < 20 {
		return "***"
	}
	return "..." + t[len(t)-12:]
}
