// Package token keeps connection access tokens fresh: it serves cached
// tokens to the provider clients and refreshes expiring ones in the
// background.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// Refresher performs the refresh-token grant for one connection.
type Refresher interface {
	RefreshConnection(ctx context.Context, connectionID string) (*models.WorkspaceConnection, error)
	ExpiringConnections(ctx context.Context, window time.Duration) ([]models.WorkspaceConnection, error)
}

// ConnectionLoader reads a connection by id.
type ConnectionLoader interface {
	GetConnection(ctx context.Context, id string) (*models.WorkspaceConnection, error)
}

// CachedToken is an in-memory access token for one connection.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
	Email       string
}

func (t *CachedToken) validFor(now time.Time, margin time.Duration) bool {
	return t != nil && t.AccessToken != "" && (t.ExpiresAt.IsZero() || t.ExpiresAt.After(now.Add(margin)))
}

// Manager caches connection tokens and refreshes them before they lapse.
type Manager struct {
	refresher Refresher
	loader    ConnectionLoader
	cache     map[string]*CachedToken
	mu        sync.RWMutex
	margin    time.Duration
	now       func() time.Time
}

// NewManager builds a token manager. margin is how close to expiry a
// token may get before a call forces a refresh.
func NewManager(refresher Refresher, loader ConnectionLoader, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = time.Minute
	}
	return &Manager{
		refresher: refresher,
		loader:    loader,
		cache:     make(map[string]*CachedToken),
		margin:    margin,
		now:       time.Now,
	}
}

// GetToken returns a usable access token for the connection, refreshing it
// synchronously when it is expired or about to expire.
func (m *Manager) GetToken(ctx context.Context, connectionID string) (*CachedToken, error) {
	m.mu.RLock()
	tok, ok := m.cache[connectionID]
	m.mu.RUnlock()

	now := m.now()
	if !ok {
		conn, err := m.loader.GetConnection(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		if conn.Status != models.ConnectionStatusActive {
			return nil, fmt.Errorf("connection %s is %s", conn.Email, conn.Status)
		}
		tok = m.store(conn)
		log.Printf("📦 Loaded connection %s into token cache on-demand", conn.Email)
	}
	if tok.validFor(now, m.margin) {
		return tok, nil
	}

	log.Printf("⚠️ Token for %s is expired/expiring, refreshing...", tok.Email)
	conn, err := m.refresher.RefreshConnection(ctx, connectionID)
	if err != nil {
		m.Invalidate(connectionID)
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	tok = m.store(conn)
	if !tok.validFor(m.now(), 0) {
		return nil, errors.New("token refresh returned an expired token")
	}
	return tok, nil
}

// TokenSource adapts GetToken to the provider clients.
func (m *Manager) TokenSource(ctx context.Context, conn *models.WorkspaceConnection) oauth2.TokenSource {
	return &connectionTokenSource{ctx: ctx, m: m, connectionID: conn.ID}
}

type connectionTokenSource struct {
	ctx          context.Context
	m            *Manager
	connectionID string
}

func (s *connectionTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.m.GetToken(s.ctx, s.connectionID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok.AccessToken, TokenType: "Bearer", Expiry: tok.ExpiresAt}, nil
}

// Invalidate drops a connection from the cache, e.g. after a disconnect.
func (m *Manager) Invalidate(connectionID string) {
	m.mu.Lock()
	delete(m.cache, connectionID)
	m.mu.Unlock()
}

func (m *Manager) store(conn *models.WorkspaceConnection) *CachedToken {
	tok := &CachedToken{AccessToken: conn.AccessToken, Email: conn.Email}
	if conn.TokenExpiresAt != nil {
		tok.ExpiresAt = *conn.TokenExpiresAt
	}
	m.mu.Lock()
	m.cache[conn.ID] = tok
	m.mu.Unlock()
	return tok
}

// StartRefreshLoop refreshes connections expiring within lookAhead every
// interval until ctx is done.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval, lookAhead time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("🛑 Token refresh loop stopped")
				return
			case <-ticker.C:
				m.RefreshExpiring(ctx, lookAhead)
			}
		}
	}()
	log.Printf("🔄 Token refresh loop started (interval: %s, look-ahead: %s)", interval, lookAhead)
}

// RefreshExpiring refreshes every ACTIVE connection whose token expires
// within lookAhead and reports how many succeeded.
func (m *Manager) RefreshExpiring(ctx context.Context, lookAhead time.Duration) (refreshed, failed int) {
	conns, err := m.refresher.ExpiringConnections(ctx, lookAhead)
	if err != nil {
		log.Printf("⚠️ Failed to list expiring connections: %v", err)
		return 0, 0
	}
	for _, c := range conns {
		conn, err := m.refresher.RefreshConnection(ctx, c.ID)
		if err != nil {
			m.Invalidate(c.ID)
			failed++
			continue
		}
		m.store(conn)
		refreshed++
	}
	if len(conns) > 0 {
		log.Printf("🔄 Refreshed %d/%d expiring connections", refreshed, len(conns))
	}
	return refreshed, failed
}
