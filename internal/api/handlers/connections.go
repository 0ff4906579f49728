package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/scopes"
)

// ConnectionReader loads a single connection.
type ConnectionReader interface {
	GetConnection(ctx context.Context, id string) (*models.WorkspaceConnection, error)
}

// ConnectionAgentLister lists agents holding active grants on a connection.
type ConnectionAgentLister interface {
	GetConnectionAgents(ctx context.Context, connectionID string) ([]string, error)
}

type connectionView struct {
	*models.WorkspaceConnection
	ProviderName  string   `json:"provider_name"`
	Healthy       bool     `json:"healthy"`
	MissingScopes []string `json:"missing_scopes,omitempty"`
}

func newConnectionView(c *models.WorkspaceConnection, now time.Time) connectionView {
	return connectionView{
		WorkspaceConnection: c,
		ProviderName:        c.Provider.DisplayName(),
		Healthy:             c.Usable(now),
		MissingScopes:       scopes.GetMissingScopes(c.Provider, c.Scopes),
	}
}

// ListConnectionsHandler lists a user's connections.
func ListConnectionsHandler(conns ConnectionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, r, badRequest("user_id is required"))
			return
		}
		list, err := conns.ListConnections(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		now := time.Now()
		views := make([]connectionView, 0, len(list))
		for i := range list {
			views = append(views, newConnectionView(&list[i], now))
		}
		writeJSON(w, http.StatusOK, map[string]any{"connections": views})
	}
}

// RefreshConnectionHandler forces a token refresh.
func RefreshConnectionHandler(conns ConnectionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := conns.RefreshConnection(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newConnectionView(conn, time.Now()))
	}
}

// RevokeConnectionHandler revokes a connection and every grant on it.
func RevokeConnectionHandler(conns ConnectionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := conns.RevokeConnection(r.Context(), id, actor(r, "api")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "id": id})
	}
}

type capabilityScopes struct {
	Capability models.Capability `json:"capability"`
	Scopes     []string          `json:"scopes"`
	Missing    []string          `json:"missing,omitempty"`
	Covered    bool              `json:"covered"`
}

// ConnectionScopesHandler reports granted scopes against what the
// provider and each capability require.
func ConnectionScopesHandler(store ConnectionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := store.GetConnection(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		caps := make([]capabilityScopes, 0, len(models.Capabilities))
		for _, c := range models.Capabilities {
			needed := scopes.ScopesForCapability(conn.Provider, c)
			if len(needed) == 0 {
				continue
			}
			missing := scopes.MissingForCapability(conn.Provider, c, conn.Scopes)
			caps = append(caps, capabilityScopes{Capability: c, Scopes: needed, Missing: missing, Covered: len(missing) == 0})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"connectionId": conn.ID,
			"provider":     conn.Provider,
			"granted":      strings.Fields(conn.Scopes),
			"required":     scopes.Required(conn.Provider),
			"missing":      scopes.GetMissingScopes(conn.Provider, conn.Scopes),
			"valid":        scopes.ValidateScopes(conn.Provider, conn.Scopes),
			"capabilities": caps,
		})
	}
}

// ConnectionAgentsHandler lists agents with active grants on a connection.
func ConnectionAgentsHandler(store ConnectionReader, perms ConnectionAgentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := store.GetConnection(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		agents, err := perms.GetConnectionAgents(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connectionId": id, "agents": agents})
	}
}
