package handlers

import (
	"context"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/workspace-nexus/internal/db/models"
)

// ConnectionManager is the OAuth lifecycle behind the connection routes.
type ConnectionManager interface {
	InitiateConnection(provider models.Provider, userID, organizationID string) (string, error)
	CompleteConnection(ctx context.Context, provider models.Provider, code, state string) (*models.WorkspaceConnection, error)
	ListConnections(ctx context.Context, userID string) ([]models.WorkspaceConnection, error)
	RefreshConnection(ctx context.Context, connectionID string) (*models.WorkspaceConnection, error)
	RevokeConnection(ctx context.Context, connectionID, revokedBy string) error
}

// LoginHandler redirects to the provider's consent page. With
// format=json it returns the URL instead.
func LoginHandler(conns ConnectionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerParam(chi.URLParam(r, "provider"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, r, badRequest("user_id is required"))
			return
		}

		url, err := conns.InitiateConnection(provider, userID, r.URL.Query().Get("organization_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if r.URL.Query().Get("format") == "json" {
			writeJSON(w, http.StatusOK, map[string]string{"url": url})
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

var connectedPage = template.Must(template.New("connected").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Workspace Connected</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
		.success { color: #4ade80; }
		code { background: #374151; padding: 2px 6px; border-radius: 4px; color: #fbbf24; }
	</style>
</head>
<body>
	<h1 class="success">✅ Workspace Connected</h1>
	<p><strong>Account:</strong> {{.Email}}</p>
	<p><strong>Provider:</strong> {{.ProviderName}}</p>
	<p><strong>Type:</strong> {{.AccountType}}</p>
	<p><strong>Connection ID:</strong> <code>{{.ID}}</code></p>
	<p>You can close this window.</p>
</body>
</html>`))

// CallbackHandler completes the OAuth flow and stores the connection.
func CallbackHandler(conns ConnectionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := providerParam(chi.URLParam(r, "provider"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		if denied := q.Get("error"); denied != "" {
			log.Printf("⚠️ %s consent denied: %s %s", provider.DisplayName(), denied, q.Get("error_description"))
			writeError(w, r, badRequest("authorization failed: %s", denied))
			return
		}
		code := q.Get("code")
		if code == "" {
			writeError(w, r, badRequest("code is required"))
			return
		}

		conn, err := conns.CompleteConnection(r.Context(), provider, code, q.Get("state"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		if q.Get("format") == "json" {
			writeJSON(w, http.StatusOK, newConnectionView(conn, time.Now()))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := connectedPage.Execute(w, map[string]string{
			"Email":        conn.Email,
			"ProviderName": conn.Provider.DisplayName(),
			"AccountType":  string(conn.AccountType),
			"ID":           conn.ID,
		}); err != nil {
			log.Printf("⚠️ Failed to render callback page: %v", err)
		}
	}
}
