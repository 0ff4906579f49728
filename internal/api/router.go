// Package api assembles the workspace HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pysugar/workspace-nexus/internal/api/handlers"
	"github.com/pysugar/workspace-nexus/internal/api/middleware"
	"github.com/pysugar/workspace-nexus/internal/logging"
)

// Services are the components behind the routes.
type Services struct {
	Connections handlers.ConnectionManager
	Store       interface {
		handlers.ConnectionReader
		handlers.AuditReader
	}
	Permissions handlers.PermissionService
	Tools       handlers.ToolService
	Selector    handlers.Selector
	Commands    handlers.CommandProcessor
	Tasks       handlers.TaskService

	APIKey        string
	AdminPassword string
}

// NewRouter builds the chi router for s.
func NewRouter(s Services) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.HealthHandler())

	// OAuth flow; login is gated by the admin password when set
	r.With(middleware.AdminAuth(s.AdminPassword)).Get("/auth/{provider}/login", handlers.LoginHandler(s.Connections))
	r.Get("/auth/{provider}/callback", handlers.CallbackHandler(s.Connections))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.APIKey))

		r.Get("/connections", handlers.ListConnectionsHandler(s.Connections))
		r.Post("/connections/{id}/refresh", handlers.RefreshConnectionHandler(s.Connections))
		r.Delete("/connections/{id}", handlers.RevokeConnectionHandler(s.Connections))
		r.Get("/connections/{id}/scopes", handlers.ConnectionScopesHandler(s.Store))
		r.Get("/connections/{id}/agents", handlers.ConnectionAgentsHandler(s.Store, s.Permissions))

		r.Post("/permissions", handlers.GrantPermissionHandler(s.Permissions))
		r.Post("/permissions/validate", handlers.ValidatePermissionHandler(s.Permissions))
		r.Delete("/permissions/{id}", handlers.RevokePermissionHandler(s.Permissions))
		r.Get("/audit", handlers.AuditLogHandler(s.Store))

		r.Route("/agents/{agentId}", func(r chi.Router) {
			r.Get("/capabilities", handlers.AgentCapabilitiesHandler(s.Permissions))
			r.Get("/tools", handlers.AgentToolsHandler(s.Tools))
			r.Post("/tools/{tool}", handlers.ExecuteToolHandler(s.Tools))
			r.Post("/select-connection", handlers.SelectConnectionHandler(s.Selector))
			r.Post("/commands", handlers.CommandHandler(s.Commands))
			r.Get("/tasks", handlers.AgentTasksHandler(s.Tasks))
		})
		r.Delete("/tasks/{id}", handlers.CancelTaskHandler(s.Tasks))
	})

	return r
}
