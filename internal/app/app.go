// Package app wires the workspace services from configuration.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/pysugar/workspace-nexus/internal/api"
	"github.com/pysugar/workspace-nexus/internal/auth/oauth"
	"github.com/pysugar/workspace-nexus/internal/auth/token"
	"github.com/pysugar/workspace-nexus/internal/config"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/integration"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers/google"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers/microsoft"
	"github.com/pysugar/workspace-nexus/internal/workspace/scheduler"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

// tokenMargin is how close to expiry a cached token may get before a
// provider call refreshes it first.
const tokenMargin = 5 * time.Minute

// App holds every long-lived service.
type App struct {
	Config      *config.Config
	Store       *db.GormStore
	Permissions *permission.Service
	Connections *oauth.Manager
	Tokens      *token.Manager
	Tools       *tools.AgentTools
	Selector    *selector.ConnectionSelector
	Ranker      *selector.ProviderSelector
	Integration *integration.Integration
	Commands    *integration.Enhanced
	Scheduler   *scheduler.Scheduler
}

// New builds the services over an already migrated database.
func New(cfg *config.Config, database *gorm.DB) (*App, error) {
	quality, err := cfg.Quality()
	if err != nil {
		return nil, fmt.Errorf("provider quality: %w", err)
	}

	a := &App{Config: cfg, Store: db.NewGormStore(database)}
	a.Permissions = permission.NewService(a.Store)
	a.Connections = oauth.NewManager(a.Store, a.Permissions, cfg.OAuthProviders())
	a.Tokens = token.NewManager(a.Connections, a.Store, tokenMargin)

	tokenOpt := providers.WithTokenSource(a.Tokens.TokenSource)
	registry := tools.Registry{
		models.ProviderGoogleWorkspace: google.Capabilities(google.DefaultEndpoints(), cfg.ProviderTimeout, tokenOpt),
		models.ProviderMicrosoft365:    microsoft.Capabilities(microsoft.GraphBase, cfg.ProviderTimeout, tokenOpt),
	}
	a.Tools = tools.New(a.Permissions, registry, a.Store)

	a.Selector = selector.NewConnectionSelector(a.Permissions)
	a.Ranker = selector.NewProviderSelector(a.Permissions, quality)
	a.Integration = integration.New(a.Permissions, a.Tools, a.Selector, a.Ranker, nil, nil)
	a.Scheduler = scheduler.New(scheduler.NewGormStore(database), a.Integration,
		scheduler.WithMaxRetries(cfg.MaxRetries),
		scheduler.WithRetryPolicy(scheduler.RetryPolicy{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay, Multiplier: 2}),
	)
	a.Integration.SetScheduler(a.Scheduler)
	a.Commands = integration.NewEnhanced(a.Integration, integration.NewAuditReporter(a.Store), cfg.CommandTimeout)

	if ids := a.Connections.Providers(); len(ids) == 0 {
		log.Println("⚠️ No OAuth providers configured; set GOOGLE_CLIENT_ID, MICROSOFT_CLIENT_ID or ZOHO_CLIENT_ID")
	} else {
		for _, id := range ids {
			log.Printf("🔌 OAuth provider enabled: %s", id.DisplayName())
		}
	}
	return a, nil
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Services{
		Connections:   a.Connections,
		Store:         a.Store,
		Permissions:   a.Permissions,
		Tools:         a.Tools,
		Selector:      a.Selector,
		Commands:      a.Commands,
		Tasks:         a.Scheduler,
		APIKey:        a.Config.APIKey,
		AdminPassword: a.Config.AdminPassword,
	})
}

// StartBackground runs the scheduler sweep and token refresh loop until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	a.Scheduler.Start(ctx, a.Config.SchedulerInterval)
	a.Tokens.StartRefreshLoop(ctx, a.Config.TokenRefreshInterval, a.Config.TokenRefreshWindow)
}
