package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pysugar/workspace-nexus/internal/app"
	"github.com/pysugar/workspace-nexus/internal/config"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	a, err := app.New(cfg, database)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}
	if cfg.APIKey == "" {
		log.Println("⚠️ NEXUS_API_KEY is not set; /api is open to anyone who can reach it")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.StartBackground(ctx)

	srv := &http.Server{Addr: cfg.Addr(), Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("🚀 Workspace Nexus %s starting on http://%s", version.String(), cfg.Addr())
		log.Printf("🔐 OAuth callbacks: %s/auth/{provider}/callback", cfg.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("🛑 Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
