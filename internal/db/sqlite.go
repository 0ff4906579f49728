package db

import (
	"log"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AllModels lists every table the workspace store migrates.
var AllModels = []any{
	&models.WorkspaceConnection{},
	&models.AgentWorkspacePermission{},
	&models.WorkspaceAuditLog{},
	&models.WorkspaceScheduledTask{},
}

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := Open(withPragmas(dbPath), logger.Warn)
	if err != nil {
		return nil, err
	}
	log.Printf("📦 Workspace database ready: %s", dbPath)
	return db, nil
}

// Open connects to dsn and auto-migrates all workspace models.
func Open(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(AllModels...); err != nil {
		return nil, err
	}
	return db, nil
}

// withPragmas enables WAL and a busy timeout so the scheduler sweep and
// API handlers can share one database file.
func withPragmas(dbPath string) string {
	if strings.Contains(dbPath, "_pragma=") || strings.Contains(dbPath, ":memory:") {
		return dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
