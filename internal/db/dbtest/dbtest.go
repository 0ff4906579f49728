// Package dbtest opens isolated in-memory workspace databases for tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pysugar/workspace-nexus/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory database private to the calling test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared-cache DSN keeps every pooled connection on the same
	// database while isolating it from other tests.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	database, err := db.Open(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return database
}

// NewStore returns a GormStore over NewDB.
func NewStore(t *testing.T) *db.GormStore {
	t.Helper()
	return db.NewGormStore(NewDB(t))
}
