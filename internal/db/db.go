package db

import (
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"memgate/internal/config"
	"memgate/internal/memory"
)

var DB *gorm.DB

func Init(cfg *config.Config) error {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		return err
	}

	if err := Migrate(db); err != nil {
		return err
	}

	DB = db
	log.Printf("Database connected and migrated")
	return nil
}

// Migrate creates or updates the core tables. Split out so tests can run it
// against sqlite.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&memory.Memory{},
		&memory.MemoryVersion{},
		&memory.MemoryRelationship{},
		&memory.HindsightNote{},
		&memory.ContextSummary{},
		&memory.AuditEvent{},
	)
}
