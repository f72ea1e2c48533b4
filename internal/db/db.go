package db

import (
	"fmt"

	"affiliate/internal/auth"
	"affiliate/internal/catalog"
	"affiliate/internal/dmqueue"
	"affiliate/internal/instagram"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	models := []any{&catalog.Section{}, &catalog.Item{}, &auth.User{}}
	models = append(models, dmqueue.Models()...)
	models = append(models, instagram.Models()...)

	// Tables
	if err := gdb.AutoMigrate(models...); err != nil {
		return err
	}

	// One active job per (recipient, reel)
	if err := gdb.Exec(dmqueue.ActiveIndexSQL).Error; err != nil {
		return fmt.Errorf("active job index: %w", err)
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_dm_jobs_queue on dm_jobs(status, queued_at, id);`,
		`create index if not exists idx_dm_jobs_stale on dm_jobs(status, last_attempt_at);`,
		`create index if not exists idx_items_section_created on items(section_id, created_at desc);`,
		`create index if not exists idx_reel_mappings_match on reel_mappings(reel_id, active, keyword);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
