package db

import (
	"fmt"
	"time"

	"farmjobs/internal/auth"
	"farmjobs/internal/farm"
	"farmjobs/internal/jobs"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := farm.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate farm tables: %w", err)
	}
	if err := jobs.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate job tables: %w", err)
	}
	if err := gdb.AutoMigrate(&auth.Admin{}); err != nil {
		return fmt.Errorf("migrate admins: %w", err)
	}

	if gdb.Dialector.Name() != "postgres" {
		return nil
	}

	// archive cleanup scans archived plots by age
	stmts := []string{
		`create index if not exists idx_plots_archived on plots(deleted_at) where status = 'ARCHIVED';`,
		`create index if not exists idx_users_chat on users(id) where chat_id is not null;`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}
