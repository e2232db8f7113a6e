package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/models"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Model{},
		&models.AccessPolicy{},
		&models.Subscription{},
		&models.GeneratedAccessRule{},
		&models.GeneratedQuotaRule{},
		&models.Credential{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	// ddl defines an index statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_credentials_last_used_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_credentials_last_used_at
				ON credentials (last_used_at)
				WHERE last_used_at IS NOT NULL
			`,
		},
		{
			name: "idx_credentials_username_status",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_credentials_username_status
				ON credentials (username, status)
			`,
		},
		{
			name: "idx_generated_access_rules_managed_model",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_generated_access_rules_managed_model
				ON generated_access_rules (managed_by, model_name)
			`,
		},
		{
			name: "idx_generated_quota_rules_managed_model",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_generated_quota_rules_managed_model
				ON generated_quota_rules (managed_by, model_name)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}
