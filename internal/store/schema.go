package store

import (
	"context"
	"fmt"
	"strings"
)

// {{pk}} expands to the auto-increment primary key of the dialect.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		name TEXT NOT NULL UNIQUE,
		fullname TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS microbiology_logs (
		id {{pk}},
		table_name TEXT NOT NULL,
		table_description TEXT NOT NULL DEFAULT '',
		table_date TEXT NOT NULL,
		incubation_profile TEXT NOT NULL DEFAULT '',
		row_index INTEGER NOT NULL DEFAULT 0,
		product TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		expiration_date TEXT,
		enterobacteriacea TEXT,
		tmc_30 TEXT,
		yeasts_molds TEXT,
		bacillus TEXT,
		eval_2nd TEXT NOT NULL DEFAULT '',
		eval_3rd TEXT NOT NULL DEFAULT '',
		eval_4th TEXT NOT NULL DEFAULT '',
		stress_test TEXT NOT NULL DEFAULT '',
		comments TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_table_date ON microbiology_logs (table_date)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_product ON microbiology_logs (product)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_sheet ON microbiology_logs (table_name, table_date)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id {{pk}},
		user_id INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id INTEGER,
		old_values TEXT,
		new_values TEXT,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_logs (table_name, record_id)`,
	`CREATE TABLE IF NOT EXISTS products_cache (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mtrl TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, strings.ReplaceAll(stmt, "{{pk}}", pk)); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
