package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sites (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			register_url TEXT NOT NULL,
			login_url TEXT NOT NULL DEFAULT '',
			bank_url TEXT NOT NULL DEFAULT '',
			promo_deposit_url TEXT NOT NULL DEFAULT '',
			promo_experience_url TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			password TEXT NOT NULL DEFAULT '',
			withdraw_password TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			bank_name TEXT NOT NULL DEFAULT '',
			bank_branch TEXT NOT NULL DEFAULT '',
			bank_account TEXT NOT NULL DEFAULT '',
			captcha_api_key TEXT NOT NULL DEFAULT '',
			promo_type TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			site_id TEXT NOT NULL,
			site_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			steps_json TEXT NOT NULL DEFAULT '[]',
			started_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs (batch_id);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
