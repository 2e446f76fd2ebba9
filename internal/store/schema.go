package store

import (
	"context"
	"fmt"
)

// schema is shared by SQLite and Postgres; declared types are chosen so that
// both drivers scan BOOLEAN, DATE and TIMESTAMP columns into Go bool and time.Time.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_ref   TEXT PRIMARY KEY,
		premium    BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		payment_id TEXT PRIMARY KEY,
		user_ref   TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS progress (
		user_ref TEXT NOT NULL,
		task_id  TEXT NOT NULL,
		correct  BOOLEAN NOT NULL,
		xp       INTEGER NOT NULL,
		badge    TEXT,
		PRIMARY KEY (user_ref, task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS xp_bank (
		user_ref   TEXT PRIMARY KEY,
		xp_total   INTEGER NOT NULL DEFAULT 0 CHECK (xp_total >= 0),
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS badges (
		user_ref TEXT NOT NULL,
		badge    TEXT NOT NULL,
		PRIMARY KEY (user_ref, badge)
	)`,
	`CREATE TABLE IF NOT EXISTS levels (
		user_ref     TEXT NOT NULL,
		level_code   TEXT NOT NULL,
		completed    BOOLEAN NOT NULL DEFAULT FALSE,
		reward_xp    INTEGER NOT NULL DEFAULT 0,
		completed_at TIMESTAMP,
		PRIMARY KEY (user_ref, level_code)
	)`,
	`CREATE TABLE IF NOT EXISTS streaks (
		user_ref     TEXT PRIMARY KEY,
		last_active  DATE,
		streak_count INTEGER NOT NULL DEFAULT 0 CHECK (streak_count >= 0),
		updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		bot        TEXT NOT NULL,
		chat       BIGINT NOT NULL,
		user_ref   TEXT NOT NULL,
		run_id     TEXT NOT NULL,
		tier       TEXT NOT NULL,
		cursor_pos INTEGER NOT NULL,
		score      INTEGER NOT NULL,
		mistakes   TEXT NOT NULL,
		status     TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (bot, chat)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		user_ref   TEXT PRIMARY KEY,
		hour       INTEGER NOT NULL DEFAULT 10,
		minute     INTEGER NOT NULL DEFAULT 0,
		enabled    BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS notify_log (
		user_ref  TEXT NOT NULL,
		send_date DATE NOT NULL,
		PRIMARY KEY (user_ref, send_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_enabled ON notifications (user_ref) WHERE enabled`,
}

func (s *Store) migrate(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for i, stmt := range schema {
			if _, err := tx.exec(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i, err)
			}
		}
		return nil
	})
}
