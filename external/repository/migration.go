package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('pending', 'active', 'closing', 'closed', 'orphaned'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		participant TEXT NOT NULL,
		status session_status NOT NULL DEFAULT 'pending',
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		last_sequence BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions (started_at)`,
	`CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		sequence BIGINT NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT,
		recorded_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (session_id, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS moving_requests (
		request_id TEXT PRIMARY KEY,
		customer_name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		phone_type TEXT NOT NULL,
		from_address TEXT NOT NULL,
		from_building_type TEXT NOT NULL,
		from_bedrooms INTEGER NOT NULL,
		to_address TEXT NOT NULL,
		move_date TEXT NOT NULL,
		flexible_date BOOLEAN NOT NULL,
		assist_car BOOLEAN NOT NULL,
		car_year TEXT,
		car_make TEXT,
		car_model TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// RunMigration provisions the schema idempotently. Statement order matters:
// the enum must exist before the sessions table references it.
func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
