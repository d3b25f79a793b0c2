package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('running', 'completed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		transcriber TEXT NOT NULL,
		model TEXT NOT NULL,
		language TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status session_status NOT NULL DEFAULT 'running'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_running ON sessions (started_at) WHERE status = 'running'`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		speaker INTEGER,
		segment_index INTEGER NOT NULL,
		spoken_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, segment_index)
	)`,
}

// Timestamps are unix seconds stored as REAL.
var sqliteMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		transcriber TEXT NOT NULL,
		model TEXT NOT NULL,
		language TEXT NOT NULL,
		started_at REAL NOT NULL,
		ended_at REAL,
		status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed'))
	)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		speaker INTEGER,
		segment_index INTEGER NOT NULL,
		spoken_at REAL NOT NULL,
		created_at REAL NOT NULL,
		UNIQUE(session_id, segment_index)
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range postgresMigrationStatements {
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

func RunSQLiteMigration(ctx context.Context, db *sql.DB) error {
	for _, s := range sqliteMigrationStatements {
		if _, err := db.ExecContext(ctx, strings.TrimSpace(s)); err != nil {
			return err
		}
	}
	return nil
}
