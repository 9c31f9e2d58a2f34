package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the tables the stores use when they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS provider_schedules (
		provider_id    TEXT PRIMARY KEY,
		windows        JSONB NOT NULL DEFAULT '[]',
		exceptions     JSONB NOT NULL DEFAULT '[]',
		buffer_minutes INT NOT NULL DEFAULT 0,
		max_concurrent INT NOT NULL DEFAULT 1,
		location       TEXT NOT NULL DEFAULT '',
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id               TEXT PRIMARY KEY,
		provider_id      TEXT NOT NULL,
		patient_id       TEXT NOT NULL,
		room_id          TEXT NOT NULL DEFAULT '',
		equipment_id     TEXT NOT NULL DEFAULT '',
		start_time       TIMESTAMPTZ NOT NULL,
		duration_minutes INT NOT NULL CHECK (duration_minutes > 0),
		status           TEXT NOT NULL,
		type             TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_start_idx ON appointments (start_time)`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id             BIGSERIAL PRIMARY KEY,
		event_type     TEXT NOT NULL,
		appointment_id TEXT,
		payload        JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS waitlist_entries (
		id                    UUID PRIMARY KEY,
		patient_id            TEXT NOT NULL,
		provider_id           TEXT NOT NULL DEFAULT '',
		preferred_provider_id TEXT NOT NULL DEFAULT '',
		appointment_type      TEXT NOT NULL DEFAULT '',
		reason                TEXT NOT NULL DEFAULT '',
		duration_minutes      INT NOT NULL,
		preferred_dates       TIMESTAMPTZ[] NOT NULL DEFAULT '{}',
		preferred_time_of_day TEXT NOT NULL DEFAULT 'any',
		same_day_only         BOOLEAN NOT NULL DEFAULT false,
		priority              TEXT NOT NULL,
		score                 DOUBLE PRECISION NOT NULL,
		wait_hours            DOUBLE PRECISION NOT NULL DEFAULT 0,
		attempts              INT NOT NULL DEFAULT 0,
		status                TEXT NOT NULL,
		added_at              TIMESTAMPTZ NOT NULL,
		notified_at           TIMESTAMPTZ,
		updated_at            TIMESTAMPTZ NOT NULL,
		version               BIGINT NOT NULL DEFAULT 1
	)`,
	`ALTER TABLE waitlist_entries ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1`,
	`CREATE INDEX IF NOT EXISTS waitlist_entries_status_idx ON waitlist_entries (status, added_at)`,
	`CREATE TABLE IF NOT EXISTS waitlist_matches (
		id           UUID PRIMARY KEY,
		entry_id     UUID NOT NULL REFERENCES waitlist_entries (id) ON DELETE CASCADE,
		patient_id   TEXT NOT NULL,
		provider_id  TEXT NOT NULL,
		slot_start   TIMESTAMPTZ NOT NULL,
		slot_minutes INT NOT NULL,
		room_id      TEXT NOT NULL DEFAULT '',
		score        DOUBLE PRECISION NOT NULL,
		reasons      TEXT[] NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL,
		expires_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS waitlist_matches_entry_idx ON waitlist_matches (entry_id)`,
}
