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

// EnsureSchema creates the scheduling tables when they do not exist yet.
// Column shapes match internal/scheduling/pg_repository.go.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS professionals (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		discipline text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS patients (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		email      text,
		phone      text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id               uuid PRIMARY KEY,
		professional_id  uuid NOT NULL,
		patient_id       uuid NOT NULL,
		kind             text NOT NULL,
		date             date NOT NULL,
		start_minute     int NOT NULL,
		duration_minutes int NOT NULL,
		status           text NOT NULL,
		location_kind    text NOT NULL DEFAULT 'clinic',
		location_details text NOT NULL DEFAULT '',
		billing          jsonb NOT NULL DEFAULT '{}',
		clinical         jsonb NOT NULL DEFAULT '{}',
		series_id        uuid,
		series_pattern   jsonb,
		reminders        jsonb NOT NULL DEFAULT '{}',
		notes            text NOT NULL DEFAULT '',
		cancel_reason    text NOT NULL DEFAULT '',
		created_at       timestamptz NOT NULL,
		updated_at       timestamptz NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_appointments_professional_date ON appointments (professional_id, date);
	CREATE INDEX IF NOT EXISTS idx_appointments_patient_date ON appointments (patient_id, date);
	CREATE INDEX IF NOT EXISTS idx_appointments_series ON appointments (series_id) WHERE series_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS professional_schedules (
		professional_id   uuid NOT NULL,
		date              date NOT NULL,
		slots             jsonb NOT NULL,
		appointment_count int NOT NULL DEFAULT 0,
		billable_hours    double precision NOT NULL DEFAULT 0,
		projected_revenue double precision NOT NULL DEFAULT 0,
		PRIMARY KEY (professional_id, date)
	);
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
