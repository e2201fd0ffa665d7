package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"binportal/internal/config"
	"binportal/internal/models"

	"github.com/jmoiron/sqlx"
)

// Postgres represents the PostgreSQL database connection and operations
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres creates a new PostgreSQL database connection
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate runs database migrations
func (p *Postgres) Migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS lookup_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			request_id VARCHAR(255) NOT NULL UNIQUE,
			module VARCHAR(255) NOT NULL,
			address_data TEXT NOT NULL,
			status VARCHAR(50) NOT NULL,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			finished_at TIMESTAMP WITH TIME ZONE,
			duration INTEGER,
			bins_found INTEGER,
			bins JSONB,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lookup_logs_request_id ON lookup_logs(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lookup_logs_module ON lookup_logs(module)`,

		`CREATE TABLE IF NOT EXISTS schedule_snapshots (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			module VARCHAR(255) NOT NULL,
			cache_key VARCHAR(255) NOT NULL,
			bins JSONB NOT NULL,
			scraped_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (module, cache_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedule_snapshots_module_key ON schedule_snapshots(module, cache_key)`,
	}

	for _, query := range queries {
		if _, err := p.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// CreateLookupLog records the start of a lookup request
func (p *Postgres) CreateLookupLog(ctx context.Context, log *models.LookupLog) error {
	query := `
		INSERT INTO lookup_logs (
			request_id, module, address_data, status, started_at
		) VALUES (
			$1, $2, $3, $4, $5
		) RETURNING id`

	err := p.db.QueryRowContext(ctx, query,
		log.RequestID, log.Module, log.AddressData, log.Status, log.StartedAt,
	).Scan(&log.ID)

	if err != nil {
		return fmt.Errorf("failed to create lookup log: %w", err)
	}

	return nil
}

// UpdateLookupLogStatus updates the status of a lookup log
func (p *Postgres) UpdateLookupLogStatus(ctx context.Context, requestID string, status models.LookupStatus) error {
	query := `
		UPDATE lookup_logs
		SET status = $1
		WHERE request_id = $2`

	result, err := p.db.ExecContext(ctx, query, status, requestID)
	if err != nil {
		return fmt.Errorf("failed to update lookup log status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UpdateLookupLog writes the outcome of a lookup
func (p *Postgres) UpdateLookupLog(ctx context.Context, log *models.LookupLog) error {
	query := `
		UPDATE lookup_logs
		SET status = $1,
			finished_at = $2,
			duration = $3,
			bins_found = $4,
			bins = $5,
			error_message = $6
		WHERE request_id = $7`

	var binsJSON []byte
	if log.Bins != nil {
		var err error
		binsJSON, err = models.MarshalBins(log.Bins)
		if err != nil {
			return err
		}
	}

	result, err := p.db.ExecContext(ctx, query,
		log.Status,
		log.FinishedAt,
		log.Duration,
		log.BinsFound,
		binsJSON,
		log.ErrorMessage,
		log.RequestID,
	)

	if err != nil {
		return fmt.Errorf("failed to update lookup log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetLookupLogByRequestID retrieves a lookup log by its request ID
func (p *Postgres) GetLookupLogByRequestID(ctx context.Context, requestID string) (*models.LookupLog, error) {
	var log models.LookupLog
	var binsJSON []byte

	query := `
		SELECT id, request_id, module, address_data, status, started_at,
			   finished_at, duration, bins_found, bins, error_message
		FROM lookup_logs
		WHERE request_id = $1`

	err := p.db.QueryRowContext(ctx, query, requestID).Scan(
		&log.ID, &log.RequestID, &log.Module, &log.AddressData, &log.Status, &log.StartedAt,
		&log.FinishedAt, &log.Duration, &log.BinsFound, &binsJSON, &log.ErrorMessage,
	)

	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lookup log: %w", err)
	}

	if binsJSON != nil {
		if err := json.Unmarshal(binsJSON, &log.Bins); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bins: %w", err)
		}
	}

	return &log, nil
}

// ListLookupLogs retrieves lookup logs for a council with pagination
func (p *Postgres) ListLookupLogs(ctx context.Context, module string, limit, offset int) ([]*models.LookupLog, error) {
	query := `
		SELECT id, request_id, module, address_data, status, started_at,
			   finished_at, duration, bins_found, bins, error_message
		FROM lookup_logs
		WHERE ($1 = '' OR module = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := p.db.QueryContext(ctx, query, module, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list lookup logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.LookupLog
	for rows.Next() {
		var log models.LookupLog
		var binsJSON []byte

		err := rows.Scan(
			&log.ID, &log.RequestID, &log.Module, &log.AddressData, &log.Status, &log.StartedAt,
			&log.FinishedAt, &log.Duration, &log.BinsFound, &binsJSON, &log.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lookup log: %w", err)
		}

		if binsJSON != nil {
			if err := json.Unmarshal(binsJSON, &log.Bins); err != nil {
				return nil, fmt.Errorf("failed to unmarshal bins: %w", err)
			}
		}

		logs = append(logs, &log)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lookup logs: %w", err)
	}

	return logs, nil
}

// CountLookups returns the total number of recorded lookups
func (p *Postgres) CountLookups(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM lookup_logs`

	err := p.db.QueryRowContext(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count lookups: %w", err)
	}

	return count, nil
}

// SaveScheduleSnapshot upserts the last known schedule for a council + address
func (p *Postgres) SaveScheduleSnapshot(ctx context.Context, snap *models.ScheduleSnapshot) error {
	query := `
		INSERT INTO schedule_snapshots (module, cache_key, bins, scraped_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (module, cache_key)
		DO UPDATE SET bins = EXCLUDED.bins, scraped_at = EXCLUDED.scraped_at
		RETURNING id`

	binsJSON, err := models.MarshalBins(snap.Bins)
	if err != nil {
		return err
	}

	if snap.ScrapedAt.IsZero() {
		snap.ScrapedAt = time.Now().UTC()
	}

	err = p.db.QueryRowContext(ctx, query,
		snap.Module, snap.CacheKey, binsJSON, snap.ScrapedAt,
	).Scan(&snap.ID)

	if err != nil {
		return fmt.Errorf("failed to save schedule snapshot: %w", err)
	}

	return nil
}

// GetScheduleSnapshot retrieves the last known schedule for a council + address
func (p *Postgres) GetScheduleSnapshot(ctx context.Context, module, cacheKey string) (*models.ScheduleSnapshot, error) {
	var snap models.ScheduleSnapshot
	var binsJSON []byte

	query := `
		SELECT id, module, cache_key, bins, scraped_at
		FROM schedule_snapshots
		WHERE module = $1 AND cache_key = $2`

	err := p.db.QueryRowContext(ctx, query, module, cacheKey).Scan(
		&snap.ID, &snap.Module, &snap.CacheKey, &binsJSON, &snap.ScrapedAt,
	)

	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule snapshot: %w", err)
	}

	if err := json.Unmarshal(binsJSON, &snap.Bins); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bins: %w", err)
	}

	return &snap, nil
}

// Ping checks the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
