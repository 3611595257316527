package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// Database is the durable store of final session reports.
type Database struct {
	DB     *sql.DB
	logger *zap.Logger
}

// New opens the connection pool and checks it is reachable.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{DB: db, logger: logger}, nil
}

// Init creates the required tables if they don't exist
func (d *Database) Init(ctx context.Context) error {
	createTables := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source_locator TEXT NOT NULL,
		detector_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
		frame_count BIGINT NOT NULL,
		fps DOUBLE PRECISION NOT NULL,
		failure_reason TEXT,
		recordings_dir TEXT NOT NULL,
		report JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zone_reports (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		zone_index INT NOT NULL,
		cumulative_idle DOUBLE PRECISION NOT NULL,
		cumulative_active DOUBLE PRECISION NOT NULL,
		efficiency_percent DOUBLE PRECISION NOT NULL,
		entry_count INT NOT NULL,
		idle_transitions INT NOT NULL,
		downtime_count INT NOT NULL,
		PRIMARY KEY (session_id, zone_index)
	);

	CREATE TABLE IF NOT EXISTS idle_periods (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		zone_index INT NOT NULL,
		seq INT NOT NULL,
		start_time DOUBLE PRECISION NOT NULL,
		end_time DOUBLE PRECISION,
		duration_seconds DOUBLE PRECISION NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		evidence_path TEXT,
		PRIMARY KEY (session_id, zone_index, seq)
	);

	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	);
	`

	_, err := d.DB.ExecContext(ctx, createTables)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}
