package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// SaveReport writes a final report together with an outbox message announcing
// it, in one transaction. Saving the same session again replaces its rows.
func (d *Database) SaveReport(ctx context.Context, report *models.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return d.InTx(ctx, func(ctx context.Context) error {
		if err := d.upsertSession(ctx, report, payload); err != nil {
			return fmt.Errorf("save session %s: %w", report.SessionID, err)
		}
		for _, z := range report.Zones {
			if err := d.insertZone(ctx, report.SessionID, z); err != nil {
				return fmt.Errorf("save zone %d: %w", z.ZoneIndex, err)
			}
		}
		if err := d.AddToOutbox(ctx, report.SessionID, payload); err != nil {
			return fmt.Errorf("add to outbox: %w", err)
		}
		return nil
	})
}

func (d *Database) upsertSession(ctx context.Context, r *models.Report, payload []byte) error {
	q := d.querier(ctx)
	var failure sql.NullString
	if r.FailureReason != nil {
		failure = sql.NullString{String: string(*r.FailureReason), Valid: true}
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO sessions (id, source_locator, detector_id, started_at, ended_at,
			duration_seconds, frame_count, fps, failure_reason, recordings_dir, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			frame_count = EXCLUDED.frame_count,
			fps = EXCLUDED.fps,
			failure_reason = EXCLUDED.failure_reason,
			report = EXCLUDED.report
	`, r.SessionID, r.SourceLocator, r.DetectorID, r.StartedAt, r.EndedAt,
		r.DurationSeconds, r.FrameCount, r.FPS, failure, r.RecordingsDir, payload); err != nil {
		return err
	}

	// пересохраняем зоны целиком
	_, err := q.ExecContext(ctx, `DELETE FROM zone_reports WHERE session_id = $1`, r.SessionID)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `DELETE FROM idle_periods WHERE session_id = $1`, r.SessionID)
	return err
}

func (d *Database) insertZone(ctx context.Context, sessionID string, z models.ZoneReport) error {
	q := d.querier(ctx)
	if _, err := q.ExecContext(ctx, `
		INSERT INTO zone_reports (session_id, zone_index, cumulative_idle, cumulative_active,
			efficiency_percent, entry_count, idle_transitions, downtime_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sessionID, z.ZoneIndex, z.CumulativeIdle, z.CumulativeActive,
		z.EfficiencyPercent, z.EntryCount, z.IdleTransitions, z.DowntimeCount); err != nil {
		return err
	}

	for i, p := range z.IdlePeriods {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO idle_periods (session_id, zone_index, seq, start_time, end_time,
				duration_seconds, started_at, ended_at, evidence_path)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, sessionID, z.ZoneIndex, i, p.Start, nullFloat(p.End),
			p.Duration, p.StartedAt, nullTime(p.EndedAt), nullString(p.EvidencePath)); err != nil {
			return err
		}
	}
	return nil
}

// GetReport loads a stored report; models.ErrSessionNotFound if there is none.
func (d *Database) GetReport(ctx context.Context, sessionID string) (*models.Report, error) {
	var payload []byte
	err := d.querier(ctx).QueryRowContext(ctx,
		`SELECT report FROM sessions WHERE id = $1`, sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	var report models.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

// AddToOutbox adds a message to the transactional outbox
func (d *Database) AddToOutbox(ctx context.Context, sessionID string, payload []byte) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"INSERT INTO outbox (id, session_id, payload, created_at) VALUES ($1, $2, $3, $4)",
		uuid.NewString(),
		sessionID,
		payload,
		time.Now().UTC(),
	)
	return err
}

// GetPendingOutboxMessages retrieves unprocessed outbox messages
func (d *Database) GetPendingOutboxMessages(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT id, session_id, payload, created_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkOutboxMessageAsProcessed marks an outbox message as processed
func (d *Database) MarkOutboxMessageAsProcessed(ctx context.Context, id string) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE outbox SET processed_at = $1 WHERE id = $2",
		time.Now().UTC(),
		id,
	)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
