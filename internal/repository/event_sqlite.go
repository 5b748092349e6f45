package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/pkg/uid"
)

// SQLiteEventRepository stores append-only inference audit events.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a SQLite-backed event repository.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

var _ EventRepository = (*SQLiteEventRepository)(nil)

// Append records one inference event.
func (r *SQLiteEventRepository) Append(ctx context.Context, ev *model.InferenceEvent) error {
	if ev.ID == "" {
		ev.ID = uid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	flags, err := json.Marshal(ev.SafetyFlags)
	if err != nil {
		return fmt.Errorf("failed to serialize safety flags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO inference_events
		(id, user_id, thread_id, provider, model, status, error_code, input_tokens, output_tokens, latency_ms, safety_flags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.ThreadID, ev.Provider, ev.Model, ev.Status,
		ev.ErrorCode, ev.InputTokens, ev.OutputTokens, ev.LatencyMS, string(flags), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append inference event: %w", err)
	}
	return nil
}

// AppendBatch records multiple events in one transaction. Used by the
// write-behind event buffer flush.
func (r *SQLiteEventRepository) AppendBatch(ctx context.Context, evs []*model.InferenceEvent) error {
	if len(evs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inference_events
		(id, user_id, thread_id, provider, model, status, error_code, input_tokens, output_tokens, latency_ms, safety_flags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		if ev.ID == "" {
			ev.ID = uid.New()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		flags, err := json.Marshal(ev.SafetyFlags)
		if err != nil {
			return fmt.Errorf("failed to serialize safety flags: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			ev.ID, ev.UserID, ev.ThreadID, ev.Provider, ev.Model, ev.Status,
			ev.ErrorCode, ev.InputTokens, ev.OutputTokens, ev.LatencyMS, string(flags), ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to batch insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByUser returns the most recent events for a user, newest first.
func (r *SQLiteEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.InferenceEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, thread_id, provider, model, status, error_code, input_tokens, output_tokens, latency_ms, safety_flags, created_at
		FROM inference_events WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []model.InferenceEvent
	for rows.Next() {
		var ev model.InferenceEvent
		var flags string
		err := rows.Scan(&ev.ID, &ev.UserID, &ev.ThreadID, &ev.Provider, &ev.Model,
			&ev.Status, &ev.ErrorCode, &ev.InputTokens, &ev.OutputTokens, &ev.LatencyMS, &flags, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &ev.SafetyFlags); err != nil {
			return nil, fmt.Errorf("failed to parse safety flags: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
