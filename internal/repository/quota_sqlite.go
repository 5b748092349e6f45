package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"stylemate-rest-api/internal/model"
)

// SQLiteQuotaRepository implements the quota ledger on SQLite. The
// reserve-if-under-limit check runs as a single conditional UPDATE, so
// concurrent callers for the same key can never jointly exceed the limit.
type SQLiteQuotaRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteQuotaRepository creates a SQLite-backed quota ledger.
func NewSQLiteQuotaRepository(db *sql.DB) *SQLiteQuotaRepository {
	return &SQLiteQuotaRepository{db: db}
}

var _ QuotaRepository = (*SQLiteQuotaRepository)(nil)

// Reserve provisionally holds n units for (userID, metric, period.Key).
func (r *SQLiteQuotaRepository) Reserve(ctx context.Context, userID, metric string, period model.Period, limit *int64, n int64) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Ensure the counter row exists for this period. ON CONFLICT DO NOTHING
	// keeps this safe under concurrent first reservations.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quota_counters (user_id, metric_key, period_key, count, reserved, period_start, period_end)
		VALUES (?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(user_id, metric_key, period_key) DO NOTHING`,
		userID, metric, period.Key, period.Start.UTC(), period.End.UTC())
	if err != nil {
		return false, 0, fmt.Errorf("failed to ensure quota counter: %w", err)
	}

	var res sql.Result
	if limit == nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE quota_counters SET reserved = reserved + ?
			WHERE user_id = ? AND metric_key = ? AND period_key = ?`,
			n, userID, metric, period.Key)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE quota_counters SET reserved = reserved + ?
			WHERE user_id = ? AND metric_key = ? AND period_key = ?
			  AND count + reserved + ? <= ?`,
			n, userID, metric, period.Key, n, *limit)
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to reserve quota: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}

	count, reserved, err := r.usageLocked(ctx, userID, metric, period.Key)
	if err != nil {
		return false, 0, err
	}

	return affected == 1, count + reserved, nil
}

// Commit charges n reserved units.
func (r *SQLiteQuotaRepository) Commit(ctx context.Context, userID, metric, periodKey string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		UPDATE quota_counters
		SET reserved = MAX(reserved - ?, 0), count = count + ?
		WHERE user_id = ? AND metric_key = ? AND period_key = ?`,
		n, n, userID, metric, periodKey)
	if err != nil {
		return fmt.Errorf("failed to commit quota: %w", err)
	}
	return nil
}

// Rollback releases n reserved units without charging them.
func (r *SQLiteQuotaRepository) Rollback(ctx context.Context, userID, metric, periodKey string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		UPDATE quota_counters
		SET reserved = MAX(reserved - ?, 0)
		WHERE user_id = ? AND metric_key = ? AND period_key = ?`,
		n, userID, metric, periodKey)
	if err != nil {
		return fmt.Errorf("failed to rollback quota: %w", err)
	}
	return nil
}

// Usage returns the committed and reserved counts for a key.
func (r *SQLiteQuotaRepository) Usage(ctx context.Context, userID, metric, periodKey string) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usageLocked(ctx, userID, metric, periodKey)
}

func (r *SQLiteQuotaRepository) usageLocked(ctx context.Context, userID, metric, periodKey string) (int64, int64, error) {
	var count, reserved int64
	err := r.db.QueryRowContext(ctx, `
		SELECT count, reserved FROM quota_counters
		WHERE user_id = ? AND metric_key = ? AND period_key = ?`,
		userID, metric, periodKey).Scan(&count, &reserved)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return count, reserved, nil
}
