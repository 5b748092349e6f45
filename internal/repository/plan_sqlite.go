package repository

import (
	"context"
	"database/sql"
	"fmt"

	"stylemate-rest-api/internal/model"
)

// SQLitePlanRepository reads entitlement snapshots from the local SQLite
// database. Suitable for development and single-instance deployments.
type SQLitePlanRepository struct {
	db *sql.DB
}

// NewSQLitePlanRepository creates a SQLite-backed plan repository.
func NewSQLitePlanRepository(db *sql.DB) *SQLitePlanRepository {
	return &SQLitePlanRepository{db: db}
}

var _ PlanRepository = (*SQLitePlanRepository)(nil)

// GetSnapshot returns the entitlement snapshot for a user, or ErrNotFound.
func (r *SQLitePlanRepository) GetSnapshot(ctx context.Context, userID string) (*model.PlanSnapshot, error) {
	snap := model.PlanSnapshot{UserID: userID}
	var monthlyText, monthlyVision, burstText, burstVision sql.NullInt64

	err := r.db.QueryRowContext(ctx, `
		SELECT plan_code, period_start, period_end, monthly_text, monthly_vision, burst_text, burst_vision
		FROM plan_subscriptions WHERE user_id = ?`,
		userID).Scan(&snap.PlanCode, &snap.PeriodStart, &snap.PeriodEnd,
		&monthlyText, &monthlyVision, &burstText, &burstVision)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan snapshot: %w", err)
	}

	snap.Limits = model.PlanLimits{
		MonthlyText:   nullableInt64(monthlyText),
		MonthlyVision: nullableInt64(monthlyVision),
		BurstText:     nullableInt64(burstText),
		BurstVision:   nullableInt64(burstVision),
	}
	return &snap, nil
}

// UpsertSnapshot writes a subscription row. Only used for development
// seeding and tests; production plan data is synced by the billing system.
func (r *SQLitePlanRepository) UpsertSnapshot(ctx context.Context, snap *model.PlanSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO plan_subscriptions
		(user_id, plan_code, period_start, period_end, monthly_text, monthly_vision, burst_text, burst_vision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			plan_code = excluded.plan_code,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			monthly_text = excluded.monthly_text,
			monthly_vision = excluded.monthly_vision,
			burst_text = excluded.burst_text,
			burst_vision = excluded.burst_vision`,
		snap.UserID, snap.PlanCode, snap.PeriodStart, snap.PeriodEnd,
		snap.Limits.MonthlyText, snap.Limits.MonthlyVision,
		snap.Limits.BurstText, snap.Limits.BurstVision)
	if err != nil {
		return fmt.Errorf("failed to upsert plan snapshot: %w", err)
	}
	return nil
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
