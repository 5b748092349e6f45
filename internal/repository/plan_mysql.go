package repository

import (
	"context"
	"database/sql"
	"fmt"

	"stylemate-rest-api/internal/model"
)

// MySQLPlanRepository reads entitlement snapshots from the shared accounts
// database. The subscriptions table is owned by the billing system; this
// repository never writes to it.
type MySQLPlanRepository struct {
	db *sql.DB
}

// NewMySQLPlanRepository creates a MySQL-backed plan repository.
func NewMySQLPlanRepository(db *sql.DB) *MySQLPlanRepository {
	return &MySQLPlanRepository{db: db}
}

var _ PlanRepository = (*MySQLPlanRepository)(nil)

// GetSnapshot returns the entitlement snapshot for a user, or ErrNotFound.
func (r *MySQLPlanRepository) GetSnapshot(ctx context.Context, userID string) (*model.PlanSnapshot, error) {
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
