package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylemate-rest-api/internal/cache"
	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/repository"
	"stylemate-rest-api/pkg/apierror"
)

// fakePlanRepo serves canned plan snapshots.
type fakePlanRepo struct {
	snapshots map[string]*model.PlanSnapshot
}

func (f *fakePlanRepo) GetSnapshot(_ context.Context, userID string) (*model.PlanSnapshot, error) {
	snap, ok := f.snapshots[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return snap, nil
}

func plusSnapshot(userID string, monthly, burst int64) *model.PlanSnapshot {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &model.PlanSnapshot{
		UserID:      userID,
		PlanCode:    "plus",
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
		Limits: model.PlanLimits{
			MonthlyText:   &monthly,
			MonthlyVision: &monthly,
			BurstText:     &burst,
			BurstVision:   &burst,
		},
	}
}

func newTestAdmission(t *testing.T, plans *fakePlanRepo, maxInflight int) (*AdmissionController, repository.QuotaRepository, *InflightCounter) {
	t.Helper()
	planCache := cache.NewMemoryCache()
	t.Cleanup(func() { planCache.Close() })

	planService := NewPlanService(plans, planCache, time.Minute, []string{"plus", "pro"})
	quotas := repository.NewMemoryQuotaRepository()
	inflight := NewInflightCounter(maxInflight)
	return NewAdmissionController(planService, quotas, inflight), quotas, inflight
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr), "expected apierror, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

func TestAdmitRequiresSubscription(t *testing.T) {
	ctrl, _, _ := newTestAdmission(t, &fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{}}, 2)

	_, err := ctrl.Admit(context.Background(), "nobody", model.MetricStylistText, time.Now())
	assertCode(t, err, "PLAN_REQUIRED")
}

func TestAdmitRequiresPaidPlan(t *testing.T) {
	snap := plusSnapshot("u1", 10, 5)
	snap.PlanCode = "free"
	ctrl, _, _ := newTestAdmission(t, &fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{"u1": snap}}, 2)

	_, err := ctrl.Admit(context.Background(), "u1", model.MetricStylistText, time.Now())
	assertCode(t, err, "PLAN_REQUIRED")
}

func TestAdmitMonthlyLimitExhausted(t *testing.T) {
	snap := plusSnapshot("u1", 0, 5)
	ctrl, quotas, _ := newTestAdmission(t, &fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{"u1": snap}}, 2)

	_, err := ctrl.Admit(context.Background(), "u1", model.MetricStylistText, time.Now())
	assertCode(t, err, "USAGE_LIMIT_EXCEEDED")

	count, reserved, err := quotas.Usage(context.Background(), "u1", model.MetricStylistText, snap.BillingPeriod().Key)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, reserved)
}

func TestAdmitBurstDenialRefundsMonthlyReservation(t *testing.T) {
	snap := plusSnapshot("u1", 10, 0)
	ctrl, quotas, _ := newTestAdmission(t, &fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{"u1": snap}}, 2)

	_, err := ctrl.Admit(context.Background(), "u1", model.MetricStylistText, time.Now())
	assertCode(t, err, "BURST_LIMIT_EXCEEDED")

	_, reserved, err := quotas.Usage(context.Background(), "u1", model.MetricStylistText, snap.BillingPeriod().Key)
	require.NoError(t, err)
	assert.Zero(t, reserved, "monthly reservation must be refunded on burst denial")
}

func TestAdmitInflightDenialRefundsBothReservations(t *testing.T) {
	snap := plusSnapshot("u1", 10, 10)
	ctrl, quotas, inflight := newTestAdmission(t, &fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{"u1": snap}}, 1)

	now := time.Now()
	require.True(t, inflight.Acquire("u1"))

	_, err := ctrl.Admit(context.Background(), "u1", model.MetricStylistText, now)
	assertCode(t, err, "UPSTREAM_RATE_LIMIT")

	_, reserved, err := quotas.Usage(context.Background(), "u1", model.MetricStylistText, snap.BillingPeriod().Key)
	require.NoError(t, err)
	assert.Zero(t, reserved)

	_, reserved, err = quotas.Usage(context.Background(), "u1", model.MetricStylistText, model.BurstPeriod(now).Key)
	require.NoError(t, err)
	assert.Zero(t, reserved)
}

func TestAdmitGrantsAndCommitCharges(t *testing.T) {
	snap := plusSnapshot("u1", 10, 10)
	ctrl, quotas, inflight := newTestAdmission(t, &fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{"u1": snap}}, 2)

	now := time.Now()
	adm, err := ctrl.Admit(context.Background(), "u1", model.MetricStylistText, now)
	require.NoError(t, err)
	assert.Equal(t, 1, inflight.Count("u1"))

	count, reserved, err := quotas.Usage(context.Background(), "u1", model.MetricStylistText, adm.Monthly.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(1), reserved)

	require.NoError(t, adm.Commit(context.Background()))
	adm.ReleaseInflight()

	count, reserved, err = quotas.Usage(context.Background(), "u1", model.MetricStylistText, adm.Monthly.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(0), reserved)

	count, reserved, err = quotas.Usage(context.Background(), "u1", model.MetricStylistText, adm.Burst.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(0), reserved)
	assert.Equal(t, 0, inflight.Count("u1"))
}
