package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/repository"
	"stylemate-rest-api/pkg/apierror"
)

// Admission is a granted admission: one unit reserved against the monthly
// and burst ledgers plus one in-flight slot. Exactly one of Commit or
// Rollback must be called, and ReleaseInflight must run on every exit path.
type Admission struct {
	UserID   string
	Metric   string
	Snapshot *model.PlanSnapshot
	Monthly  model.Period
	Burst    model.Period
	Units    int64

	quotas   repository.QuotaRepository
	inflight *InflightCounter
}

// Commit charges the reserved units on both ledgers.
func (a *Admission) Commit(ctx context.Context) error {
	if err := a.quotas.Commit(ctx, a.UserID, a.Metric, a.Monthly.Key, a.Units); err != nil {
		return fmt.Errorf("failed to commit monthly quota: %w", err)
	}
	if err := a.quotas.Commit(ctx, a.UserID, a.Metric, a.Burst.Key, a.Units); err != nil {
		return fmt.Errorf("failed to commit burst quota: %w", err)
	}
	return nil
}

// Rollback releases the reserved units on both ledgers without charging.
func (a *Admission) Rollback(ctx context.Context) {
	if err := a.quotas.Rollback(ctx, a.UserID, a.Metric, a.Monthly.Key, a.Units); err != nil {
		log.Printf("[Admission] Failed to roll back monthly reservation for %s: %v", a.UserID, err)
	}
	if err := a.quotas.Rollback(ctx, a.UserID, a.Metric, a.Burst.Key, a.Units); err != nil {
		log.Printf("[Admission] Failed to roll back burst reservation for %s: %v", a.UserID, err)
	}
}

// ReleaseInflight returns the in-flight slot.
func (a *Admission) ReleaseInflight() {
	a.inflight.Release(a.UserID)
}

// AdmissionController decides whether a stylist request may proceed. Checks
// run cheapest-first: plan, monthly quota, burst quota, in-flight cap. A
// denial at a later step refunds the reservations taken by earlier steps, so
// a denied request never consumes quota.
type AdmissionController struct {
	plans    *PlanService
	quotas   repository.QuotaRepository
	inflight *InflightCounter
}

// NewAdmissionController creates an admission controller.
func NewAdmissionController(plans *PlanService, quotas repository.QuotaRepository, inflight *InflightCounter) *AdmissionController {
	return &AdmissionController{
		plans:    plans,
		quotas:   quotas,
		inflight: inflight,
	}
}

// Admit runs the admission sequence for one unit of the given metric.
// On denial the returned error is an *apierror.Error naming the gate.
func (c *AdmissionController) Admit(ctx context.Context, userID, metric string, now time.Time) (*Admission, error) {
	snap, err := c.plans.GetSnapshot(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.PlanRequired("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan snapshot: %w", err)
	}
	if !c.plans.IsPaid(snap) {
		return nil, apierror.PlanRequired("")
	}

	const units = int64(1)
	monthly := snap.BillingPeriod()
	burst := model.BurstPeriod(now)

	allowed, _, err := c.quotas.Reserve(ctx, userID, metric, monthly, snap.MonthlyLimit(metric), units)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve monthly quota: %w", err)
	}
	if !allowed {
		return nil, apierror.UsageLimitExceeded("")
	}

	allowed, _, err = c.quotas.Reserve(ctx, userID, metric, burst, snap.BurstLimit(metric), units)
	if err != nil {
		c.rollback(ctx, userID, metric, monthly.Key, units)
		return nil, fmt.Errorf("failed to reserve burst quota: %w", err)
	}
	if !allowed {
		c.rollback(ctx, userID, metric, monthly.Key, units)
		return nil, apierror.BurstLimitExceeded("")
	}

	if !c.inflight.Acquire(userID) {
		c.rollback(ctx, userID, metric, monthly.Key, units)
		c.rollback(ctx, userID, metric, burst.Key, units)
		return nil, apierror.TooManyInflight("")
	}

	return &Admission{
		UserID:   userID,
		Metric:   metric,
		Snapshot: snap,
		Monthly:  monthly,
		Burst:    burst,
		Units:    units,
		quotas:   c.quotas,
		inflight: c.inflight,
	}, nil
}

func (c *AdmissionController) rollback(ctx context.Context, userID, metric, periodKey string, n int64) {
	if err := c.quotas.Rollback(ctx, userID, metric, periodKey, n); err != nil {
		log.Printf("[Admission] Failed to roll back reservation for %s/%s/%s: %v",
			userID, metric, periodKey, err)
	}
}
