package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stylemate-rest-api/internal/cache"
	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/repository"
)

const planCacheKeyPrefix = "stylemate:plan:"

// PlanService reads entitlement snapshots with a short TTL cache in front of
// the plan database. Admission happens on every chat request, so the
// snapshot read must not hit the database every time.
type PlanService struct {
	repo      repository.PlanRepository
	cache     cache.Cache
	ttl       time.Duration
	paidPlans map[string]bool
}

// NewPlanService creates a plan service. paidPlans lists the plan codes that
// include the stylist feature.
func NewPlanService(repo repository.PlanRepository, c cache.Cache, ttl time.Duration, paidPlans []string) *PlanService {
	paid := make(map[string]bool, len(paidPlans))
	for _, code := range paidPlans {
		paid[code] = true
	}
	return &PlanService{
		repo:      repo,
		cache:     c,
		ttl:       ttl,
		paidPlans: paid,
	}
}

// GetSnapshot returns the user's entitlement snapshot, served from cache when
// fresh. Returns repository.ErrNotFound when the user has no subscription.
func (s *PlanService) GetSnapshot(ctx context.Context, userID string) (*model.PlanSnapshot, error) {
	key := planCacheKeyPrefix + userID

	data, err := s.cache.GetOrSet(ctx, key, s.ttl, func() ([]byte, error) {
		snap, err := s.repo.GetSnapshot(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	})
	if err != nil {
		return nil, err
	}

	var snap model.PlanSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode cached plan snapshot: %w", err)
	}
	return &snap, nil
}

// IsPaid reports whether the snapshot's plan includes the stylist feature.
func (s *PlanService) IsPaid(snap *model.PlanSnapshot) bool {
	return s.paidPlans[snap.PlanCode]
}

// Invalidate drops the cached snapshot for a user.
func (s *PlanService) Invalidate(ctx context.Context, userID string) error {
	return s.cache.Delete(ctx, planCacheKeyPrefix+userID)
}
