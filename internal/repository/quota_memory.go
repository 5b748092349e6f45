package repository

import (
	"context"
	"sync"

	"stylemate-rest-api/internal/model"
)

// MemoryQuotaRepository is an in-memory quota ledger for development and
// tests. A single mutex makes the check-and-increment indivisible.
type MemoryQuotaRepository struct {
	mu       sync.Mutex
	counters map[quotaKey]*model.QuotaCounter
}

type quotaKey struct {
	userID    string
	metricKey string
	periodKey string
}

// NewMemoryQuotaRepository creates an in-memory quota ledger.
func NewMemoryQuotaRepository() *MemoryQuotaRepository {
	return &MemoryQuotaRepository{counters: make(map[quotaKey]*model.QuotaCounter)}
}

var _ QuotaRepository = (*MemoryQuotaRepository)(nil)

// Reserve provisionally holds n units iff the limit allows it.
func (r *MemoryQuotaRepository) Reserve(_ context.Context, userID, metric string, period model.Period, limit *int64, n int64) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.getOrCreate(userID, metric, period)
	if limit != nil && c.Count+c.Reserved+n > *limit {
		return false, c.Count + c.Reserved, nil
	}

	c.Reserved += n
	return true, c.Count + c.Reserved, nil
}

// Commit charges n reserved units.
func (r *MemoryQuotaRepository) Commit(_ context.Context, userID, metric, periodKey string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[quotaKey{userID, metric, periodKey}]
	if !ok {
		return nil
	}
	c.Reserved -= n
	if c.Reserved < 0 {
		c.Reserved = 0
	}
	c.Count += n
	return nil
}

// Rollback releases n reserved units.
func (r *MemoryQuotaRepository) Rollback(_ context.Context, userID, metric, periodKey string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[quotaKey{userID, metric, periodKey}]
	if !ok {
		return nil
	}
	c.Reserved -= n
	if c.Reserved < 0 {
		c.Reserved = 0
	}
	return nil
}

// Usage returns the committed and reserved counts for a key.
func (r *MemoryQuotaRepository) Usage(_ context.Context, userID, metric, periodKey string) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[quotaKey{userID, metric, periodKey}]
	if !ok {
		return 0, 0, nil
	}
	return c.Count, c.Reserved, nil
}

func (r *MemoryQuotaRepository) getOrCreate(userID, metric string, period model.Period) *model.QuotaCounter {
	key := quotaKey{userID, metric, period.Key}
	c, ok := r.counters[key]
	if !ok {
		c = &model.QuotaCounter{
			UserID:      userID,
			MetricKey:   metric,
			PeriodKey:   period.Key,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
		}
		r.counters[key] = c
	}
	return c
}
