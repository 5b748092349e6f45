package model

import "time"

// PlanLimits holds per-metric caps for a plan. A nil limit means unlimited.
type PlanLimits struct {
	MonthlyText   *int64 `json:"monthly_text"`
	MonthlyVision *int64 `json:"monthly_vision"`
	BurstText     *int64 `json:"burst_text"`
	BurstVision   *int64 `json:"burst_vision"`
}

// PlanSnapshot is the entitlement view of a user at admission time. This
// service only reads it; plan management lives elsewhere.
type PlanSnapshot struct {
	UserID      string     `json:"user_id"`
	PlanCode    string     `json:"plan_code"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	Limits      PlanLimits `json:"limits"`
}

// BillingPeriod returns the user's current billing period as a ledger period.
// The period key is the billing period start date, so a rollover implicitly
// starts a fresh counter.
func (p *PlanSnapshot) BillingPeriod() Period {
	return Period{
		Key:   p.PeriodStart.UTC().Format("2006-01-02"),
		Start: p.PeriodStart,
		End:   p.PeriodEnd,
	}
}

// MonthlyLimit returns the monthly cap for a metric, nil for unlimited.
func (p *PlanSnapshot) MonthlyLimit(metric string) *int64 {
	if metric == MetricStylistVision {
		return p.Limits.MonthlyVision
	}
	return p.Limits.MonthlyText
}

// BurstLimit returns the hourly cap for a metric, nil for unlimited.
func (p *PlanSnapshot) BurstLimit(metric string) *int64 {
	if metric == MetricStylistVision {
		return p.Limits.BurstVision
	}
	return p.Limits.BurstText
}
