package model

import "time"

// Metric keys for stylist usage accounting.
const (
	MetricStylistText   = "stylist.text"
	MetricStylistVision = "stylist.vision"
)

// QuotaCounter is one row of the quota ledger, keyed by
// (user_id, metric_key, period_key). Count is committed usage; Reserved is
// provisionally held for in-flight requests. Counters are created on first
// reservation and never deleted; rollover happens implicitly when a new
// period key starts a fresh counter.
type QuotaCounter struct {
	UserID      string    `json:"user_id"`
	MetricKey   string    `json:"metric_key"`
	PeriodKey   string    `json:"period_key"`
	Count       int64     `json:"count"`
	Reserved    int64     `json:"reserved"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Period is a caller-defined accounting window identified by a stable key.
type Period struct {
	Key   string
	Start time.Time
	End   time.Time
}

// BurstPeriod returns the rolling hour bucket containing now (UTC hour floor).
func BurstPeriod(now time.Time) Period {
	start := now.UTC().Truncate(time.Hour)
	return Period{
		Key:   start.Format("2006-01-02T15"),
		Start: start,
		End:   start.Add(time.Hour),
	}
}
