package repository

import (
	"context"
	"errors"
	"time"

	"stylemate-rest-api/internal/model"
)

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("repository: not found")

// QuotaRepository is the quota ledger: race-safe counters keyed by
// (user_id, metric_key, period_key). Reserve must be linearizable per key:
// either the check-and-increment happens as one storage-level operation, or
// the backend retries conflicting writes itself. A plain read-then-write is
// a correctness bug.
type QuotaRepository interface {
	// Reserve provisionally holds n units iff count+reserved+n <= limit.
	// A nil limit means unlimited (always allowed, still held).
	// Returns whether the reservation was allowed and the total usage
	// (committed + reserved) after the call.
	Reserve(ctx context.Context, userID, metric string, period model.Period, limit *int64, n int64) (bool, int64, error)

	// Commit charges n previously reserved units (reserved -> count).
	Commit(ctx context.Context, userID, metric, periodKey string, n int64) error

	// Rollback releases n reserved units without charging them.
	Rollback(ctx context.Context, userID, metric, periodKey string, n int64) error

	// Usage returns the committed and reserved counts for a key.
	Usage(ctx context.Context, userID, metric, periodKey string) (count, reserved int64, err error)
}

// ThreadRepository stores conversation threads and their messages.
type ThreadRepository interface {
	CreateThread(ctx context.Context, userID string) (*model.ChatThread, error)

	// GetThread returns the thread only if it belongs to userID;
	// a foreign thread is indistinguishable from a missing one.
	GetThread(ctx context.Context, userID, threadID string) (*model.ChatThread, error)

	AppendMessage(ctx context.Context, msg *model.ChatMessage) error

	// ListMessages returns up to limit most recent messages, oldest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]model.ChatMessage, error)

	// LatestAssistant returns the most recent assistant message, or ErrNotFound.
	LatestAssistant(ctx context.Context, threadID string) (*model.ChatMessage, error)

	// LatestPending returns the most recent pending assistant message, or ErrNotFound.
	LatestPending(ctx context.Context, threadID string) (*model.ChatMessage, error)

	// ResolvePending rewrites a pending assistant message in place and clears
	// its pending flag, but only if the flag is still set. Returns true when
	// this call performed the transition. This is the exactly-once guard
	// for the deferred quota charge.
	ResolvePending(ctx context.Context, messageID, content string, meta model.MessageMetadata) (bool, error)
}

// EventRepository stores append-only inference audit events.
type EventRepository interface {
	Append(ctx context.Context, ev *model.InferenceEvent) error
	AppendBatch(ctx context.Context, evs []*model.InferenceEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.InferenceEvent, error)
}

// WardrobeRepository gives bounded, user-scoped read access to the wardrobe
// domain plus the thin sync writes that feed it. Every read takes a userID so
// cross-user leakage is structurally impossible.
type WardrobeRepository interface {
	UpsertItem(ctx context.Context, item *model.WardrobeItem) error
	GetItem(ctx context.Context, userID, itemID string) (*model.WardrobeItem, error)
	ListItems(ctx context.Context, userID string, limit int) ([]model.WardrobeItem, error)

	UpsertOutfit(ctx context.Context, outfit *model.Outfit) error
	RecentOutfits(ctx context.Context, userID string, limit int) ([]model.Outfit, error)

	UpsertCalendarEntry(ctx context.Context, entry *model.CalendarEntry) error
	CalendarWindow(ctx context.Context, userID string, from, to time.Time) ([]model.CalendarEntry, error)

	UpsertTrip(ctx context.Context, trip *model.Trip) error
	UpcomingTrips(ctx context.Context, userID string, after time.Time, limit int) ([]model.Trip, error)
}

// PlanRepository supplies entitlement snapshots. This service only reads
// plan data; subscriptions are managed by the billing system.
type PlanRepository interface {
	GetSnapshot(ctx context.Context, userID string) (*model.PlanSnapshot, error)
}
