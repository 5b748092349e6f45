package service

import (
	"context"
	"log"
	"time"

	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/repository"
	"stylemate-rest-api/pkg/uid"
)

// EventSink accepts inference audit events. Implementations may persist
// synchronously or buffer for write-behind; either way a sink failure must
// never fail the request that produced the event.
type EventSink interface {
	Record(ctx context.Context, ev *model.InferenceEvent) error
}

// RepoEventSink writes events straight to the event repository.
type RepoEventSink struct {
	repo repository.EventRepository
}

// NewRepoEventSink creates a sink backed directly by the repository.
func NewRepoEventSink(repo repository.EventRepository) *RepoEventSink {
	return &RepoEventSink{repo: repo}
}

// Record appends one event.
func (s *RepoEventSink) Record(ctx context.Context, ev *model.InferenceEvent) error {
	return s.repo.Append(ctx, ev)
}

// recordEvent fills in the event id and timestamp and hands the event to the
// sink. Failures are logged and swallowed; the audit trail is best-effort
// relative to the request itself.
func recordEvent(ctx context.Context, sink EventSink, ev *model.InferenceEvent) {
	if ev.ID == "" {
		ev.ID = uid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, ev); err != nil {
		log.Printf("[StylistService] Failed to record inference event %s: %v", ev.ID, err)
	}
}
