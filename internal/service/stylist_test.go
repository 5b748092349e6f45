package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylemate-rest-api/internal/cache"
	"stylemate-rest-api/internal/inference"
	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/moderation"
	"stylemate-rest-api/internal/repository"
)

// fakeModerator blocks on demand and counts calls.
type fakeModerator struct {
	blockInput  bool
	blockOutput bool
	outputErr   error
	flags       []string
	inputCalls  int
	outputCalls int
}

func (f *fakeModerator) CheckInput(context.Context, string, string) (moderation.Result, error) {
	f.inputCalls++
	if f.blockInput {
		return moderation.Result{Blocked: true, Flags: f.flags}, nil
	}
	return moderation.Result{}, nil
}

func (f *fakeModerator) CheckOutput(context.Context, string) (moderation.Result, error) {
	f.outputCalls++
	if f.outputErr != nil {
		return moderation.Result{}, f.outputErr
	}
	if f.blockOutput {
		return moderation.Result{Blocked: true, Flags: f.flags}, nil
	}
	return moderation.Result{}, nil
}

// fakeInference returns canned responses and counts calls.
type fakeInference struct {
	completeResp  inference.Response
	completeErr   error
	completeCalls int

	submitID    string
	submitErr   error
	submitCalls int

	prediction    inference.PredictionStatus
	predictionErr error
	getCalls      int
}

func (f *fakeInference) Complete(context.Context, inference.Request) (inference.Response, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return inference.Response{}, f.completeErr
	}
	return f.completeResp, nil
}

func (f *fakeInference) SubmitPrediction(context.Context, inference.Request) (string, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeInference) GetPrediction(context.Context, string) (inference.PredictionStatus, error) {
	f.getCalls++
	if f.predictionErr != nil {
		return inference.PredictionStatus{}, f.predictionErr
	}
	return f.prediction, nil
}

func (f *fakeInference) Provider() string    { return "test" }
func (f *fakeInference) Model() string       { return "text-model" }
func (f *fakeInference) VisionModel() string { return "vision-model" }

type stylistFixture struct {
	service   *StylistService
	threads   repository.ThreadRepository
	quotas    repository.QuotaRepository
	events    *repository.SQLiteEventRepository
	inflight  *InflightCounter
	moderator *fakeModerator
	client    *fakeInference
	snapshot  *model.PlanSnapshot
}

func newStylistFixture(t *testing.T, snap *model.PlanSnapshot, pendingMaxAge time.Duration) *stylistFixture {
	t.Helper()

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	threads := repository.NewSQLiteThreadRepository(db)
	events := repository.NewSQLiteEventRepository(db)
	quotas := repository.NewMemoryQuotaRepository()

	planCache := cache.NewMemoryCache()
	t.Cleanup(func() { planCache.Close() })
	plans := NewPlanService(&fakePlanRepo{snapshots: map[string]*model.PlanSnapshot{snap.UserID: snap}},
		planCache, time.Minute, []string{"plus", "pro"})

	inflight := NewInflightCounter(2)
	admission := NewAdmissionController(plans, quotas, inflight)
	assembler := NewContextAssembler(&fakeWardrobe{items: manyItems(snap.UserID, 5)}, 50)

	moderator := &fakeModerator{}
	client := &fakeInference{
		completeResp: inference.Response{
			Text:         "wear the blue jacket",
			Model:        "text-model",
			InputTokens:  40,
			OutputTokens: 12,
		},
		submitID: "pred-1",
	}

	svc := NewStylistService(threads, quotas, admission, assembler, moderator,
		client, NewRepoEventSink(events), 10, pendingMaxAge)

	return &stylistFixture{
		service:   svc,
		threads:   threads,
		quotas:    quotas,
		events:    events,
		inflight:  inflight,
		moderator: moderator,
		client:    client,
		snapshot:  snap,
	}
}

func (f *stylistFixture) usage(t *testing.T, metric, periodKey string) (int64, int64) {
	t.Helper()
	count, reserved, err := f.quotas.Usage(context.Background(), f.snapshot.UserID, metric, periodKey)
	require.NoError(t, err)
	return count, reserved
}

func TestChatTextSuccess(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	ctx := context.Background()

	result, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "what should I wear tonight?"})
	require.NoError(t, err)
	assert.False(t, result.Pending)
	assert.False(t, result.Blocked)
	assert.Equal(t, "wear the blue jacket", result.Message.Content)
	assert.Equal(t, 1, f.client.completeCalls)

	// Charged exactly one unit on both ledgers, nothing left reserved.
	count, reserved := f.usage(t, model.MetricStylistText, f.snapshot.BillingPeriod().Key)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, reserved)

	assert.Equal(t, 0, f.inflight.Count("u1"))

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSucceeded, events[0].Status)
	assert.Equal(t, int64(40), events[0].InputTokens)

	msgs, err := f.threads.ListMessages(ctx, result.ThreadID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestChatInputBlockedMakesNoProviderCall(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	f.moderator.blockInput = true
	f.moderator.flags = []string{"harassment"}
	ctx := context.Background()

	result, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "something nasty"})
	require.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.Equal(t, moderation.SafeReply, result.Message.Content)

	assert.Zero(t, f.client.completeCalls)
	assert.Zero(t, f.client.submitCalls)

	// Nothing charged or held: the block happened before dispatch.
	count, reserved := f.usage(t, model.MetricStylistText, f.snapshot.BillingPeriod().Key)
	assert.Zero(t, count)
	assert.Zero(t, reserved)
	assert.Equal(t, 0, f.inflight.Count("u1"))

	// The user message is kept and the blocked event is recorded.
	msgs, err := f.threads.ListMessages(ctx, result.ThreadID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "something nasty", msgs[0].Content)
	assert.True(t, msgs[1].Metadata.Blocked)

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventBlocked, events[0].Status)
	assert.Equal(t, []string{"harassment"}, events[0].SafetyFlags)
}

func TestChatQuotaExhaustedMakesNoProviderCall(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 0, 10), time.Minute)
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "hello"})
	assertCode(t, err, "USAGE_LIMIT_EXCEEDED")

	assert.Zero(t, f.client.completeCalls)
	assert.Zero(t, f.moderator.inputCalls)
	assert.Equal(t, 0, f.inflight.Count("u1"))
}

func TestChatOutputBlockedStillCharges(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	f.moderator.blockOutput = true
	ctx := context.Background()

	result, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.True(t, result.Blocked)
	assert.Equal(t, moderation.SafeReply, result.Message.Content)

	// The inference ran, so the charge stands.
	count, reserved := f.usage(t, model.MetricStylistText, f.snapshot.BillingPeriod().Key)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, reserved)

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventBlocked, events[0].Status)
}

func TestChatOutputModerationFailureStillRecordsEvent(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	f.moderator.outputErr = fmt.Errorf("moderation: unexpected status 500")
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "hello"})
	assertCode(t, err, "INTERNAL_ERROR")

	// The charge landed before dispatch and the provider call happened, so
	// the unit stays spent and the attempt gets an audit row.
	count, reserved := f.usage(t, model.MetricStylistText, f.snapshot.BillingPeriod().Key)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, reserved)
	assert.Equal(t, 0, f.inflight.Count("u1"))

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Equal(t, "INTERNAL_ERROR", events[0].ErrorCode)
	assert.Equal(t, int64(40), events[0].InputTokens)
}

func TestChatUpstreamFailureAfterChargeIsNotRefunded(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	f.client.completeErr = fmt.Errorf("%w: slow down", inference.ErrRateLimited)
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "hello"})
	assertCode(t, err, "UPSTREAM_RATE_LIMIT")

	// Text requests charge before dispatch; the unit is spent.
	count, reserved := f.usage(t, model.MetricStylistText, f.snapshot.BillingPeriod().Key)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, reserved)
	assert.Equal(t, 0, f.inflight.Count("u1"))

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Equal(t, "UPSTREAM_RATE_LIMIT", events[0].ErrorCode)
}

func TestChatForeignThreadNotFound(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	ctx := context.Background()

	thread, err := f.threads.CreateThread(ctx, "someone-else")
	require.NoError(t, err)

	_, err = f.service.Chat(ctx, "u1", ChatRequest{ThreadID: thread.ID, Message: "hello"})
	assertCode(t, err, "THREAD_NOT_FOUND")
	assert.Zero(t, f.client.completeCalls)
}

func TestVisionLifecycleCommitsExactlyOnce(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	ctx := context.Background()
	monthlyKey := f.snapshot.BillingPeriod().Key

	result, err := f.service.Chat(ctx, "u1", ChatRequest{
		Message:  "does this work for a wedding?",
		ImageURL: "https://example.com/fit.jpg",
	})
	require.NoError(t, err)
	assert.True(t, result.Pending)
	assert.Equal(t, PendingReply, result.Message.Content, "the pending reply carries a visible placeholder")
	assert.Equal(t, 1, f.client.submitCalls)
	assert.Equal(t, 0, f.inflight.Count("u1"))

	// Reserved but not charged while the prediction runs.
	count, reserved := f.usage(t, model.MetricStylistVision, monthlyKey)
	assert.Zero(t, count)
	assert.Equal(t, int64(1), reserved)

	// Still processing: no state change, placeholder still shown.
	f.client.prediction = inference.PredictionStatus{Status: inference.PredictionPending}
	status, err := f.service.CheckStatus(ctx, "u1", result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.Status)
	assert.True(t, status.Pending)
	assert.Equal(t, result.ThreadID, status.ThreadID)
	assert.Equal(t, PendingReply, status.Message.Content)

	count, reserved = f.usage(t, model.MetricStylistVision, monthlyKey)
	assert.Zero(t, count)
	assert.Equal(t, int64(1), reserved)

	// Succeeded: this poll resolves and charges.
	f.client.prediction = inference.PredictionStatus{
		Status:       inference.PredictionSucceeded,
		Text:         "yes, with the tan loafers",
		Model:        "vision-model",
		InputTokens:  120,
		OutputTokens: 30,
	}
	status, err = f.service.CheckStatus(ctx, "u1", result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status.Status)
	assert.False(t, status.Pending)
	assert.Equal(t, result.ThreadID, status.ThreadID)
	assert.Equal(t, "yes, with the tan loafers", status.Message.Content)

	count, reserved = f.usage(t, model.MetricStylistVision, monthlyKey)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, reserved)

	// A second poll is idempotent: no double charge, no new event.
	status, err = f.service.CheckStatus(ctx, "u1", result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status.Status)

	count, reserved = f.usage(t, model.MetricStylistVision, monthlyKey)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, reserved)

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSucceeded, events[0].Status)
	assert.Equal(t, int64(120), events[0].InputTokens)
}

func TestVisionFailureRefundsReservation(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	ctx := context.Background()
	monthlyKey := f.snapshot.BillingPeriod().Key

	result, err := f.service.Chat(ctx, "u1", ChatRequest{
		Message:  "thoughts?",
		ImageURL: "https://example.com/fit.jpg",
	})
	require.NoError(t, err)

	f.client.prediction = inference.PredictionStatus{
		Status:       inference.PredictionFailed,
		ErrorMessage: "model exploded",
	}
	status, err := f.service.CheckStatus(ctx, "u1", result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, FailureReply, status.Message.Content)

	count, reserved := f.usage(t, model.MetricStylistVision, monthlyKey)
	assert.Zero(t, count, "a failed prediction must not charge")
	assert.Zero(t, reserved)

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Equal(t, "UPSTREAM_ERROR", events[0].ErrorCode)
}

func TestVisionStalePendingResolvesAsTimeout(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Nanosecond)
	ctx := context.Background()
	monthlyKey := f.snapshot.BillingPeriod().Key

	result, err := f.service.Chat(ctx, "u1", ChatRequest{
		Message:  "thoughts?",
		ImageURL: "https://example.com/fit.jpg",
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	status, err := f.service.CheckStatus(ctx, "u1", result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Zero(t, f.client.getCalls, "a stale prediction is not polled")

	count, reserved := f.usage(t, model.MetricStylistVision, monthlyKey)
	assert.Zero(t, count)
	assert.Zero(t, reserved)

	events, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "UPSTREAM_TIMEOUT", events[0].ErrorCode)
}

func TestVisionSubmitFailureRefundsReservation(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	f.client.submitErr = fmt.Errorf("%w", inference.ErrCircuitOpen)
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "u1", ChatRequest{
		Message:  "thoughts?",
		ImageURL: "https://example.com/fit.jpg",
	})
	assertCode(t, err, "UPSTREAM_UNAVAILABLE")

	count, reserved := f.usage(t, model.MetricStylistVision, f.snapshot.BillingPeriod().Key)
	assert.Zero(t, count)
	assert.Zero(t, reserved)
	assert.Equal(t, 0, f.inflight.Count("u1"))
}

func TestCheckStatusIdleThread(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	ctx := context.Background()

	thread, err := f.threads.CreateThread(ctx, "u1")
	require.NoError(t, err)

	status, err := f.service.CheckStatus(ctx, "u1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, status.Status)
	assert.False(t, status.Pending)
	assert.Equal(t, thread.ID, status.ThreadID)
	assert.Nil(t, status.Message)
}

func TestChatValidation(t *testing.T) {
	f := newStylistFixture(t, plusSnapshot("u1", 10, 10), time.Minute)
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "u1", ChatRequest{Message: "   "})
	assertCode(t, err, "VALIDATION_ERROR")

	_, err = f.service.Chat(ctx, "u1", ChatRequest{Message: "hi", ImageURL: "ftp://nope"})
	assertCode(t, err, "VALIDATION_ERROR")

	assert.Zero(t, f.client.completeCalls)
}
