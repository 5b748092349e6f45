package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"stylemate-rest-api/internal/inference"
	"stylemate-rest-api/internal/model"
	"stylemate-rest-api/internal/moderation"
	"stylemate-rest-api/internal/repository"
	"stylemate-rest-api/pkg/apierror"
)

const (
	maxMessageRunes = 4000

	// PendingReply is the placeholder persisted on a pending assistant
	// message while a vision prediction runs, so the UI has something to
	// show between polls.
	PendingReply = "Got it, I'm reviewing your photo now. Check back in a moment."

	// FailureReply is persisted in place of an assistant reply when a
	// vision prediction fails or times out.
	FailureReply = "Sorry, I couldn't finish analyzing that. Please try again."

	systemPromptHeader = "You are a personal stylist for a wardrobe-planning app. " +
		"Give concrete outfit advice using only the wardrobe described below. " +
		"Be concise and specific.\n\n"
)

// InferenceClient is the slice of the inference client the orchestrator uses.
type InferenceClient interface {
	Complete(ctx context.Context, req inference.Request) (inference.Response, error)
	SubmitPrediction(ctx context.Context, req inference.Request) (string, error)
	GetPrediction(ctx context.Context, predictionID string) (inference.PredictionStatus, error)
	Provider() string
	Model() string
	VisionModel() string
}

// ChatRequest is one stylist dispatch from a user.
type ChatRequest struct {
	ThreadID    string                 `json:"thread_id,omitempty"`
	Message     string                 `json:"message"`
	ImageURL    string                 `json:"image_url,omitempty"`
	FocusItemID string                 `json:"focus_item_id,omitempty"`
	Weather     *model.WeatherSnapshot `json:"weather,omitempty"`
}

// ChatResult is the outcome of a dispatch. Pending means a vision prediction
// was submitted and the reply must be polled; Blocked means the safety gate
// substituted a safe reply.
type ChatResult struct {
	ThreadID string             `json:"thread_id"`
	Message  *model.ChatMessage `json:"message"`
	Pending  bool               `json:"pending"`
	Blocked  bool               `json:"blocked"`
}

// Poll statuses returned by CheckStatus.
const (
	StatusIdle      = "idle"
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusBlocked   = "blocked"
	StatusFailed    = "failed"
)

// StatusResult is the outcome of a status poll. Pending is true only while
// a vision prediction is still running.
type StatusResult struct {
	ThreadID string             `json:"thread_id"`
	Status   string             `json:"status"`
	Pending  bool               `json:"pending"`
	Message  *model.ChatMessage `json:"message,omitempty"`
}

// StylistService orchestrates one stylist request end to end: admission,
// safety gate, context assembly, dispatch, and the deferred resolution of
// vision predictions. An InferenceEvent is recorded for every terminal
// outcome.
type StylistService struct {
	threads   repository.ThreadRepository
	quotas    repository.QuotaRepository
	admission *AdmissionController
	assembler *ContextAssembler
	moderator moderation.Moderator
	client    InferenceClient
	events    EventSink

	historyWindow int
	pendingMaxAge time.Duration
}

// NewStylistService wires the orchestrator.
func NewStylistService(
	threads repository.ThreadRepository,
	quotas repository.QuotaRepository,
	admission *AdmissionController,
	assembler *ContextAssembler,
	moderator moderation.Moderator,
	client InferenceClient,
	events EventSink,
	historyWindow int,
	pendingMaxAge time.Duration,
) *StylistService {
	if historyWindow < 1 {
		historyWindow = 10
	}
	if pendingMaxAge <= 0 {
		pendingMaxAge = 30 * time.Minute
	}
	return &StylistService{
		threads:       threads,
		quotas:        quotas,
		admission:     admission,
		assembler:     assembler,
		moderator:     moderator,
		client:        client,
		events:        events,
		historyWindow: historyWindow,
		pendingMaxAge: pendingMaxAge,
	}
}

// Chat handles one stylist request. Text requests are answered synchronously;
// requests with an image submit an asynchronous vision prediction and return
// a pending reply to be polled via CheckStatus.
func (s *StylistService) Chat(ctx context.Context, userID string, req ChatRequest) (*ChatResult, error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}

	thread, err := s.resolveThread(ctx, userID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	metric := model.MetricStylistText
	if req.ImageURL != "" {
		metric = model.MetricStylistVision
	}

	adm, err := s.admission.Admit(ctx, userID, metric, time.Now())
	if err != nil {
		return nil, err
	}
	defer adm.ReleaseInflight()

	// History is read before the new user message is appended so the
	// dispatch does not see the prompt twice.
	history, err := s.threads.ListMessages(ctx, thread.ID, s.historyWindow)
	if err != nil {
		adm.Rollback(ctx)
		return nil, fmt.Errorf("failed to load thread history: %w", err)
	}

	userMsg := &model.ChatMessage{
		ThreadID: thread.ID,
		Role:     model.RoleUser,
		Content:  req.Message,
		ImageURL: req.ImageURL,
	}
	if err := s.threads.AppendMessage(ctx, userMsg); err != nil {
		adm.Rollback(ctx)
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	modRes, err := s.moderator.CheckInput(ctx, req.Message, req.ImageURL)
	if err != nil {
		adm.Rollback(ctx)
		return nil, apierror.InternalError("Safety check unavailable")
	}
	if modRes.Blocked {
		return s.finishBlockedInput(ctx, adm, thread, modRes)
	}

	pack, err := s.assembler.Assemble(ctx, userID, req.FocusItemID, req.Weather, time.Now())
	if err != nil {
		adm.Rollback(ctx)
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}
	systemPrompt := systemPromptHeader + s.assembler.Summarize(pack)

	if metric == model.MetricStylistVision {
		return s.dispatchVision(ctx, adm, thread, req, systemPrompt)
	}
	return s.dispatchText(ctx, adm, thread, req, systemPrompt, history)
}

func validateChatRequest(req ChatRequest) error {
	var details []apierror.FieldError
	if strings.TrimSpace(req.Message) == "" {
		details = append(details, apierror.FieldError{Field: "message", Message: "message is required"})
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		details = append(details, apierror.FieldError{Field: "message", Message: "message is too long"})
	}
	if req.ImageURL != "" &&
		!strings.HasPrefix(req.ImageURL, "https://") && !strings.HasPrefix(req.ImageURL, "http://") {
		details = append(details, apierror.FieldError{Field: "image_url", Message: "image_url must be an http(s) URL"})
	}
	if len(details) > 0 {
		return apierror.ValidationError("Invalid chat request", details...)
	}
	return nil
}

func (s *StylistService) resolveThread(ctx context.Context, userID, threadID string) (*model.ChatThread, error) {
	if threadID == "" {
		thread, err := s.threads.CreateThread(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}
		return thread, nil
	}

	thread, err := s.threads.GetThread(ctx, userID, threadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.ThreadNotFound("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	return thread, nil
}

// finishBlockedInput handles an input-moderation block: the reservation is
// refunded (no inference happened), a safe reply is persisted, and a blocked
// event is recorded. No provider call is made.
func (s *StylistService) finishBlockedInput(ctx context.Context, adm *Admission, thread *model.ChatThread, modRes moderation.Result) (*ChatResult, error) {
	adm.Rollback(ctx)

	reply := &model.ChatMessage{
		ThreadID: thread.ID,
		Role:     model.RoleAssistant,
		Content:  moderation.SafeReply,
		Metadata: model.MessageMetadata{
			Blocked:     true,
			SafetyFlags: modRes.Flags,
		},
	}
	if err := s.threads.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to persist safe reply: %w", err)
	}

	recordEvent(ctx, s.events, &model.InferenceEvent{
		UserID:      adm.UserID,
		ThreadID:    thread.ID,
		Provider:    s.client.Provider(),
		Model:       s.modelFor(adm.Metric),
		Status:      model.EventBlocked,
		SafetyFlags: modRes.Flags,
	})

	return &ChatResult{
		ThreadID: thread.ID,
		Message:  reply,
		Blocked:  true,
	}, nil
}

func (s *StylistService) modelFor(metric string) string {
	if metric == model.MetricStylistVision {
		return s.client.VisionModel()
	}
	return s.client.Model()
}

// dispatchText charges the quota and performs a synchronous completion.
// The charge happens before dispatch and stands even if the provider fails;
// refunds exist only for requests that were never dispatched.
func (s *StylistService) dispatchText(ctx context.Context, adm *Admission, thread *model.ChatThread, req ChatRequest, systemPrompt string, history []model.ChatMessage) (*ChatResult, error) {
	if err := adm.Commit(ctx); err != nil {
		adm.Rollback(ctx)
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Complete(ctx, inference.Request{
		Model:        s.client.Model(),
		SystemPrompt: systemPrompt,
		UserPrompt:   req.Message,
		History:      historyMessages(history),
	})
	if err != nil {
		apiErr := mapInferenceError(err)
		recordEvent(ctx, s.events, &model.InferenceEvent{
			UserID:    adm.UserID,
			ThreadID:  thread.ID,
			Provider:  s.client.Provider(),
			Model:     s.client.Model(),
			Status:    model.EventFailed,
			ErrorCode: apiErr.Code,
			LatencyMS: time.Since(start).Milliseconds(),
		})
		return nil, apiErr
	}

	content := resp.Text
	meta := model.MessageMetadata{
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	status := model.EventSucceeded

	modRes, err := s.moderator.CheckOutput(ctx, resp.Text)
	if err != nil {
		// The charge already landed and the provider call happened, so
		// this is a terminal outcome and still gets an audit row.
		recordEvent(ctx, s.events, &model.InferenceEvent{
			UserID:       adm.UserID,
			ThreadID:     thread.ID,
			Provider:     s.client.Provider(),
			Model:        resp.Model,
			Status:       model.EventFailed,
			ErrorCode:    "INTERNAL_ERROR",
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			LatencyMS:    time.Since(start).Milliseconds(),
		})
		return nil, apierror.InternalError("Safety check unavailable")
	}
	if modRes.Blocked {
		content = moderation.SafeReply
		meta.Blocked = true
		meta.SafetyFlags = modRes.Flags
		status = model.EventBlocked
	}

	reply := &model.ChatMessage{
		ThreadID: thread.ID,
		Role:     model.RoleAssistant,
		Content:  content,
		Metadata: meta,
	}
	if err := s.threads.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to persist assistant reply: %w", err)
	}

	recordEvent(ctx, s.events, &model.InferenceEvent{
		UserID:       adm.UserID,
		ThreadID:     thread.ID,
		Provider:     s.client.Provider(),
		Model:        resp.Model,
		Status:       status,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		LatencyMS:    time.Since(start).Milliseconds(),
		SafetyFlags:  meta.SafetyFlags,
	})

	return &ChatResult{
		ThreadID: thread.ID,
		Message:  reply,
		Blocked:  modRes.Blocked,
	}, nil
}

// dispatchVision submits an asynchronous prediction. The reservation is kept
// open: the charge lands only when the prediction resolves successfully, so a
// failed prediction costs the user nothing.
func (s *StylistService) dispatchVision(ctx context.Context, adm *Admission, thread *model.ChatThread, req ChatRequest, systemPrompt string) (*ChatResult, error) {
	predictionID, err := s.client.SubmitPrediction(ctx, inference.Request{
		Model:        s.client.VisionModel(),
		SystemPrompt: systemPrompt,
		UserPrompt:   req.Message,
		ImageURL:     req.ImageURL,
	})
	if err != nil {
		adm.Rollback(ctx)
		apiErr := mapInferenceError(err)
		recordEvent(ctx, s.events, &model.InferenceEvent{
			UserID:    adm.UserID,
			ThreadID:  thread.ID,
			Provider:  s.client.Provider(),
			Model:     s.client.VisionModel(),
			Status:    model.EventFailed,
			ErrorCode: apiErr.Code,
		})
		return nil, apiErr
	}

	pendingMsg := &model.ChatMessage{
		ThreadID: thread.ID,
		Role:     model.RoleAssistant,
		Content:  PendingReply,
		Pending:  true,
		Metadata: model.MessageMetadata{
			PredictionID:  predictionID,
			Model:         s.client.VisionModel(),
			MetricKey:     adm.Metric,
			PeriodKey:     adm.Monthly.Key,
			BurstKey:      adm.Burst.Key,
			ReservedUnits: adm.Units,
		},
	}
	if err := s.threads.AppendMessage(ctx, pendingMsg); err != nil {
		// The prediction is already running upstream; without the pending
		// message nothing can ever commit the reservation, so refund it.
		adm.Rollback(ctx)
		return nil, fmt.Errorf("failed to persist pending reply: %w", err)
	}

	return &ChatResult{
		ThreadID: thread.ID,
		Message:  pendingMsg,
		Pending:  true,
	}, nil
}

func historyMessages(msgs []model.ChatMessage) []inference.Message {
	out := make([]inference.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending || m.Content == "" {
			continue
		}
		out = append(out, inference.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// CheckStatus polls the state of a thread's latest reply. Resolving a pending
// prediction charges or refunds the quota reserved at dispatch; the
// conditional pending-flag update makes that transition exactly-once no
// matter how many pollers race.
func (s *StylistService) CheckStatus(ctx context.Context, userID, threadID string) (*StatusResult, error) {
	thread, err := s.threads.GetThread(ctx, userID, threadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.ThreadNotFound("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	pending, err := s.threads.LatestPending(ctx, thread.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.latestResolved(ctx, thread.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending message: %w", err)
	}

	if time.Since(pending.CreatedAt) > s.pendingMaxAge {
		return s.resolveFailed(ctx, thread, pending, "UPSTREAM_TIMEOUT")
	}

	st, err := s.client.GetPrediction(ctx, pending.Metadata.PredictionID)
	if err != nil {
		// Leave the message pending; the next poll retries.
		return nil, mapInferenceError(err)
	}

	switch st.Status {
	case inference.PredictionSucceeded:
		return s.resolveSucceeded(ctx, thread, pending, st)
	case inference.PredictionFailed:
		return s.resolveFailed(ctx, thread, pending, "UPSTREAM_ERROR")
	default:
		return &StatusResult{
			ThreadID: thread.ID,
			Status:   StatusPending,
			Pending:  true,
			Message:  pending,
		}, nil
	}
}

func (s *StylistService) latestResolved(ctx context.Context, threadID string) (*StatusResult, error) {
	latest, err := s.threads.LatestAssistant(ctx, threadID)
	if errors.Is(err, repository.ErrNotFound) {
		return &StatusResult{ThreadID: threadID, Status: StatusIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest reply: %w", err)
	}

	status := StatusSucceeded
	if latest.Metadata.Failed {
		status = StatusFailed
	} else if latest.Metadata.Blocked {
		status = StatusBlocked
	}
	return &StatusResult{ThreadID: threadID, Status: status, Message: latest}, nil
}

// resolveSucceeded applies output moderation and resolves the pending
// message. Only the caller that wins the conditional update commits the
// reservation and records the event.
func (s *StylistService) resolveSucceeded(ctx context.Context, thread *model.ChatThread, pending *model.ChatMessage, st inference.PredictionStatus) (*StatusResult, error) {
	modRes, err := s.moderator.CheckOutput(ctx, st.Text)
	if err != nil {
		return nil, apierror.InternalError("Safety check unavailable")
	}

	content := st.Text
	meta := pending.Metadata
	meta.InputTokens = st.InputTokens
	meta.OutputTokens = st.OutputTokens
	if st.Model != "" {
		meta.Model = st.Model
	}
	status := StatusSucceeded
	eventStatus := model.EventSucceeded
	if modRes.Blocked {
		content = moderation.SafeReply
		meta.Blocked = true
		meta.SafetyFlags = modRes.Flags
		status = StatusBlocked
		eventStatus = model.EventBlocked
	}

	resolved, err := s.threads.ResolvePending(ctx, pending.ID, content, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pending message: %w", err)
	}
	if !resolved {
		// A concurrent poll already resolved and charged this prediction.
		return s.latestResolved(ctx, thread.ID)
	}

	s.commitReservation(ctx, thread.UserID, meta)

	recordEvent(ctx, s.events, &model.InferenceEvent{
		UserID:       thread.UserID,
		ThreadID:     thread.ID,
		Provider:     s.client.Provider(),
		Model:        meta.Model,
		Status:       eventStatus,
		InputTokens:  st.InputTokens,
		OutputTokens: st.OutputTokens,
		LatencyMS:    time.Since(pending.CreatedAt).Milliseconds(),
		SafetyFlags:  meta.SafetyFlags,
	})

	msg := *pending
	msg.Content = content
	msg.Pending = false
	msg.Metadata = meta
	return &StatusResult{ThreadID: thread.ID, Status: status, Message: &msg}, nil
}

// resolveFailed resolves a pending message as failed and refunds the
// reservation, guarded by the same conditional update.
func (s *StylistService) resolveFailed(ctx context.Context, thread *model.ChatThread, pending *model.ChatMessage, errorCode string) (*StatusResult, error) {
	meta := pending.Metadata
	meta.Failed = true

	resolved, err := s.threads.ResolvePending(ctx, pending.ID, FailureReply, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pending message: %w", err)
	}
	if !resolved {
		return s.latestResolved(ctx, thread.ID)
	}

	s.rollbackReservation(ctx, thread.UserID, meta)

	recordEvent(ctx, s.events, &model.InferenceEvent{
		UserID:    thread.UserID,
		ThreadID:  thread.ID,
		Provider:  s.client.Provider(),
		Model:     meta.Model,
		Status:    model.EventFailed,
		ErrorCode: errorCode,
		LatencyMS: time.Since(pending.CreatedAt).Milliseconds(),
	})

	msg := *pending
	msg.Content = FailureReply
	msg.Pending = false
	msg.Metadata = meta
	return &StatusResult{ThreadID: thread.ID, Status: StatusFailed, Message: &msg}, nil
}

func (s *StylistService) commitReservation(ctx context.Context, userID string, meta model.MessageMetadata) {
	if err := s.quotas.Commit(ctx, userID, meta.MetricKey, meta.PeriodKey, meta.ReservedUnits); err != nil {
		log.Printf("[StylistService] Failed to commit monthly charge for %s: %v", userID, err)
	}
	if err := s.quotas.Commit(ctx, userID, meta.MetricKey, meta.BurstKey, meta.ReservedUnits); err != nil {
		log.Printf("[StylistService] Failed to commit burst charge for %s: %v", userID, err)
	}
}

func (s *StylistService) rollbackReservation(ctx context.Context, userID string, meta model.MessageMetadata) {
	if err := s.quotas.Rollback(ctx, userID, meta.MetricKey, meta.PeriodKey, meta.ReservedUnits); err != nil {
		log.Printf("[StylistService] Failed to refund monthly reservation for %s: %v", userID, err)
	}
	if err := s.quotas.Rollback(ctx, userID, meta.MetricKey, meta.BurstKey, meta.ReservedUnits); err != nil {
		log.Printf("[StylistService] Failed to refund burst reservation for %s: %v", userID, err)
	}
}

// ListMessages returns thread history, newest-capped, for the owning user.
func (s *StylistService) ListMessages(ctx context.Context, userID, threadID string, limit int) ([]model.ChatMessage, error) {
	if _, err := s.threads.GetThread(ctx, userID, threadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apierror.ThreadNotFound("")
		}
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.threads.ListMessages(ctx, threadID, limit)
}

// mapInferenceError translates inference sentinel errors into API errors.
func mapInferenceError(err error) *apierror.Error {
	switch {
	case errors.Is(err, inference.ErrRateLimited):
		return apierror.UpstreamRateLimit("")
	case errors.Is(err, inference.ErrInvalidRequest):
		return apierror.UpstreamInvalidRequest("")
	case errors.Is(err, inference.ErrTimeout):
		return apierror.UpstreamTimeout("")
	case errors.Is(err, inference.ErrCircuitOpen):
		return apierror.UpstreamUnavailable("")
	default:
		return apierror.UpstreamError("")
	}
}
