package model

import "time"

// Inference event statuses.
const (
	EventSucceeded = "succeeded"
	EventBlocked   = "blocked"
	EventFailed    = "failed"
)

// InferenceEvent is an immutable audit record of one inference attempt.
// One event is appended per terminal outcome; events are never updated.
type InferenceEvent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ThreadID     string    `json:"thread_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Status       string    `json:"status"`
	ErrorCode    string    `json:"error_code,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	LatencyMS    int64     `json:"latency_ms"`
	SafetyFlags  []string  `json:"safety_flags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
