package model

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatThread is a conversation between one user and the stylist.
type ChatThread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is a single message in a thread. Messages are append-only;
// the only in-place rewrite allowed is resolving a pending assistant message.
type ChatMessage struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ImageURL  string          `json:"image_url,omitempty"`
	Pending   bool            `json:"pending"`
	Metadata  MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageMetadata carries bookkeeping for assistant messages. For a pending
// vision reply it records the external prediction id and the quota keys that
// were reserved but not yet charged.
type MessageMetadata struct {
	PredictionID  string   `json:"prediction_id,omitempty"`
	Model         string   `json:"model,omitempty"`
	MetricKey     string   `json:"metric_key,omitempty"`
	PeriodKey     string   `json:"period_key,omitempty"`
	BurstKey      string   `json:"burst_key,omitempty"`
	ReservedUnits int64    `json:"reserved_units,omitempty"`
	Failed        bool     `json:"failed,omitempty"`
	Blocked       bool     `json:"blocked,omitempty"`
	SafetyFlags   []string `json:"safety_flags,omitempty"`
	InputTokens   int64    `json:"input_tokens,omitempty"`
	OutputTokens  int64    `json:"output_tokens,omitempty"`
}
