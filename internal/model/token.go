package model

import "time"

// TokenData is the session payload stored in Redis for an issued token.
type TokenData struct {
	UserID    string    `json:"user_id"`
	PlanCode  string    `json:"plan_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
