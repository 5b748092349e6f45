package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"stylemate-rest-api/internal/config"
)

// SafeReply is the canned assistant reply persisted when output moderation
// blocks a generated response.
const SafeReply = "I can't help with that request, but I'm happy to help you plan an outfit or organize your wardrobe."

// Result is the outcome of a moderation check.
type Result struct {
	Blocked bool     `json:"blocked"`
	Flags   []string `json:"flags,omitempty"`
}

// Moderator checks content against the content-safety service.
type Moderator interface {
	// CheckInput screens a user message (and attached image, if any)
	// before dispatch.
	CheckInput(ctx context.Context, text, imageURL string) (Result, error)

	// CheckOutput screens a generated reply before it is returned.
	CheckOutput(ctx context.Context, text string) (Result, error)
}

// Client is an HTTP Moderator. When no base URL is configured it allows
// everything, so development environments work without the safety service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a moderation client from configuration.
func NewClient(cfg config.ModerationConfig) *Client {
	if cfg.BaseURL == "" {
		log.Printf("[Moderation] No base URL configured, all content will be allowed")
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

var _ Moderator = (*Client)(nil)

// CheckInput screens a user message and attached image before dispatch.
func (c *Client) CheckInput(ctx context.Context, text, imageURL string) (Result, error) {
	return c.check(ctx, "input", text, imageURL)
}

// CheckOutput screens a generated reply before it is returned.
func (c *Client) CheckOutput(ctx context.Context, text string) (Result, error) {
	return c.check(ctx, "output", text, "")
}

type checkRequest struct {
	Stage    string `json:"stage"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

func (c *Client) check(ctx context.Context, stage, text, imageURL string) (Result, error) {
	if c.baseURL == "" {
		return Result{}, nil
	}

	payload, err := json.Marshal(checkRequest{Stage: stage, Text: text, ImageURL: imageURL})
	if err != nil {
		return Result{}, fmt.Errorf("moderation: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/moderate", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("moderation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("moderation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("moderation: unexpected status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("moderation: decode response: %w", err)
	}
	return result, nil
}
