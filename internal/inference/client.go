package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"stylemate-rest-api/internal/config"
)

// Message is one turn of conversation history sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single inference dispatch.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	ImageURL     string
	History      []Message
}

// Response is a synchronous completion result.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Prediction statuses reported by the provider.
const (
	PredictionPending   = "pending"
	PredictionSucceeded = "succeeded"
	PredictionFailed    = "failed"
)

// PredictionStatus is the state of an asynchronous (vision) prediction.
type PredictionStatus struct {
	Status       string
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	ErrorMessage string
}

// Client dispatches requests to the inference provider. All calls share one
// circuit breaker; there are no intra-request retries. Resilience across
// requests comes from the breaker.
type Client struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	vision     string
	httpClient *http.Client
	breaker    *Breaker
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBreaker sets a custom circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// New creates a Client from configuration. The configured models are
// validated against the allowlist here: an out-of-allowlist model is a fatal
// configuration error, never a silent fallback.
func New(cfg config.InferenceConfig, opts ...Option) (*Client, error) {
	if err := cfg.ValidateModels(); err != nil {
		return nil, err
	}

	c := &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		vision:   cfg.VisionModel,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Provider returns the configured provider name.
func (c *Client) Provider() string { return c.provider }

// Model returns the text model.
func (c *Client) Model() string { return c.model }

// VisionModel returns the vision model.
func (c *Client) VisionModel() string { return c.vision }

// Breaker exposes the circuit breaker for inspection.
func (c *Client) Breaker() *Breaker { return c.breaker }

// completionRequest is the provider chat completion payload.
type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete performs a synchronous text completion. Exactly one attempt is
// made: a 429 fails immediately rather than retry-storming a throttled
// provider.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if !c.breaker.Allow() {
		return Response{}, ErrCircuitOpen
	}

	messages := make([]Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: "user", Content: req.UserPrompt})

	var resp completionResponse
	err := c.post(ctx, "/chat/completions", completionRequest{
		Model:    req.Model,
		Messages: messages,
	}, &resp)
	if err != nil {
		return Response{}, err
	}

	if len(resp.Choices) == 0 {
		c.breaker.RecordFailure()
		return Response{}, fmt.Errorf("%w: empty choices in response", ErrUpstream)
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// predictionRequest is the asynchronous vision payload.
type predictionRequest struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Prompt       string `json:"prompt"`
	ImageURL     string `json:"image_url"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
	Usage  struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// SubmitPrediction submits an asynchronous vision request and returns the
// provider's opaque prediction id without waiting for completion.
func (c *Client) SubmitPrediction(ctx context.Context, req Request) (string, error) {
	if !c.breaker.Allow() {
		return "", ErrCircuitOpen
	}

	var resp predictionResponse
	err := c.post(ctx, "/predictions", predictionRequest{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.UserPrompt,
		ImageURL:     req.ImageURL,
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.ID == "" {
		c.breaker.RecordFailure()
		return "", fmt.Errorf("%w: missing prediction id", ErrUpstream)
	}
	return resp.ID, nil
}

// GetPrediction polls the provider for the state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, predictionID string) (PredictionStatus, error) {
	if !c.breaker.Allow() {
		return PredictionStatus{}, ErrCircuitOpen
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/predictions/"+predictionID, nil)
	if err != nil {
		return PredictionStatus{}, fmt.Errorf("inference: build request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PredictionStatus{}, c.failTransport(err)
	}
	defer httpResp.Body.Close()

	if err := c.mapHTTPError(httpResp); err != nil {
		return PredictionStatus{}, err
	}

	var resp predictionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		c.breaker.RecordFailure()
		return PredictionStatus{}, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	c.breaker.RecordSuccess()

	status := resp.Status
	switch status {
	case PredictionSucceeded, PredictionFailed:
	default:
		// Providers report various non-terminal states (starting,
		// processing, queued); collapse them all to pending.
		status = PredictionPending
	}

	return PredictionStatus{
		Status:       status,
		Text:         resp.Output,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ErrorMessage: resp.Error,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("inference: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("inference: build request: %w", err)
	}
	c.setHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.failTransport(err)
	}
	defer httpResp.Body.Close()

	if err := c.mapHTTPError(httpResp); err != nil {
		return err
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	c.breaker.RecordSuccess()
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// failTransport classifies a transport-level failure. Timeouts get their own
// tag; each one still counts toward the breaker's consecutive failures.
func (c *Client) failTransport(err error) error {
	c.breaker.RecordFailure()

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// mapHTTPError translates a non-2xx response into a tagged error.
func (c *Client) mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read a little of the body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %s", ErrRateLimited, string(body))
	case http.StatusUnprocessableEntity:
		// The payload was malformed; provider health is not implicated.
		return fmt.Errorf("%w: %s", ErrInvalidRequest, string(body))
	default:
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, string(body))
	}
}
