package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylemate-rest-api/internal/config"
)

func testConfig(baseURL string) config.InferenceConfig {
	return config.InferenceConfig{
		Provider:        "test",
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Model:           "text-model",
		VisionModel:     "vision-model",
		ModelAllowlist:  []string{"text-model", "vision-model"},
		Timeout:         2 * time.Second,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	}
}

func TestNewRejectsModelOutsideAllowlist(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.Model = "rogue-model"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rogue-model")
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "text-model",
			"choices": [{"message": {"role": "assistant", "content": "wear the blue jacket"}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{
		Model:      "text-model",
		UserPrompt: "what should I wear?",
	})
	require.NoError(t, err)
	assert.Equal(t, "wear the blue jacket", resp.Text)
	assert.Equal(t, int64(42), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)
	assert.Equal(t, 0, c.Breaker().Failures())
}

func TestCompleteRateLimitedSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "text-model", UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a 429 must not be retried")
	assert.Equal(t, 1, c.Breaker().Failures(), "a 429 counts toward the breaker")
}

func TestCompleteInvalidRequestDoesNotCountTowardBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "text-model", UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, c.Breaker().Failures())
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "text-model", UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, c.Breaker().Failures(), "timeouts count toward the breaker")
}

func TestCompleteCircuitOpenShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	b := NewBreaker(1, time.Hour)
	b.RecordFailure()

	c, err := New(testConfig(srv.URL), WithBreaker(b))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "text-model", UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "open breaker must not reach the network")
}

func TestBreakerOpensAfterConsecutiveServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.Complete(context.Background(), Request{Model: "text-model", UserPrompt: "hi"})
		assert.ErrorIs(t, err, ErrUpstream)
	}

	_, err = c.Complete(context.Background(), Request{Model: "text-model", UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSubmitAndGetPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			w.Write([]byte(`{"id": "pred-123", "status": "starting"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/pred-123":
			w.Write([]byte(`{
				"id": "pred-123",
				"status": "succeeded",
				"output": "that dress works for the party",
				"model": "vision-model",
				"usage": {"prompt_tokens": 100, "completion_tokens": 20}
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	id, err := c.SubmitPrediction(context.Background(), Request{
		Model:      "vision-model",
		UserPrompt: "does this work?",
		ImageURL:   "https://example.com/dress.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "pred-123", id)

	st, err := c.GetPrediction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PredictionSucceeded, st.Status)
	assert.Equal(t, "that dress works for the party", st.Text)
	assert.Equal(t, int64(100), st.InputTokens)
}

func TestGetPredictionCollapsesUnknownStatusToPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "pred-9", "status": "processing"}`))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	st, err := c.GetPrediction(context.Background(), "pred-9")
	require.NoError(t, err)
	assert.Equal(t, PredictionPending, st.Status)
}
