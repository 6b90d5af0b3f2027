package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "gpt-4o",
			"choices": [{"message": {"content": "hello from the panel"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", Endpoint: srv.URL})
	resp, err := c.Chat(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from the panel", resp.Content)
	assert.Equal(t, 150, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Usage.Provider)
	assert.InDelta(t, 100.0/1000*0.0025+50.0/1000*0.01, resp.Usage.CostUSD, 1e-9)
}

func TestOpenAIChatServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", Endpoint: srv.URL})
	_, err := c.Chat(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestOpenAIChatBadRequestNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", Endpoint: srv.URL})
	_, err := c.Chat(context.Background(), Request{Model: "nope"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestAnthropicChatLiftsSystemMessages(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "verdict: "}, {"type": "text", "text": "approved"}],
			"usage": {"input_tokens": 40, "output_tokens": 10}
		}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Endpoint: srv.URL})
	resp, err := c.Chat(context.Background(), Request{
		Model: "claude-sonnet-4-5",
		Messages: []Message{
			{Role: "system", Content: "you are the chair"},
			{Role: "user", Content: "decide"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "verdict: approved", resp.Content)
	assert.Equal(t, 50, resp.Usage.TotalTokens)
	assert.Contains(t, string(gotBody), `"system":"you are the chair"`)
	assert.NotContains(t, string(gotBody), `"role":"system"`)
}

func TestRetryPolicyRetriesTransient(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond}
	resp, err := policy.Call(context.Background(), func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, &TransientError{Provider: "test", Err: errors.New("flaky")}
		}
		return &Response{Content: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnPermanent(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond}
	_, err := policy.Call(context.Background(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errors.New("invalid request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryBackoffCappedAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		Enabled:      true,
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, policy.backoff(1))
	assert.Equal(t, 200*time.Millisecond, policy.backoff(2))
	assert.Equal(t, 300*time.Millisecond, policy.backoff(3))
	assert.Equal(t, 300*time.Millisecond, policy.backoff(5))

	// Defaults: 500ms initial, 30s cap.
	assert.Equal(t, 500*time.Millisecond, RetryPolicy{}.backoff(1))
	assert.Equal(t, 30*time.Second, RetryPolicy{}.backoff(20))
}

func TestRetryPolicyDisabledSingleAttempt(t *testing.T) {
	calls := 0
	policy := RetryPolicy{Enabled: false, MaxAttempts: 5, InitialDelay: time.Millisecond}
	_, err := policy.Call(context.Background(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &TransientError{Provider: "test", Err: errors.New("flaky")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(ProviderFunc{ProviderName: "openai", Fn: nil})
	r.Register(ProviderFunc{ProviderName: "anthropic", Fn: nil})

	p, err := r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = r.Get("mistral")
	require.Error(t, err)
	assert.Equal(t, []string{"anthropic", "openai"}, r.Keys())
}
