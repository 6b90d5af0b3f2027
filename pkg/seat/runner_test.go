package seat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/health"
	"github.com/arbiterlabs/arbiter/pkg/llm"
	"github.com/arbiterlabs/arbiter/pkg/masking"
	"github.com/arbiterlabs/arbiter/pkg/models"
)

func newTestRunner(fn func(ctx context.Context, req llm.Request) (*llm.Response, error)) (*Runner, *health.Breaker) {
	registry := llm.NewRegistry()
	registry.Register(llm.ProviderFunc{ProviderName: "mock", Fn: fn})
	breaker := health.NewBreaker(health.Config{
		Window: time.Minute, ErrorThreshold: 0.5, MinCalls: 2, Cooldown: time.Minute,
	})
	retry := llm.RetryPolicy{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond}
	masker := masking.NewService(masking.Config{Enabled: true})
	return NewRunner(registry, retry, breaker, masker, 5*time.Second), breaker
}

func testSpec() models.SeatSpec {
	return models.SeatSpec{
		SeatID: "s1", DisplayName: "The Optimist", ProviderKey: "mock",
		Model: "mock-model", RoleProfile: "optimist", Temperature: 0.7,
	}
}

func TestSpeakSuccess(t *testing.T) {
	r, _ := newTestRunner(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[1].Content, "<<<USER_PROMPT>>>")
		return &llm.Response{
			Content: `{"content": "go for it", "stance": "support"}`,
			Usage:   models.UsageCall{TotalTokens: 42, CostUSD: 0.01, Provider: "mock"},
		}, nil
	})

	usage := models.NewUsageAccumulator()
	res, err := r.Speak(context.Background(), "d1", testSpec(), "", "should we ship?", "", usage)
	require.NoError(t, err)
	assert.Equal(t, "go for it", res.Envelope.Content)
	assert.Equal(t, "support", res.Envelope.Stance)
	assert.Equal(t, 42, usage.TotalTokens())
}

func TestSpeakRetriesTransient(t *testing.T) {
	calls := 0
	r, _ := newTestRunner(func(context.Context, llm.Request) (*llm.Response, error) {
		calls++
		if calls == 1 {
			return nil, &llm.TransientError{Provider: "mock", Err: errors.New("flaky")}
		}
		return &llm.Response{Content: `{"content": "ok"}`}, nil
	})

	usage := models.NewUsageAccumulator()
	res, err := r.Speak(context.Background(), "d1", testSpec(), "", "q", "", usage)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "ok", res.Envelope.Content)
}

func TestSpeakFailureRecordsBreaker(t *testing.T) {
	r, breaker := newTestRunner(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("invalid request")
	})

	usage := models.NewUsageAccumulator()
	_, err := r.Speak(context.Background(), "d1", testSpec(), "", "q", "", usage)
	require.Error(t, err)

	var seatErr *Error
	require.ErrorAs(t, err, &seatErr)
	assert.Equal(t, "s1", seatErr.SeatID)

	// Second failure trips the circuit (min_calls=2, threshold=0.5).
	_, err = r.Speak(context.Background(), "d1", testSpec(), "", "q", "", usage)
	require.Error(t, err)
	assert.False(t, breaker.IsHealthy("mock/mock-model"))
}

func TestSpeakMasksOutput(t *testing.T) {
	r, _ := newTestRunner(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: `{"content": "use api_key=abcdef1234567890abcdef here"}`}, nil
	})

	usage := models.NewUsageAccumulator()
	res, err := r.Speak(context.Background(), "d1", testSpec(), "", "q", "", usage)
	require.NoError(t, err)
	assert.NotContains(t, res.Envelope.Content, "abcdef1234567890abcdef")
}

func TestSpeakUnknownProvider(t *testing.T) {
	r, _ := newTestRunner(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "{}"}, nil
	})
	spec := testSpec()
	spec.ProviderKey = "nope"

	_, err := r.Speak(context.Background(), "d1", spec, "", "q", "", models.NewUsageAccumulator())
	var seatErr *Error
	require.ErrorAs(t, err, &seatErr)
}

func TestJudgeParsesScore(t *testing.T) {
	r, _ := newTestRunner(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		assert.Contains(t, req.Messages[0].Content, "impartial judge")
		return &llm.Response{Content: `{"score": 8.5, "rationale": "thorough"}`}, nil
	})

	jr, err := r.Judge(context.Background(), testSpec(), "", "Rubric: depth.", "candidate text", models.NewUsageAccumulator())
	require.NoError(t, err)
	assert.Equal(t, 8.5, jr.Score)
}

func TestComposeReturnsProse(t *testing.T) {
	r, _ := newTestRunner(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "The panel leans toward shipping."}, nil
	})

	out, err := r.Compose(context.Background(), testSpec(), "", "Synthesize.", "material", models.NewUsageAccumulator())
	require.NoError(t, err)
	assert.Equal(t, "The panel leans toward shipping.", out)
}
