package seat

import (
	"context"
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/health"
	"github.com/arbiterlabs/arbiter/pkg/llm"
	"github.com/arbiterlabs/arbiter/pkg/masking"
	"github.com/arbiterlabs/arbiter/pkg/models"
)

// Error marks one seat's failure after retries. Counted against panel
// tolerance, never fatal on its own.
type Error struct {
	SeatID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("seat %s: %v", e.SeatID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is one successful seat call.
type Result struct {
	SeatID   string
	Envelope Envelope
	Raw      string
	Usage    models.UsageCall
}

// Runner executes seat calls against the provider registry with retry,
// circuit accounting, masking, and usage tracking.
type Runner struct {
	registry *llm.Registry
	retry    llm.RetryPolicy
	breaker  *health.Breaker
	masker   *masking.Service

	callTimeout time.Duration
}

// NewRunner creates a seat runner.
func NewRunner(registry *llm.Registry, retry llm.RetryPolicy, breaker *health.Breaker, masker *masking.Service, callTimeout time.Duration) *Runner {
	return &Runner{
		registry:    registry,
		retry:       retry,
		breaker:     breaker,
		masker:      masker,
		callTimeout: callTimeout,
	}
}

// call performs one retried LLM call and keeps the circuit and usage
// accumulator current.
func (r *Runner) call(ctx context.Context, spec models.SeatSpec, model string, messages []llm.Message, usage *models.UsageAccumulator) (*llm.Response, error) {
	provider, err := r.registry.Get(spec.ProviderKey)
	if err != nil {
		return nil, &Error{SeatID: spec.SeatID, Err: err}
	}
	if model == "" {
		model = spec.Model
	}
	healthKey := spec.ProviderKey + "/" + model

	resp, err := r.retry.Call(ctx, func(ctx context.Context) (*llm.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		return provider.Chat(callCtx, llm.Request{
			Model:       model,
			Messages:    messages,
			Temperature: spec.Temperature,
		})
	})
	if err != nil {
		r.breaker.RecordFailure(healthKey)
		return nil, &Error{SeatID: spec.SeatID, Err: err}
	}

	r.breaker.RecordSuccess(healthKey)
	usage.Record(resp.Usage)
	return resp, nil
}

// Speak runs one seat over the debate prompt (plus optional phase context)
// and parses the envelope.
func (r *Runner) Speak(ctx context.Context, debateID string, spec models.SeatSpec, model, prompt, phaseContext string, usage *models.UsageAccumulator) (*Result, error) {
	ScanForInjection(debateID, spec.SeatID, prompt)

	userContent := WrapUserPrompt(prompt)
	if phaseContext != "" {
		userContent += "\n\n" + phaseContext
	}
	messages := []llm.Message{
		{Role: "system", Content: SeatSystemPrompt(spec.DisplayName, spec.RoleProfile)},
		{Role: "user", Content: userContent},
	}

	resp, err := r.call(ctx, spec, model, messages, usage)
	if err != nil {
		return nil, err
	}

	env := ParseEnvelope(resp.Content)
	env.Content = r.masker.MaskOutput(env.Content)
	return &Result{SeatID: spec.SeatID, Envelope: env, Raw: resp.Content, Usage: resp.Usage}, nil
}

// Judge scores one candidate under the rubric.
func (r *Runner) Judge(ctx context.Context, spec models.SeatSpec, model, rubric, candidate string, usage *models.UsageAccumulator) (JudgeResult, error) {
	messages := []llm.Message{
		{Role: "system", Content: JudgeSystemPrompt(spec.DisplayName)},
		{Role: "user", Content: rubric + "\n\nCandidate to score:\n" + WrapUserPrompt(candidate)},
	}

	resp, err := r.call(ctx, spec, model, messages, usage)
	if err != nil {
		return JudgeResult{}, err
	}
	return ParseJudgeResult(resp.Content), nil
}

// Compose runs a prose-output call (synthesizer, scribe, chair verdict).
func (r *Runner) Compose(ctx context.Context, spec models.SeatSpec, model, instructions, material string, usage *models.UsageAccumulator) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: PlainSystemPrompt(spec.DisplayName, spec.RoleProfile)},
		{Role: "user", Content: instructions + "\n\n" + material},
	}

	resp, err := r.call(ctx, spec, model, messages, usage)
	if err != nil {
		return "", err
	}
	return r.masker.MaskOutput(resp.Content), nil
}
