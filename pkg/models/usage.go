package models

import "sync"

// UsageCall is the token/cost accounting for a single LLM call.
type UsageCall struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
}

// UsageAccumulator aggregates usage across all LLM calls of one debate run.
// It is per-run and safe for concurrent seat fan-out.
type UsageAccumulator struct {
	mu    sync.Mutex
	calls []UsageCall

	totalTokens int
	totalCost   float64
}

// NewUsageAccumulator returns an empty accumulator.
func NewUsageAccumulator() *UsageAccumulator {
	return &UsageAccumulator{}
}

// Record adds one call's usage to the running totals.
func (u *UsageAccumulator) Record(c UsageCall) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, c)
	u.totalTokens += c.TotalTokens
	u.totalCost += c.CostUSD
}

// TotalTokens returns the accumulated token count.
func (u *UsageAccumulator) TotalTokens() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totalTokens
}

// TotalCostUSD returns the accumulated cost.
func (u *UsageAccumulator) TotalCostUSD() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totalCost
}

// Calls returns a copy of the per-call records.
func (u *UsageAccumulator) Calls() []UsageCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]UsageCall, len(u.calls))
	copy(out, u.calls)
	return out
}

// Summary returns the totals as a meta map suitable for final_meta.
func (u *UsageAccumulator) Summary() map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return map[string]any{
		"total_tokens": u.totalTokens,
		"cost_usd":     u.totalCost,
		"llm_calls":    len(u.calls),
	}
}
