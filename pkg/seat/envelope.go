package seat

import (
	"encoding/json"
	"strings"
)

// maxFallbackContent bounds raw output kept when envelope parsing fails.
const maxFallbackContent = 16384

// fallbackScore is synthesized when a judge response cannot be parsed.
const fallbackScore = 6.5

// Envelope is the structured shape seat outputs must obey.
type Envelope struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
	Stance    string `json:"stance,omitempty"`
}

// ParseEnvelope decodes a seat response. On any parse failure the raw text
// (truncated) becomes the content: a malformed envelope is a degraded
// answer, not a lost one.
func ParseEnvelope(raw string) Envelope {
	if block, ok := outermostJSON(raw); ok {
		var env Envelope
		if err := json.Unmarshal([]byte(block), &env); err == nil && env.Content != "" {
			return env
		}
	}
	return Envelope{Content: truncate(raw, maxFallbackContent)}
}

// JudgeResult is the parsed judge output.
type JudgeResult struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// ParseJudgeResult extracts the {"score", "rationale"} object from a judge
// response. Tolerant: locates the outermost JSON block; on failure it
// synthesizes the fallback score with the raw text as rationale. Scores are
// clamped to [0, 10].
func ParseJudgeResult(raw string) JudgeResult {
	if block, ok := outermostJSON(raw); ok {
		var jr JudgeResult
		if err := json.Unmarshal([]byte(block), &jr); err == nil {
			jr.Score = clampScore(jr.Score)
			if jr.Rationale == "" {
				jr.Rationale = truncate(raw, maxFallbackContent)
			}
			return jr
		}
	}
	return JudgeResult{Score: fallbackScore, Rationale: truncate(raw, maxFallbackContent)}
}

// outermostJSON returns the substring from the first '{' to the last '}'.
func outermostJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
