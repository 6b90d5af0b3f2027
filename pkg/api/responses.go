package api

import (
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// DebateResponse is the external shape of a debate.
type DebateResponse struct {
	ID            string              `json:"id"`
	Status        models.DebateStatus `json:"status"`
	Mode          models.DebateMode   `json:"mode"`
	Prompt        string              `json:"prompt"`
	ModelID       string              `json:"model_id,omitempty"`
	RoutedModel   string              `json:"routed_model,omitempty"`
	RoutingPolicy string              `json:"routing_policy,omitempty"`
	RoutingMeta   map[string]any      `json:"routing_meta,omitempty"`
	RunAttempt    int                 `json:"run_attempt"`
	FinalContent  string              `json:"final_content,omitempty"`
	FinalMeta     map[string]any      `json:"final_meta,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func toDebateResponse(d *models.Debate) DebateResponse {
	return DebateResponse{
		ID:            d.ID,
		Status:        d.Status,
		Mode:          d.Mode,
		Prompt:        d.Prompt,
		ModelID:       d.ModelID,
		RoutedModel:   d.RoutedModel,
		RoutingPolicy: d.RoutingPolicy,
		RoutingMeta:   d.RoutingMeta,
		RunAttempt:    d.RunAttempt,
		FinalContent:  d.FinalContent,
		FinalMeta:     d.FinalMeta,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// TranscriptResponse bundles a debate's rounds, messages, and scores.
type TranscriptResponse struct {
	DebateID string            `json:"debate_id"`
	Rounds   []*models.Round   `json:"rounds"`
	Messages []*models.Message `json:"messages"`
	Scores   []*models.Score   `json:"scores"`
}

// LeaderboardEntry is one persona's standing.
type LeaderboardEntry struct {
	Persona  string  `json:"persona"`
	Category string  `json:"category"`
	Elo      float64 `json:"elo"`
	NMatches int     `json:"n_matches"`
	WinRate  float64 `json:"win_rate"`
	CILow    float64 `json:"ci_low"`
	CIHigh   float64 `json:"ci_high"`
}
