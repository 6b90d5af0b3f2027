// Package models defines the domain types shared across the debate engine,
// store, queue, and API layers.
package models

import (
	"fmt"
	"time"
)

// DebateStatus is the lifecycle status of a debate.
type DebateStatus string

// Debate status values. Transitions are monotonic except running → queued,
// which only the stale-run reaper performs when retry budget remains.
const (
	StatusQueued    DebateStatus = "queued"
	StatusRunning   DebateStatus = "running"
	StatusCompleted DebateStatus = "completed"
	StatusDegraded  DebateStatus = "degraded"
	StatusFailed    DebateStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s DebateStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDegraded || s == StatusFailed
}

// DebateMode selects the pipeline preset.
type DebateMode string

const (
	ModeDebate       DebateMode = "debate"
	ModeParliament   DebateMode = "parliament"
	ModeConversation DebateMode = "conversation"
)

// SeatSpec describes one persona participant in a panel.
type SeatSpec struct {
	SeatID      string  `json:"seat_id"`
	DisplayName string  `json:"display_name"`
	ProviderKey string  `json:"provider_key"`
	Model       string  `json:"model"`
	RoleProfile string  `json:"role_profile"`
	Temperature float64 `json:"temperature"`
}

// PanelConfig is the ordered seat list plus panel-level tolerances and judges.
type PanelConfig struct {
	Seats            []SeatSpec `json:"seats"`
	Judges           []SeatSpec `json:"judges"`
	Synthesizer      *SeatSpec  `json:"synthesizer,omitempty"`
	MinRequiredSeats int        `json:"min_required_seats,omitempty"`
	MaxSeatFailRatio float64    `json:"max_seat_fail_ratio,omitempty"`
}

// Validate checks structural panel invariants at submit time.
func (p *PanelConfig) Validate() error {
	if len(p.Seats) == 0 {
		return fmt.Errorf("panel has no seats")
	}
	seen := make(map[string]bool, len(p.Seats))
	for _, s := range p.Seats {
		if s.SeatID == "" {
			return fmt.Errorf("seat %q has empty seat_id", s.DisplayName)
		}
		if seen[s.SeatID] {
			return fmt.Errorf("duplicate seat_id %q", s.SeatID)
		}
		seen[s.SeatID] = true
	}
	if p.MaxSeatFailRatio < 0 || p.MaxSeatFailRatio > 1 {
		return fmt.Errorf("max_seat_fail_ratio %v out of range [0,1]", p.MaxSeatFailRatio)
	}
	return nil
}

// BudgetConfig bounds a single debate's resource consumption.
type BudgetConfig struct {
	MaxTokens      int     `json:"max_tokens,omitempty"`
	MaxCostUSD     float64 `json:"max_cost_usd,omitempty"`
	EarlyStopDelta float64 `json:"early_stop_delta,omitempty"`
}

// DebateConfig is the per-debate execution configuration stored in the
// config JSON column.
type DebateConfig struct {
	Budget    BudgetConfig `json:"budget,omitempty"`
	MaxRounds int          `json:"max_rounds,omitempty"` // conversation mode only
}

// Debate is a single deliberation instance.
type Debate struct {
	ID             string
	Prompt         string
	Status         DebateStatus
	Mode           DebateMode
	Panel          PanelConfig
	Config         DebateConfig
	ModelID        string // caller-pinned model, empty when the router chose
	RoutedModel    string
	RoutingPolicy  string
	RoutingMeta    map[string]any
	UserID         string
	TeamID         string
	FinalContent   string
	FinalMeta      map[string]any
	RunnerID       string
	LeaseExpiresAt *time.Time
	RunAttempt     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DebateError records why a debate was reaped or aborted.
type DebateError struct {
	DebateID  string
	Reason    string
	Detail    string
	Age       time.Duration
	CreatedAt time.Time
}
