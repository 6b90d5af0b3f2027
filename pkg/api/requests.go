package api

import (
	"github.com/arbiterlabs/arbiter/pkg/models"
)

// SubmitDebateRequest is the POST /debates body.
type SubmitDebateRequest struct {
	Prompt        string              `json:"prompt" binding:"required"`
	Mode          string              `json:"mode"`
	Panel         models.PanelConfig  `json:"panel" binding:"required"`
	Config        models.DebateConfig `json:"config"`
	Model         string              `json:"model"`          // explicit override
	RoutingPolicy string              `json:"routing_policy"` // router-smart | router-deep
	TeamID        string              `json:"team_id"`
	PlanTiers     []string            `json:"plan_tiers"` // injected by the gateway; empty = free plan
}

// validModes are the accepted pipeline presets.
var validModes = map[models.DebateMode]bool{
	models.ModeDebate:       true,
	models.ModeParliament:   true,
	models.ModeConversation: true,
}
