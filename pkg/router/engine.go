// Package router selects a model for each debate from the catalog using a
// weighted multi-criterion score over tier tags, penalized by provider
// circuit state.
package router

import (
	"fmt"
	"log/slog"
	"sort"
)

// PolicyWeights defines scoring coefficients for a routing policy.
type PolicyWeights struct {
	Cost    float64
	Latency float64
	Quality float64
	Safety  float64
}

// policyProfiles maps routing policies to scoring coefficients.
// Higher score = better model choice.
var policyProfiles = map[string]PolicyWeights{
	"router-smart": {Cost: 0.3, Latency: 0.2, Quality: 0.4, Safety: 0.1},
	"router-deep":  {Cost: 0.1, Latency: 0.05, Quality: 0.8, Safety: 0.05},
}

// DefaultPolicy is used when the caller does not request one.
const DefaultPolicy = "router-smart"

// breakerPenalty scales the score of models whose circuit is open.
const breakerPenalty = 0.1

// Tier tag scalars. Unknown tags score 0 so a mistagged model sinks rather
// than wins.
var (
	costScores    = map[string]float64{"low": 1.0, "medium": 0.5, "high": 0.1}
	latencyScores = map[string]float64{"fast": 1.0, "normal": 0.5, "slow": 0.1}
	qualityScores = map[string]float64{"baseline": 0.1, "advanced": 0.6, "flagship": 1.0}
	safetyScores  = map[string]float64{"strict": 1.0, "normal": 0.8, "experimental": 0.5}
)

// HealthChecker reports whether a provider/model circuit allows traffic.
type HealthChecker interface {
	IsHealthy(key string) bool
}

// RouteContext carries the per-request routing inputs.
type RouteContext struct {
	UserID          string
	TeamID          string
	RequestedModel  string
	RoutingPolicy   string
	DebateType      string
	EstimatedTokens int
	Priority        string // normal | high
	SafetyLevel     string // strict | normal | relaxed
}

// Candidate is one scored model in a routing decision.
type Candidate struct {
	ModelID  string  `json:"model_id"`
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
	Healthy  bool    `json:"healthy"`
}

// Decision is the routing outcome persisted into routing_meta.
type Decision struct {
	ModelID    string      `json:"model_id"`
	Policy     string      `json:"policy"`
	Candidates []Candidate `json:"candidates"`
}

// Router scores catalog models against a policy.
type Router struct {
	catalog *Catalog
	health  HealthChecker
	topK    int
}

// New creates a router over the catalog. health may be nil (all models
// treated as healthy).
func New(catalog *Catalog, health HealthChecker) *Router {
	return &Router{catalog: catalog, health: health, topK: 5}
}

// Route picks a model for the request.
func (r *Router) Route(rc RouteContext) (Decision, error) {
	if rc.RequestedModel != "" {
		m, ok := r.catalog.Get(rc.RequestedModel)
		if !ok || !m.Enabled {
			return Decision{}, fmt.Errorf("requested model %q is not available", rc.RequestedModel)
		}
		return Decision{
			ModelID: m.ID,
			Policy:  "explicit_override",
			Candidates: []Candidate{
				{ModelID: m.ID, Provider: m.Provider, Score: 1.0, Healthy: r.healthy(m)},
			},
		}, nil
	}

	policy := rc.RoutingPolicy
	if policy == "" {
		policy = DefaultPolicy
	}
	weights, ok := policyProfiles[policy]
	if !ok {
		return Decision{}, fmt.Errorf("unknown routing policy %q", policy)
	}

	models := r.catalog.Enabled()
	if len(models) == 0 {
		return Decision{}, fmt.Errorf("no enabled models in catalog")
	}

	candidates := make([]Candidate, 0, len(models))
	for _, m := range models {
		score := weights.Cost*costScores[m.CostTier] +
			weights.Latency*latencyScores[m.Latency] +
			weights.Quality*qualityScores[m.Quality] +
			weights.Safety*safetyScores[m.Safety]
		healthy := r.healthy(m)
		if !healthy {
			score *= breakerPenalty
		}
		candidates = append(candidates, Candidate{
			ModelID:  m.ID,
			Provider: m.Provider,
			Score:    score,
			Healthy:  healthy,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Healthy != b.Healthy {
			return a.Healthy
		}
		return a.ModelID < b.ModelID
	})

	if len(candidates) > r.topK {
		candidates = candidates[:r.topK]
	}

	slog.Debug("Routing decision",
		"policy", policy, "chosen", candidates[0].ModelID, "candidates", len(candidates))

	return Decision{ModelID: candidates[0].ModelID, Policy: policy, Candidates: candidates}, nil
}

func (r *Router) healthy(m Model) bool {
	if r.health == nil {
		return true
	}
	return r.health.IsHealthy(m.HealthKey())
}

// AllowedForPlan reports whether the model's plan tier is permitted.
// Free plans default to {standard}.
func AllowedForPlan(m Model, allowedTiers []string) bool {
	if len(allowedTiers) == 0 {
		allowedTiers = []string{"standard"}
	}
	for _, t := range allowedTiers {
		if m.PlanTier == t {
			return true
		}
	}
	return false
}
