package router

import (
	"fmt"
	"sync"
)

// Model describes one routable model and its tier tags.
type Model struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	PlanTier   string `json:"plan_tier"` // standard | premium
	CostTier   string `json:"cost_tier"` // low | medium | high
	Latency    string `json:"latency_tier"`
	Quality    string `json:"quality_tier"`
	Safety     string `json:"safety_tier"`
	Enabled    bool   `json:"enabled"`
	MetaRouter bool   `json:"meta_router,omitempty"`
}

// HealthKey is the circuit breaker key for this model.
func (m Model) HealthKey() string {
	return m.Provider + "/" + m.ID
}

// Catalog is the registry of routable models. Reads dominate; the catalog
// mutates only via admin enable/disable.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewCatalog creates a catalog with the given models.
func NewCatalog(models ...Model) *Catalog {
	c := &Catalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		c.models[m.ID] = m
	}
	return c
}

// DefaultCatalog returns the built-in model set.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Model{ID: "gpt-4o-mini", Provider: "openai", PlanTier: "standard", CostTier: "low", Latency: "fast", Quality: "baseline", Safety: "normal", Enabled: true},
		Model{ID: "gpt-4o", Provider: "openai", PlanTier: "standard", CostTier: "medium", Latency: "normal", Quality: "advanced", Safety: "normal", Enabled: true},
		Model{ID: "gpt-4.1", Provider: "openai", PlanTier: "premium", CostTier: "high", Latency: "slow", Quality: "flagship", Safety: "strict", Enabled: true},
		Model{ID: "claude-haiku-4-5", Provider: "anthropic", PlanTier: "standard", CostTier: "low", Latency: "fast", Quality: "advanced", Safety: "strict", Enabled: true},
		Model{ID: "claude-sonnet-4-5", Provider: "anthropic", PlanTier: "standard", CostTier: "medium", Latency: "normal", Quality: "flagship", Safety: "strict", Enabled: true},
		Model{ID: "claude-opus-4-1", Provider: "anthropic", PlanTier: "premium", CostTier: "high", Latency: "slow", Quality: "flagship", Safety: "strict", Enabled: true},
	)
}

// Get returns a model by ID.
func (c *Catalog) Get(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Enabled returns all enabled concrete models (meta-routers excluded).
func (c *Catalog) Enabled() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		if m.Enabled && !m.MetaRouter {
			out = append(out, m)
		}
	}
	return out
}

// SetEnabled toggles a model's availability.
func (c *Catalog) SetEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[id]
	if !ok {
		return fmt.Errorf("unknown model %q", id)
	}
	m.Enabled = enabled
	c.models[id] = m
	return nil
}
