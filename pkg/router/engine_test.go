package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHealth struct {
	open map[string]bool
}

func (s *stubHealth) IsHealthy(key string) bool { return !s.open[key] }

func testCatalog() *Catalog {
	return NewCatalog(
		Model{ID: "cheap-fast", Provider: "openai", PlanTier: "standard", CostTier: "low", Latency: "fast", Quality: "baseline", Safety: "normal", Enabled: true},
		Model{ID: "balanced", Provider: "openai", PlanTier: "standard", CostTier: "medium", Latency: "normal", Quality: "advanced", Safety: "normal", Enabled: true},
		Model{ID: "flagship", Provider: "anthropic", PlanTier: "premium", CostTier: "high", Latency: "slow", Quality: "flagship", Safety: "strict", Enabled: true},
		Model{ID: "disabled-model", Provider: "openai", PlanTier: "standard", CostTier: "low", Latency: "fast", Quality: "advanced", Safety: "normal", Enabled: false},
		Model{ID: "auto", Provider: "none", Enabled: true, MetaRouter: true},
	)
}

func TestRouteExplicitOverride(t *testing.T) {
	r := New(testCatalog(), nil)
	d, err := r.Route(RouteContext{RequestedModel: "balanced"})
	require.NoError(t, err)
	assert.Equal(t, "balanced", d.ModelID)
	assert.Equal(t, "explicit_override", d.Policy)
	require.Len(t, d.Candidates, 1)
}

func TestRouteExplicitOverrideDisabledModel(t *testing.T) {
	r := New(testCatalog(), nil)
	_, err := r.Route(RouteContext{RequestedModel: "disabled-model"})
	assert.Error(t, err)
}

func TestRouteDeepPolicyPrefersQuality(t *testing.T) {
	r := New(testCatalog(), nil)
	d, err := r.Route(RouteContext{RoutingPolicy: "router-deep"})
	require.NoError(t, err)
	assert.Equal(t, "flagship", d.ModelID)
}

func TestRouteSmartPolicyBalances(t *testing.T) {
	r := New(testCatalog(), nil)
	d, err := r.Route(RouteContext{})
	require.NoError(t, err)
	assert.Equal(t, "router-smart", d.Policy)

	// smart: cheap-fast = 0.3*1 + 0.2*1 + 0.4*0.1 + 0.1*0.8 = 0.62
	//        balanced   = 0.3*.5 + 0.2*.5 + 0.4*0.6 + 0.1*0.8 = 0.57
	//        flagship   = 0.3*.1 + 0.2*.1 + 0.4*1.0 + 0.1*1.0 = 0.55
	assert.Equal(t, "cheap-fast", d.ModelID)

	// Meta-routers and disabled models never appear as candidates.
	for _, c := range d.Candidates {
		assert.NotEqual(t, "auto", c.ModelID)
		assert.NotEqual(t, "disabled-model", c.ModelID)
	}
}

func TestRouteBreakerPenalty(t *testing.T) {
	h := &stubHealth{open: map[string]bool{"openai/cheap-fast": true}}
	r := New(testCatalog(), h)
	d, err := r.Route(RouteContext{})
	require.NoError(t, err)

	// cheap-fast drops from 0.62 to 0.062 and loses the top slot.
	assert.Equal(t, "balanced", d.ModelID)
	for _, c := range d.Candidates {
		if c.ModelID == "cheap-fast" {
			assert.False(t, c.Healthy)
			assert.InDelta(t, 0.062, c.Score, 1e-9)
		}
	}
}

func TestRouteUnknownPolicy(t *testing.T) {
	r := New(testCatalog(), nil)
	_, err := r.Route(RouteContext{RoutingPolicy: "router-chaos"})
	assert.Error(t, err)
}

func TestRouteTieBreakByModelID(t *testing.T) {
	c := NewCatalog(
		Model{ID: "bbb", Provider: "p", CostTier: "low", Latency: "fast", Quality: "advanced", Safety: "normal", Enabled: true},
		Model{ID: "aaa", Provider: "p", CostTier: "low", Latency: "fast", Quality: "advanced", Safety: "normal", Enabled: true},
	)
	r := New(c, nil)
	d, err := r.Route(RouteContext{})
	require.NoError(t, err)
	assert.Equal(t, "aaa", d.ModelID)
}

func TestAllowedForPlan(t *testing.T) {
	std := Model{ID: "m1", PlanTier: "standard"}
	prem := Model{ID: "m2", PlanTier: "premium"}

	// Empty tier list means free plan: standard only.
	assert.True(t, AllowedForPlan(std, nil))
	assert.False(t, AllowedForPlan(prem, nil))
	assert.True(t, AllowedForPlan(prem, []string{"standard", "premium"}))
}
