// Package masking scrubs secret material from debate prompts and seat
// outputs before they are persisted or published to event streams.
package masking

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var maskedValues = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbiter_masked_values_total",
	Help: "Secret values replaced before persistence or publish, by pattern.",
}, []string{"pattern"})

// Config holds prompt masking settings.
type Config struct {
	Enabled      bool
	PatternGroup string
}

// Service applies data masking to debate prompts and LLM outputs.
// Created once at application startup. Thread-safe and stateless aside
// from compiled patterns.
type Service struct {
	patterns    map[string]*CompiledPattern
	codeMaskers map[string]Masker
	cfg         Config
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly at creation time.
func NewService(cfg Config) *Service {
	if cfg.PatternGroup == "" {
		cfg.PatternGroup = "secrets"
	}
	s := &Service{
		patterns:    make(map[string]*CompiledPattern),
		codeMaskers: make(map[string]Masker),
		cfg:         cfg,
	}

	s.compileBuiltinPatterns()
	s.registerMasker(&DotenvMasker{})

	slog.Info("Masking service initialized",
		"enabled", cfg.Enabled,
		"pattern_group", cfg.PatternGroup,
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// MaskPrompt applies masking to a user-submitted debate prompt.
// On any failure it returns the original data (fail-open): a debate with an
// unmasked prompt beats a debate that never runs.
func (s *Service) MaskPrompt(data string) string {
	return s.mask(data)
}

// MaskOutput applies masking to model output before persistence.
func (s *Service) MaskOutput(data string) string {
	return s.mask(data)
}

func (s *Service) mask(data string) string {
	if !s.cfg.Enabled || data == "" {
		return data
	}

	masked := data

	// Phase 1: code-based maskers (structural awareness)
	for _, masker := range s.codeMaskers {
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	// Phase 2: regex patterns (general sweep)
	for _, pattern := range s.resolveGroup(s.cfg.PatternGroup) {
		if n := len(pattern.Regex.FindAllStringIndex(masked, -1)); n > 0 {
			maskedValues.WithLabelValues(pattern.Name).Add(float64(n))
			masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
		}
	}

	return masked
}

func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
