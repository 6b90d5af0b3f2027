package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPattern is the source form of a built-in masking pattern.
type builtinPattern struct {
	pattern     string
	replacement string
}

// Built-in patterns applied to debate prompts and seat outputs before
// anything is written to the database or the event stream.
var builtinPatterns = map[string]builtinPattern{
	"api_key": {
		pattern:     `(?i)(api[_-]?key|apikey)["'\s:=]+[A-Za-z0-9_\-]{16,}`,
		replacement: `$1=***MASKED_API_KEY***`,
	},
	"bearer_token": {
		pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.]{16,}`,
		replacement: `Bearer ***MASKED_TOKEN***`,
	},
	"openai_key": {
		pattern:     `sk-[A-Za-z0-9_\-]{20,}`,
		replacement: `***MASKED_PROVIDER_KEY***`,
	},
	"password": {
		pattern:     `(?i)(password|passwd|pwd)["'\s:=]+\S+`,
		replacement: `$1=***MASKED_PASSWORD***`,
	},
	"aws_access_key": {
		pattern:     `AKIA[0-9A-Z]{16}`,
		replacement: `***MASKED_AWS_KEY***`,
	},
	"email": {
		pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
		replacement: `***MASKED_EMAIL***`,
	},
	"phone": {
		pattern:     `(?:\+?\d{1,2}[\s.\-]?)?(?:\(\d{3}\)|\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}\b`,
		replacement: `***MASKED_PHONE***`,
	},
}

// Pattern groups selectable per deployment. "secrets" is the default for
// prompt masking; "pii" adds identity scrubbing on top.
var patternGroups = map[string][]string{
	"secrets": {"api_key", "bearer_token", "openai_key", "password", "aws_access_key"},
	"pii":     {"api_key", "bearer_token", "openai_key", "password", "aws_access_key", "email", "phone"},
}

// compileBuiltinPatterns compiles all built-in regex patterns.
// Invalid patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for name, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: p.replacement,
		}
	}
}

// resolveGroup expands a pattern group name into compiled patterns,
// deduplicated and in group order.
func (s *Service) resolveGroup(groupName string) []*CompiledPattern {
	names, ok := patternGroups[groupName]
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(names))
	var resolved []*CompiledPattern
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if cp, ok := s.patterns[name]; ok {
			resolved = append(resolved, cp)
		}
	}
	return resolved
}
