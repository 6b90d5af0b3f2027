package masking

import (
	"regexp"
	"strings"
)

// secretKeyHint matches env-style keys whose values should never leave the
// process (pasted .env fragments show up in prompts more often than expected).
var secretKeyHint = regexp.MustCompile(`(?i)^(export\s+)?([A-Z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD|CREDENTIAL)[A-Z0-9_]*)\s*=`)

// DotenvMasker masks values of secret-looking keys in dotenv-style blocks.
type DotenvMasker struct{}

func (m *DotenvMasker) Name() string { return "dotenv" }

func (m *DotenvMasker) AppliesTo(data string) bool {
	return strings.Contains(data, "=") &&
		(strings.Contains(strings.ToUpper(data), "KEY") ||
			strings.Contains(strings.ToUpper(data), "TOKEN") ||
			strings.Contains(strings.ToUpper(data), "SECRET") ||
			strings.Contains(strings.ToUpper(data), "PASSWORD"))
}

func (m *DotenvMasker) Mask(data string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		loc := secretKeyHint.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		// Keep everything through '=' and replace the value.
		eq := strings.Index(line, "=")
		if eq < 0 || strings.TrimSpace(line[eq+1:]) == "" {
			continue
		}
		lines[i] = line[:eq+1] + "***MASKED***"
	}
	return strings.Join(lines, "\n")
}
