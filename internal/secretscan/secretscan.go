// Package secretscan provides a minimal pattern-based detector for likely
// secrets (API keys, tokens, private key material) so callers like the
// indexer builder can redact them before text crosses a network boundary.
package secretscan

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"][^'"]{8,}['"]`),
	regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`),
}

// Detector implements builder.SecretDetector.
type Detector struct{}

// Detect scans text against known secret patterns, returning the
// redacted form with each match replaced by a fixed placeholder.
func (Detector) Detect(text string) (bool, string) {
	found := false
	redacted := text
	for _, p := range patterns {
		if p.MatchString(redacted) {
			found = true
			redacted = p.ReplaceAllString(redacted, "[REDACTED]")
		}
	}
	return found, redacted
}
