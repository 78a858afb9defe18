package logging

import (
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactedPlaceholder replaces sensitive values in log output.
const RedactedPlaceholder = "[REDACTED]"

// Credential-shaped patterns that must never reach log output. API keys for
// every integration this backend talks to are covered: OpenAI (sk-...),
// Google/Gemini (AIza...), Meshy (msy_...), plus generic bearer tokens and
// key=value secret assignments.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),
	regexp.MustCompile(`(?i)(AIza[a-zA-Z0-9_-]{35})`),
	regexp.MustCompile(`(?i)(msy_[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(client_secret\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)(key=[a-zA-Z0-9_-]{20,})`),
}

// RedactSensitiveData scans a string and replaces any detected credential
// with the redaction placeholder. Pure function.
func RedactSensitiveData(value string) string {
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// redactFields redacts string-typed zap fields in place-safe copies.
// Non-string fields pass through untouched.
func redactFields(fields []zap.Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, field := range fields {
		if field.Type == zapcore.StringType {
			redacted := RedactSensitiveData(field.String)
			if redacted != field.String {
				out[i] = zap.String(field.Key, redacted)
				continue
			}
		}
		out[i] = field
	}
	return out
}
