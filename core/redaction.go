package core

import "strings"

const RedactedValue = "[REDACTED]"

var sensitiveKeyParts = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"signature",
	"credential",
	"api_key",
	"apikey",
	"email",
}

// RedactFields returns a copy of fields with gateway tokens, credentials and
// client contact data replaced by RedactedValue. Nested maps and slices are
// walked.
func RedactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactMap(fields)
}

func redactMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if IsSensitiveKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed)
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return redactMap(out)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	default:
		return value
	}
}

// IsSensitiveKey reports whether a log or metadata key may carry a secret.
// Correlation keys are never redacted.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isCorrelationKey(key) {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func isCorrelationKey(key string) bool {
	switch key {
	case "request_id", "idempotency_key", "transaction_id", "event", "job_id", "reason":
		return true
	default:
		return false
	}
}
