package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// secretKeywords marks field names whose values are credentials and must
// never appear in logs, even partially.
var secretKeywords = []string{"api_key", "apikey", "token", "secret", "password", "credential"}

// RedactEmail masks an email address for safe logging.
// "jane.doe@example.com" → "ja***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactSecret masks a credential, keeping only the last 4 characters for
// recognizability. Values shorter than 8 characters are fully masked.
func RedactSecret(s string) string {
	if len(s) < 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

func redactValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, kw := range secretKeywords {
		if strings.Contains(lower, kw) {
			return RedactSecret(val)
		}
	}
	if strings.Contains(lower, "email") || strings.Contains(lower, "recipient") {
		return RedactEmail(val)
	}
	// Catch emails embedded in free-form fields.
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
