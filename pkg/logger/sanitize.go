package logger

import (
	"log/slog"
	"strings"
)

// SanitizedMobile masks a mobile number for logging, keeping only the
// last two digits (e.g., "********10").
func SanitizedMobile(mobile string) string {
	if len(mobile) < 4 {
		return "[invalid-mobile]"
	}
	return strings.Repeat("*", len(mobile)-2) + mobile[len(mobile)-2:]
}

// SanitizedID masks a government or voter ID, keeping the first and
// last characters.
func SanitizedID(id string) string {
	if len(id) < 4 {
		return "[invalid-id]"
	}
	return string(id[0]) + strings.Repeat("*", len(id)-2) + string(id[len(id)-1])
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"otp":      true,
		"token":    true,
		"secret":   true,
		"api_key":  true,
		"apikey":   true,
		"auth":     true,
		"govid":    true,
		"voterid":  true,
		"mobile":   true,
		"wallet":   true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
