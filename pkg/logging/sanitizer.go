// Package logging builds the process logger and scrubs secrets from values
// before they reach it.
package logging

import (
	"regexp"
)

const (
	// MaxSQLLogLength caps generated SQL written to logs.
	MaxSQLLogLength = 200
	// MaxQuestionLogLength caps user questions written to logs.
	MaxQuestionLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=xxx style parameters
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Bare provider keys (OpenAI "sk-...", Anthropic "sk-ant-...") echoed in error bodies
	providerKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9-_]{16,}`)

	// user:pass@host in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeDSN removes credentials from a warehouse connection string.
func SanitizeDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(dsn, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError renders err with passwords, API keys and connection
// credentials removed. Used for warehouse and LLM provider errors.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeSQL truncates generated SQL for logging and strips anything that
// looks like a credential (questions are user input and end up in literals).
func SanitizeSQL(query string) string {
	if query == "" {
		return ""
	}
	sanitized := TruncateString(query, MaxSQLLogLength)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// SanitizeQuestion truncates a natural-language question for logging.
func SanitizeQuestion(question string) string {
	return providerKeyPattern.ReplaceAllString(TruncateString(question, MaxQuestionLogLength), RedactedText)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
