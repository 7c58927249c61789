package sql

import (
	"testing"
)

func TestCheckLiteralForInjection(t *testing.T) {
	tests := []struct {
		name            string
		literal         string
		expectInjection bool
	}{
		// Clean literals
		{name: "number text", literal: "12345"},
		{name: "email address", literal: "user@example.com"},
		{name: "date string", literal: "2024-01-15"},
		{name: "search term", literal: "laptop computers"},
		{name: "empty string", literal: ""},
		{name: "single space", literal: " "},
		{name: "legitimate apostrophe", literal: "O'Brien"},
		{name: "double dash in text", literal: "This is a note -- with dashes"},
		{name: "SQL keywords without injection context", literal: "SELECT the best option from the menu"},

		// Injection payloads
		{name: "classic quote injection", literal: "' OR '1'='1", expectInjection: true},
		{name: "drop table injection", literal: "'; DROP TABLE users--", expectInjection: true},
		{name: "union select injection", literal: "1 UNION SELECT * FROM passwords", expectInjection: true},
		{name: "comment injection", literal: "admin'--", expectInjection: true},
		{name: "OR injection", literal: "' OR 1=1--", expectInjection: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckLiteralForInjection(tt.literal)

			if tt.expectInjection {
				if result == nil {
					t.Fatalf("expected injection detection for %q, got nil", tt.literal)
				}
				if !result.IsSQLi {
					t.Errorf("expected IsSQLi=true for %q", tt.literal)
				}
				if result.Fingerprint == "" {
					t.Errorf("expected non-empty fingerprint for %q", tt.literal)
				}
				if result.Literal != tt.literal {
					t.Errorf("expected Literal=%q, got %q", tt.literal, result.Literal)
				}
				return
			}
			if result != nil {
				t.Errorf("legitimate literal %q flagged as injection: fingerprint=%q", tt.literal, result.Fingerprint)
			}
		})
	}
}

func TestCheckStatementLiterals(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name: "no literals",
			sql:  "SELECT users.country AS country FROM users AS users LIMIT 100",
		},
		{
			name: "clean literal",
			sql:  "SELECT CONCAT(users.first_name, ' ', users.last_name) AS name FROM users AS users LIMIT 100",
		},
		{
			name:     "payload hidden in a literal",
			sql:      "SELECT a FROM t WHERE note = 'admin''--' LIMIT 1",
			expected: []string{"admin'--"},
		},
		{
			name:     "only failing literals are returned",
			sql:      "SELECT a FROM t WHERE b = 'ok' AND c = '1 UNION SELECT * FROM passwords' LIMIT 1",
			expected: []string{"1 UNION SELECT * FROM passwords"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := CheckStatementLiterals(tt.sql)
			if len(results) != len(tt.expected) {
				t.Fatalf("expected %d results, got %d", len(tt.expected), len(results))
			}
			for i, r := range results {
				if r.Literal != tt.expected[i] {
					t.Errorf("result %d: expected literal %q, got %q", i, tt.expected[i], r.Literal)
				}
			}
		})
	}
}
