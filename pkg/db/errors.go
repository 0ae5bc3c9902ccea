package db

import "strings"

// IsUniqueViolation reports whether err is a unique constraint violation.
// Postgres reports "duplicate key value violates unique constraint" with the
// constraint name; sqlite (used in tests) reports "UNIQUE constraint failed"
// with the column list. Hints narrow the match: when any hint is present the
// violation must mention at least one of them.
func IsUniqueViolation(err error, hints ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if len(hints) == 0 {
		return true
	}
	for _, hint := range hints {
		if hint != "" && strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
