package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
// Trim + lower-case only for now; unicode confusable rules can be
// added later behind a versioned policy.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
