// Package otp holds the pure text-scanning rules for spotting one-time
// passwords in message bodies.
package otp

import "strings"

// MatchesKeyword reports whether the message contains any of the keywords,
// case-insensitively. An empty keyword set never matches: a message is never
// treated as OTP-bearing by default.
func MatchesKeyword(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Extract scans the message left to right for maximal runs of decimal digits
// and returns the first run whose length lies in [minLen, maxLen]. Runs
// outside the bounds are skipped whole, never truncated. Returns "" when no
// run qualifies.
func Extract(message string, minLen, maxLen int) string {
	start := -1
	for i := 0; i <= len(message); i++ {
		isDigit := i < len(message) && message[i] >= '0' && message[i] <= '9'
		if isDigit {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			run := message[start:i]
			if len(run) >= minLen && len(run) <= maxLen {
				return run
			}
			start = -1
		}
	}
	return ""
}
