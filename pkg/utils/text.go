// Package utils provides shared helpers for prompt text, vector math and logging.
package utils

import "unicode/utf8"

// Truncate cuts s to at most maxLen bytes without splitting a UTF-8 sequence and appends "..."
// when anything was cut. A non-positive maxLen returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
