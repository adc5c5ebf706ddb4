package textutil

import "unicode/utf8"

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
// The second result reports whether anything was cut.
func Truncate(s string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
