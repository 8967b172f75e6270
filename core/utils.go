package core

import (
	"strings"
	"time"
)

// NowFunc returns the current time. mockable
var NowFunc = time.Now

// Now returns NowFunc() in UTC.
func Now() time.Time {
	return NowFunc().UTC()
}

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CleanEmail normalizes an email address for case-insensitive comparisons.
func CleanEmail(email string) string {
	return CleanString(email, true /* lower */)
}
