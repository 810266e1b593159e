// Package priceparse extracts candidate unit prices from free-form text.
//
// This is a heuristic, not a grammar: negotiation replies are prose, often
// with several numbers in them. The leftmost amount of 3 to 5 integer digits
// wins, optionally preceded by a currency marker and followed by a two-digit
// fractional part.
package priceparse

import (
	"regexp"
	"strconv"
)

var pricePattern = regexp.MustCompile(`(?:\$|USD\s*|usd\s*)?(\d{3,5})(?:\.(\d{2}))?`)

// Extract returns the first price found in text. The second return value is
// false when no price is present; callers must not conflate absence with a
// zero price.
func Extract(text string) (float64, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if m[2] != "" {
		raw += "." + m[2]
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
