package domain

import (
	"strconv"
	"strings"
)

// MatchesIterationPattern reports whether iteration (1-based) matches a
// model-rule / prompt-iteration pattern: "all", an exact "N", a range
// "N-M" (inclusive), or an open-ended "N+".
func MatchesIterationPattern(pattern string, iteration int) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "all" {
		return true
	}
	if strings.HasSuffix(pattern, "+") {
		n, err := strconv.Atoi(strings.TrimSuffix(pattern, "+"))
		if err != nil {
			return false
		}
		return iteration >= n
	}
	if lo, hi, ok := strings.Cut(pattern, "-"); ok {
		loN, errLo := strconv.Atoi(strings.TrimSpace(lo))
		hiN, errHi := strconv.Atoi(strings.TrimSpace(hi))
		if errLo != nil || errHi != nil {
			return false
		}
		return iteration >= loN && iteration <= hiN
	}
	n, err := strconv.Atoi(pattern)
	if err != nil {
		return false
	}
	return iteration == n
}
