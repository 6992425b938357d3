// ABOUTME: Parsing of raw dialogue input: ordinals and control keywords
// ABOUTME: Keywords are matched case-insensitively and ignore trailing punctuation

package booking

import (
	"strconv"
	"strings"
)

type keyword int

const (
	kwNone keyword = iota
	kwBack
	kwCancel
	kwKeep
	kwSkip
	kwConfirm
)

var keywords = map[string]keyword{
	"back":    kwBack,
	"cancel":  kwCancel,
	"stop":    kwCancel,
	"keep":    kwKeep,
	"skip":    kwSkip,
	"confirm": kwConfirm,
	"yes":     kwConfirm,
}

// SkipNotes is the input that leaves the notes empty
const SkipNotes = "skip"

func parseKeyword(input string) keyword {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.TrimRight(s, ".!?")
	return keywords[s]
}

// parseOrdinal reads a 1-based number at the start of the input ("2", "2.",
// "2) Station B") and returns the 0-based index if it is within n.
func parseOrdinal(input string, n int) (int, bool) {
	s := strings.TrimSpace(input)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 || end > 6 {
		return 0, false
	}
	// "10:00" is a time, not option 10
	if end < len(s) && s[end] == ':' {
		return 0, false
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

// parseBareOrdinal accepts only a list number on its own ("5", "5." or
// "5)"), so typed dates such as "5 November" are never read as positions.
func parseBareOrdinal(input string, n int) (int, bool) {
	s := strings.TrimSpace(input)
	s = strings.TrimRight(s, ".)")
	if s == "" || len(s) > 6 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	return parseOrdinal(s, n)
}
