package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	runsOfSpace     = regexp.MustCompile(`[\s_]+`)
)

// SanitizeFileName removes filesystem-unsafe characters, collapses runs of
// whitespace and underscores into one underscore, and trims surrounding dots
// and spaces. Empty results become fallback.
func SanitizeFileName(name, fallback string) string {
	safe := unsafeFileChars.ReplaceAllString(name, "")
	safe = runsOfSpace.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, " ._")
	if safe == "" {
		return fallback
	}
	return safe
}

// SafeTitle keeps letters, digits, spaces, hyphens and underscores,
// replaces everything else with an underscore, trims, and bounds the result
// to maxRunes.
func SafeTitle(title string, maxRunes int) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return TruncateRunes(strings.TrimSpace(b.String()), maxRunes)
}

// TruncateRunes bounds s to max runes without splitting a rune.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
