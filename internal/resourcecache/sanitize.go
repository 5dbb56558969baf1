package resourcecache

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength bounds sanitized keys, in bytes.
const MaxKeyLength = 512

var punctuationFolder = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"–", "-",
	"—", "--",
	"…", "...",
)

// SanitizeKey folds raw into the ASCII form used as a cache key and remote
// display name. Common typographic punctuation maps to ASCII equivalents,
// accented letters lose their marks, and anything still outside ASCII
// becomes '?'. SanitizeKey(SanitizeKey(x)) == SanitizeKey(x).
func SanitizeKey(raw string) string {
	folded := punctuationFolder.Replace(raw)

	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(stripMarks, folded); err == nil {
		folded = stripped
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r > unicode.MaxASCII, r < 0x20, r == 0x7f:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	key := b.String()
	if len(key) > MaxKeyLength {
		key = key[:MaxKeyLength]
	}
	return strings.TrimSpace(key)
}
