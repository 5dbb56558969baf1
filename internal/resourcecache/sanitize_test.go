package resourcecache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ascii unchanged", "Episode 12_transcription.txt", "Episode 12_transcription.txt"},
		{"curly quotes", "Don’t “Panic”", `Don't "Panic"`},
		{"dashes", "A – B — C", "A - B -- C"},
		{"ellipsis", "Wait…", "Wait..."},
		{"accents folded", "Café Señor", "Cafe Senor"},
		{"cjk replaced", "播客 show", "?? show"},
		{"emoji replaced", "Show 🎙 live", "Show ? live"},
		{"control chars", "a\tb", "a?b"},
		{"trimmed", "  padded  ", "padded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeKey(tc.in))
		})
	}
}

func TestSanitizeKeyBoundsLength(t *testing.T) {
	got := SanitizeKey(strings.Repeat("a", MaxKeyLength+100))
	assert.Len(t, got, MaxKeyLength)
}

func TestSanitizeKeyIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"Don’t “Panic” — it’s fine…",
		"Ünïcödé ﬁligree ½",
		"日本語のポッドキャスト",
		"mixed\x00nul nbsp",
		"\xff\xfe invalid utf8",
		strings.Repeat("é", MaxKeyLength),
		"   " + strings.Repeat("x", MaxKeyLength-2) + "   tail",
	}
	for _, in := range inputs {
		once := SanitizeKey(in)
		assert.Equal(t, once, SanitizeKey(once), "input %q", in)
		for _, r := range once {
			assert.Less(t, r, rune(128), "non-ascii rune in %q", once)
		}
	}
}
