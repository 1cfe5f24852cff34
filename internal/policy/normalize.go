package policy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds an utterance for vocabulary matching: accents removed,
// lowercased, punctuation replaced by spaces and whitespace collapsed.
// Hyphens and slashes survive so references ("REF-001") and commands
// ("/reset") keep their shape.
func Normalize(s string) string {
	// transform chains are stateful; build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '-' || r == '/':
			b.WriteRune(r)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	for _, f := range fields {
		if strings.Trim(f, "-/") == "" {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// containsPhrase reports whether phrase occurs in normalized on word boundaries.
func containsPhrase(normalized, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+normalized+" ", " "+phrase+" ")
}
