package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// exactKey lowercases and collapses whitespace.
func exactKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// normalizedKey folds case, strips diacritics and punctuation. Dots and
// apostrophes are dropped so "U.S.A." and "O'Neil" keep their letters together.
func normalizedKey(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '.' || r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokens(key string) []string {
	return strings.Fields(key)
}

var stopwords = map[string]bool{
	"of": true, "the": true, "and": true, "for": true, "a": true, "an": true,
	"de": true, "la": true, "du": true, "von": true, "und": true,
}

var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true, "llc": true,
	"plc": true, "gmbh": true, "ag": true, "sa": true, "nv": true,
	"se": true, "group": true, "holdings": true,
}
