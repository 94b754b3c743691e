package similarity

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// StringSimilarity scores two names in [0,1] as the best of edit-distance
// ratio, token overlap and whole-token containment.
func StringSimilarity(a, b string) float64 {
	na, nb := normalizedKey(a), normalizedKey(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	score := levenshteinRatio(na, nb)
	if j := tokenJaccard(na, nb); j > score {
		score = j
	}
	if c := containment(na, nb); c > score {
		score = c
	}
	return score
}

func levenshteinRatio(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func tokenJaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := map[string]bool{}
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// minContainedRunes keeps fragments like "inc" from matching every company
// name. Shorter names still count when the rest of the longer name is only
// legal-form suffixes or stopwords ("IBM" in "IBM Corp").
const minContainedRunes = 4

// containment scores a whole-token substring at 0.9 plus a length bonus.
func containment(a, b string) float64 {
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	ls, ll := utf8.RuneCountInString(short), utf8.RuneCountInString(long)
	if ls == ll {
		return 0
	}
	if !strings.Contains(" "+long+" ", " "+short+" ") {
		return 0
	}
	if ls < minContainedRunes && !onlyAffixesRemain(tokens(short), tokens(long)) {
		return 0
	}
	return 0.9 + 0.1*float64(ls)/float64(ll)
}

// onlyAffixesRemain reports whether long is short plus nothing but corporate
// suffixes and stopwords. A short side made only of such words never counts.
func onlyAffixesRemain(short, long []string) bool {
	if len(short) == 0 || isAffixOnly(short) {
		return false
	}
	for i := 0; i+len(short) <= len(long); i++ {
		if !slices.Equal(long[i:i+len(short)], short) {
			continue
		}
		rest := append(append([]string{}, long[:i]...), long[i+len(short):]...)
		if isAffixOnly(rest) {
			return true
		}
	}
	return false
}

func isAffixOnly(ts []string) bool {
	for _, t := range ts {
		if !corporateSuffixes[t] && !stopwords[t] {
			return false
		}
	}
	return true
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty, zero or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
