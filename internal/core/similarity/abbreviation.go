package similarity

import "strings"

// isAbbreviation detects initialisms ("IBM" / "International Business Machines")
// and token-wise abbreviations ("J. Smith" / "John Smith", "Acme Corp" / "Acme Corporation").
func isAbbreviation(a, b string) bool {
	ta, tb := tokens(normalizedKey(a)), tokens(normalizedKey(b))
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	return initialism(ta, tb) || initialism(tb, ta) || tokenPrefixes(ta, tb)
}

// initialism reports whether short spells the initials of long.
func initialism(short, long []string) bool {
	short, long = trimSuffixes(short), trimSuffixes(long)
	if len(long) < 2 {
		return false
	}

	var abbr string
	switch {
	case len(short) == 1:
		abbr = short[0]
	case allSingleRunes(short):
		abbr = strings.Join(short, "")
	default:
		return false
	}
	if len([]rune(abbr)) < 2 {
		return false
	}

	var all, significant strings.Builder
	for _, t := range long {
		r := []rune(t)[0]
		all.WriteRune(r)
		if !stopwords[t] {
			significant.WriteRune(r)
		}
	}
	return abbr == significant.String() || abbr == all.String()
}

// tokenPrefixes matches equal-length token lists where every pair is equal or
// one token abbreviates the other, and at least one pair is identical.
func tokenPrefixes(ta, tb []string) bool {
	if len(ta) != len(tb) || len(ta) < 2 {
		return false
	}
	equal, abbreviated := 0, 0
	for i := range ta {
		x, y := ta[i], tb[i]
		if x == y {
			equal++
			continue
		}
		if len(x) > len(y) {
			x, y = y, x
		}
		if !strings.HasPrefix(y, x) {
			return false
		}
		if len([]rune(x)) != 1 && len([]rune(x)) < 3 {
			return false
		}
		abbreviated++
	}
	return equal > 0 && abbreviated > 0
}

func trimSuffixes(ts []string) []string {
	for len(ts) > 1 && corporateSuffixes[ts[len(ts)-1]] {
		ts = ts[:len(ts)-1]
	}
	return ts
}

func allSingleRunes(ts []string) bool {
	for _, t := range ts {
		if len([]rune(t)) != 1 {
			return false
		}
	}
	return true
}
