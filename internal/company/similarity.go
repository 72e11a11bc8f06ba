package company

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// minPartialLen is the shortest string PartialRatio will slide. Shorter
// names ("co", "abc") match inside almost anything.
const minPartialLen = 4

// NameSimilarity scores two company names 0-100 as the best of
// TokenSetRatio, PartialRatio and EditRatio on their normalized forms.
func NameSimilarity(a, b string) int {
	return normalizedSimilarity(NormalizeName(a), NormalizeName(b))
}

func normalizedSimilarity(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	best := TokenSetRatio(a, b)
	if p := PartialRatio(a, b); p > best {
		best = p
	}
	if e := EditRatio(a, b); e > best {
		best = e
	}
	return best
}

// EditRatio is 100 * (1 - levenshtein(a, b) / max(len(a), len(b))),
// measured in runes.
func EditRatio(a, b string) int {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.Distance(a, b, nil)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

// PartialRatio is the best EditRatio of the shorter string against every
// same-length window of the longer one.
func PartialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < minPartialLen {
		return EditRatio(a, b)
	}
	s := string(short)
	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		r := EditRatio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// TokenSetRatio compares the sorted token intersection of a and b against
// the intersection plus each side's remainder, so word order and extra
// words weigh less than in EditRatio.
func TokenSetRatio(a, b string) int {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var inter, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	if len(inter) == 0 {
		return 0
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(inter, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := EditRatio(base, withA)
	if r := EditRatio(base, withB); r > best {
		best = r
	}
	if r := EditRatio(withA, withB); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		out[t] = true
	}
	return out
}
