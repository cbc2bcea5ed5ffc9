package match

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// TokenSetRatio scores how similar two descriptions are, 0 to 1. Tokens are
// lowercased, deduplicated, and sorted before comparison, so word order and
// repetition do not matter; the score is the best Levenshtein similarity
// among the token-set combinations. "Blue Widget, Large" and "LARGE widget
// (blue)" score 1.0.
func TokenSetRatio(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	inter, onlyA, onlyB := splitTokens(tokensA, tokensB)

	joinedInter := strings.Join(inter, " ")
	joinedA := joinSections(joinedInter, onlyA)
	joinedB := joinSections(joinedInter, onlyB)

	best := levenshtein.Similarity(joinedA, joinedB, nil)
	if joinedInter != "" {
		if s := levenshtein.Similarity(joinedInter, joinedA, nil); s > best {
			best = s
		}
		if s := levenshtein.Similarity(joinedInter, joinedB, nil); s > best {
			best = s
		}
	}
	return best
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func splitTokens(a, b []string) (inter, onlyA, onlyB []string) {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	inA := make(map[string]struct{}, len(a))
	for _, t := range a {
		inA[t] = struct{}{}
		if _, ok := inB[t]; ok {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range b {
		if _, ok := inA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	return inter, onlyA, onlyB
}

func joinSections(inter string, rest []string) string {
	if len(rest) == 0 {
		return inter
	}
	joined := strings.Join(rest, " ")
	if inter == "" {
		return joined
	}
	return inter + " " + joined
}
