package retrieval

import (
	"strings"
	"unicode"
)

// KeywordScore is the share of distinct query terms present in content, in
// [0,1]. Indexes without server-side full-text ranking use it for fusion.
func KeywordScore(query, content string) float64 {
	terms := Terms(query)
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, term := range Terms(content) {
		present[term] = struct{}{}
	}
	hits := 0
	for _, term := range terms {
		if _, ok := present[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// Terms lower-cases text and splits it into distinct terms of two or more
// characters. Underscores stay inside terms so column names match whole.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Fuse combines a vector and keyword score with normalised weights.
func Fuse(vectorScore, keywordScore float64, w Weights) float64 {
	w = w.Normalized()
	return w.Vector*vectorScore + w.Keyword*keywordScore
}
