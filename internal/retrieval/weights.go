package retrieval

import (
	"strings"
	"unicode"
)

// DefaultWeights favours semantic similarity.
var DefaultWeights = Weights{Vector: 0.7, Keyword: 0.3}

// WeightPolicy picks hybrid fusion weights for one query. stats is nil when the
// index cannot describe its corpus.
type WeightPolicy interface {
	Weights(query string, stats *CorpusStats) Weights
	NeedsStats() bool
}

// FixedWeights uses Base for every query.
type FixedWeights struct {
	Base Weights
}

func (f FixedWeights) Weights(string, *CorpusStats) Weights { return f.Base }
func (FixedWeights) NeedsStats() bool                        { return false }

// AutoWeights shifts weight towards keyword matching when the query carries
// identifier-like tokens (snake_case names, dotted paths, digits) or the
// corpus is small, and back towards vectors for long documents. Every knob is
// tunable; zero values take the defaults below.
type AutoWeights struct {
	Base Weights
	// IdentifierBoost is added to the keyword weight, scaled by the share of
	// identifier-like query tokens.
	IdentifierBoost float64
	// SmallCorpus is the document count below which SmallCorpusBoost applies.
	SmallCorpus      int
	SmallCorpusBoost float64
	// LongDocument is the average length in bytes above which LongDocumentPenalty
	// is taken from the keyword weight.
	LongDocument        float64
	LongDocumentPenalty float64
	MinKeyword          float64
	MaxKeyword          float64
}

func (AutoWeights) NeedsStats() bool { return true }

func (a AutoWeights) Weights(query string, stats *CorpusStats) Weights {
	a = a.withDefaults()
	base := a.Base.Normalized()
	keyword := base.Keyword

	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '?' || r == '(' || r == ')'
	})
	if len(tokens) > 0 {
		identifiers := 0
		for _, tok := range tokens {
			if looksLikeIdentifier(tok) {
				identifiers++
			}
		}
		keyword += a.IdentifierBoost * float64(identifiers) / float64(len(tokens))
	}
	if stats != nil {
		if stats.Documents > 0 && stats.Documents < a.SmallCorpus {
			keyword += a.SmallCorpusBoost
		}
		if stats.AvgLength > a.LongDocument {
			keyword -= a.LongDocumentPenalty
		}
	}

	if keyword < a.MinKeyword {
		keyword = a.MinKeyword
	}
	if keyword > a.MaxKeyword {
		keyword = a.MaxKeyword
	}
	return Weights{Vector: 1 - keyword, Keyword: keyword}
}

func (a AutoWeights) withDefaults() AutoWeights {
	if a.Base.Vector == 0 && a.Base.Keyword == 0 {
		a.Base = DefaultWeights
	}
	if a.IdentifierBoost == 0 {
		a.IdentifierBoost = 0.4
	}
	if a.SmallCorpus == 0 {
		a.SmallCorpus = 200
	}
	if a.SmallCorpusBoost == 0 {
		a.SmallCorpusBoost = 0.1
	}
	if a.LongDocument == 0 {
		a.LongDocument = 2000
	}
	if a.LongDocumentPenalty == 0 {
		a.LongDocumentPenalty = 0.1
	}
	if a.MinKeyword == 0 {
		a.MinKeyword = 0.1
	}
	if a.MaxKeyword == 0 {
		a.MaxKeyword = 0.6
	}
	return a
}

func looksLikeIdentifier(tok string) bool {
	tok = strings.Trim(tok, "`\"'.")
	if len(tok) < 2 {
		return false
	}
	if strings.ContainsAny(tok, "_.") {
		return true
	}
	for _, r := range tok {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
