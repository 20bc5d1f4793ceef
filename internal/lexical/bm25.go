// Package lexical provides BM25 relevance scoring over the candidate
// population, treated as the document collection.
package lexical

import (
	"math"
	"strings"

	"github.com/oaguiar/incmatch/internal/repository"
)

// BM25 tuning constants. Standard Okapi values.
const (
	// k1 controls term frequency saturation.
	k1 = 1.5

	// b controls document length normalization.
	b = 0.75
)

// stopwords are common Portuguese function words excluded from scoring.
var stopwords = map[string]struct{}{
	"de": {}, "da": {}, "do": {}, "em": {}, "para": {}, "com": {}, "por": {},
	"que": {}, "e": {}, "a": {}, "o": {}, "as": {}, "os": {},
	"um": {}, "uma": {}, "uns": {}, "umas": {},
}

type document struct {
	companyID string
	tf        map[string]int
	length    int
}

// Index is an immutable BM25 index over a company snapshot. Safe for
// concurrent use after construction.
type Index struct {
	docs   []document
	idf    map[string]float64
	avgLen float64
}

// BuildIndex constructs a BM25 index where each company's document is the
// concatenation of its name, CAE codes, district and description.
func BuildIndex(companies []repository.Company) *Index {
	if len(companies) == 0 {
		return &Index{idf: make(map[string]float64)}
	}

	docs := make([]document, 0, len(companies))
	df := make(map[string]int)
	totalLen := 0

	for _, company := range companies {
		doc := buildDocument(company)
		docs = append(docs, doc)
		totalLen += doc.length

		for term := range doc.tf {
			df[term]++
		}
	}

	n := len(docs)
	avgLen := float64(totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1 // degenerate corpus of empty documents
	}

	// Lucene-style smoothed IDF: log((N+1)/(df+1)) + 1, always >= 1.
	idf := make(map[string]float64, len(df))
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &Index{docs: docs, idf: idf, avgLen: avgLen}
}

func buildDocument(company repository.Company) document {
	parts := make([]string, 0, len(company.CAECodes)+3)
	parts = append(parts, company.Name)
	parts = append(parts, company.CAECodes...)
	if company.District != "" {
		parts = append(parts, company.District)
	}
	if company.Description != "" {
		parts = append(parts, company.Description)
	}

	tokens := Tokenize(strings.Join(parts, " "))
	tf := make(map[string]int, len(tokens))
	for _, token := range tokens {
		tf[token]++
	}

	return document{companyID: company.ID, tf: tf, length: len(tokens)}
}

// Score computes a normalized BM25 score per company for the given query
// text. Scores are in [0,1], normalized by the maximum raw score in the
// current population. Companies with zero term overlap score exactly 0 and
// are present in the result — lexical absence is a valid low signal.
func (idx *Index) Score(query string) map[string]float64 {
	scores := make(map[string]float64, len(idx.docs))
	for _, doc := range idx.docs {
		scores[doc.companyID] = 0
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 || len(idx.docs) == 0 {
		return scores
	}

	// Deduplicate query terms; repeated query terms do not multiply weight.
	seen := make(map[string]struct{}, len(queryTerms))
	var maxScore float64

	for _, doc := range idx.docs {
		var score float64
		clear(seen)
		for _, term := range queryTerms {
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}

			tf, inDoc := doc.tf[term]
			if !inDoc {
				continue
			}
			termIDF := idx.idf[term]

			tfF := float64(tf)
			numerator := tfF * (k1 + 1)
			denominator := tfF + k1*(1.0-b+b*float64(doc.length)/idx.avgLen)
			score += termIDF * numerator / denominator
		}
		scores[doc.companyID] = score
		if score > maxScore {
			maxScore = score
		}
	}

	if maxScore > 0 {
		for id := range scores {
			scores[id] /= maxScore
		}
	}

	return scores
}

// QueryText assembles the lexical query document for an incentive from its
// title, description and structured criteria.
func QueryText(incentive repository.Incentive) string {
	parts := []string{incentive.Title}
	if incentive.Description != "" {
		parts = append(parts, incentive.Description)
	}
	parts = append(parts, incentive.Criteria.CAECodes...)
	if incentive.Criteria.GeoScope != "" {
		parts = append(parts, incentive.Criteria.GeoScope)
	}
	return strings.Join(parts, " ")
}

// Tokenize lowercases, strips punctuation, and drops stopwords and tokens
// shorter than three runes.
func Tokenize(text string) []string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if isWordRune(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}

	fields := strings.Fields(sb.String())
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) <= 2 {
			continue
		}
		if _, stop := stopwords[field]; stop {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		r > 127 // keep accented letters
}
