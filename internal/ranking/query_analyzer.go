package ranking

import (
	"regexp"
	"strings"
	"unicode"
)

var phraseRegex = regexp.MustCompile(`["']([^"']+)["']`)

// QueryAnalyzer analyzes retrieval queries into terms, phrases and negations.
type QueryAnalyzer struct{}

// NewQueryAnalyzer creates a new QueryAnalyzer.
func NewQueryAnalyzer() *QueryAnalyzer {
	return &QueryAnalyzer{}
}

// Analyze parses a query string and returns an AnalyzedQuery.
func (qa *QueryAnalyzer) Analyze(query string) *AnalyzedQuery {
	result := &AnalyzedQuery{
		Original:     query,
		Terms:        []string{},
		Phrases:      []string{},
		NegatedTerms: []string{},
	}

	result.HasWildcard = strings.ContainsAny(query, "*?")
	remaining := qa.extractPhrases(query, result)
	qa.extractTerms(remaining, result)
	result.QueryType = qa.classifyQuery(result)

	return result
}

// extractPhrases collects quoted phrases and returns the query with them removed.
func (qa *QueryAnalyzer) extractPhrases(query string, result *AnalyzedQuery) string {
	for _, match := range phraseRegex.FindAllStringSubmatch(query, -1) {
		if phrase := strings.TrimSpace(match[1]); phrase != "" {
			result.Phrases = append(result.Phrases, strings.ToLower(phrase))
		}
	}
	return phraseRegex.ReplaceAllString(query, " ")
}

func (qa *QueryAnalyzer) extractTerms(query string, result *AnalyzedQuery) {
	for _, word := range strings.Fields(query) {
		if strings.HasPrefix(word, "-") {
			if negated := qa.normalizeToken(strings.TrimPrefix(word, "-")); negated != "" {
				result.NegatedTerms = append(result.NegatedTerms, negated)
			}
			continue
		}

		// boolean operators carry no content
		if strings.EqualFold(word, "AND") || strings.EqualFold(word, "OR") || strings.EqualFold(word, "NOT") {
			continue
		}

		if normalized := qa.normalizeToken(word); normalized != "" {
			result.Terms = append(result.Terms, normalized)
		}
	}
}

// normalizeToken lowercases and trims edge punctuation, keeping '-' and '_'.
func (qa *QueryAnalyzer) normalizeToken(token string) string {
	token = strings.ToLower(token)
	return strings.TrimFunc(token, func(r rune) bool {
		return (unicode.IsPunct(r) || unicode.IsSymbol(r)) && r != '-' && r != '_'
	})
}

func (qa *QueryAnalyzer) classifyQuery(result *AnalyzedQuery) QueryType {
	switch {
	case result.HasWildcard:
		return QueryTypeWildcard
	case len(result.NegatedTerms) > 0:
		return QueryTypeBoolean
	case len(result.Phrases) > 0:
		return QueryTypePhrase
	case len(result.Terms) > 1:
		return QueryTypeMultiWord
	default:
		return QueryTypeSingleWord
	}
}

// TokenizeForMatching returns the unique terms plus the words of every phrase.
func (qa *QueryAnalyzer) TokenizeForMatching(analyzed *AnalyzedQuery) []string {
	seen := make(map[string]bool)
	tokens := make([]string, 0, len(analyzed.Terms)+len(analyzed.Phrases)*3)

	for _, term := range analyzed.Terms {
		if !seen[term] {
			tokens = append(tokens, term)
			seen[term] = true
		}
	}
	for _, phrase := range analyzed.Phrases {
		for _, word := range strings.Fields(phrase) {
			normalized := qa.normalizeToken(word)
			if normalized != "" && !seen[normalized] {
				tokens = append(tokens, normalized)
				seen[normalized] = true
			}
		}
	}

	return tokens
}

// AllTermsMatch checks if all query terms are found in the given text.
func AllTermsMatch(terms []string, text string) bool {
	if len(terms) == 0 {
		return false
	}
	return CountMatchingTerms(terms, text) == len(terms)
}

// CountMatchingTerms counts how many query terms are found in the text.
func CountMatchingTerms(terms []string, text string) int {
	count := 0
	textLower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(textLower, term) {
			count++
		}
	}
	return count
}
