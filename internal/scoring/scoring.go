// Package scoring holds the text-matching primitives shared by the retriever and the
// in-memory search: exact, fuzzy, regex, and inverse hop distance. Every scorer returns a
// value in [0,1] and none of them fail.
package scoring

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/tsunagu/internal/models"
)

// Scores used by the exact and fuzzy scorers.
const (
	ExactMatch     = 1.0
	SubstringMatch = 0.8

	FuzzySubstring = 0.9
	FuzzyPrefix    = 0.7
	FuzzyFloor     = 0.3
)

// Field names reported as the matched field.
const (
	FieldLabel       = "label"
	FieldID          = "id"
	FieldDescription = "description"
)

// Func scores a query against one text.
type Func func(query, text string) float64

// Exact scores 1.0 for a case-insensitive equal match and 0.8 when the query is a substring.
func Exact(query, text string) float64 {
	q := normalize(query)
	t := normalize(text)
	if q == "" || t == "" {
		return 0
	}
	if q == t {
		return ExactMatch
	}
	if strings.Contains(t, q) {
		return SubstringMatch
	}
	return 0
}

// Fuzzy scores 0.9 when the query is a substring, 0.7 when every query word starts a word of
// the text, and otherwise the edit-distance similarity, which is dropped below 0.3.
func Fuzzy(query, text string) float64 {
	q := normalize(query)
	t := normalize(text)
	if q == "" || t == "" {
		return 0
	}
	if strings.Contains(t, q) {
		return FuzzySubstring
	}
	if prefixesWords(Words(query), Words(text)) {
		return FuzzyPrefix
	}
	sim := Similarity(q, t)
	if sim < FuzzyFloor {
		return 0
	}
	return sim
}

// Regex matches a compiled pattern. A nil pattern matches nothing.
func Regex(re *regexp.Regexp, text string) float64 {
	if re == nil || text == "" {
		return 0
	}
	if re.MatchString(text) {
		return ExactMatch
	}
	return 0
}

// CompileRegex compiles a case-insensitive pattern. An invalid pattern returns nil, which
// scores 0 everywhere.
func CompileRegex(pattern string) *regexp.Regexp {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re
}

// RegexFunc adapts a compiled pattern to Func; the query argument is ignored.
func RegexFunc(re *regexp.Regexp) Func {
	return func(_, text string) float64 { return Regex(re, text) }
}

// InverseHop scores a node found hops edges away from a match: 1 for the match itself,
// then 1/2, 1/3, and so on.
func InverseHop(hops int) float64 {
	if hops < 0 {
		return 0
	}
	return 1 / float64(hops+1)
}

// Node scores the label, id and description of n and returns the best score and the field it
// came from.
func Node(fn Func, query string, n models.Node) (float64, string) {
	best, field := 0.0, ""
	for _, f := range []struct {
		name string
		text string
	}{
		{FieldLabel, n.Label},
		{FieldID, n.ID},
		{FieldDescription, n.MetaString(models.MetaDescription)},
	} {
		if s := fn(query, f.text); s > best {
			best, field = s, f.name
		}
	}
	return best, field
}

// Words splits s into lowercase words on anything that is not a letter or digit, and on
// camelCase boundaries.
func Words(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

func prefixesWords(query, text []string) bool {
	if len(query) == 0 {
		return false
	}
	for _, q := range query {
		found := false
		for _, t := range text {
			if strings.HasPrefix(t, q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
