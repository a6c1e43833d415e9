package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

const deletePageSize = 500

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

// NewBleveIndex creates or opens a Bleve index at path. If you change the index mapping,
// remove the index directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex creates an index that lives only in memory.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	entryMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so identifiers match as written.
	textFieldMapping.Analyzer = standard.Name
	entryMapping.AddFieldMappingsAt("content", textFieldMapping)
	entryMapping.AddFieldMappingsAt("title", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	entryMapping.AddFieldMappingsAt("id", keywordFieldMapping)
	entryMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	entryMapping.AddFieldMappingsAt("document_id", keywordFieldMapping)
	im.AddDocumentMapping("entry", entryMapping)
	im.DefaultType = "entry"
	im.DefaultMapping = entryMapping
	return im
}

// Index indexes an entry by id, replacing any previous entry with that id.
func (b *BleveIndex) Index(ctx context.Context, id string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("nil entry for %s", id)
	}
	return b.index.Index(id, entry)
}

// Search runs a match query and returns up to limit results.
// When opts is nil or no boost is set, a single match over title+content is used. Otherwise
// separate title and content queries are merged with additive scoring, a term coverage
// penalty, and a phrase proximity boost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	titleBoost := 1.0
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	kind := ""
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		kind = opts.Kind
	}

	if titleBoost <= 1.0 && phraseBoost <= 1.0 {
		return b.searchSingle(ctx, query, limit, fuzzyEnabled, fuzziness, kind)
	}
	return b.searchWithBoosts(ctx, query, limit, titleBoost, phraseBoost, fuzzyEnabled, fuzziness, kind)
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int, kind string) (map[string]hit, error) {
	if kind != "" {
		kq := bleve.NewTermQuery(kind)
		kq.SetField("kind")
		q = bleve.NewConjunctionQuery(q, kq)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = size
	req.Fields = []string{"document_id"}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(map[string]hit, len(res.Hits))
	for _, h := range res.Hits {
		docID, _ := h.Fields["document_id"].(string)
		out[h.ID] = hit{docID: docID, score: h.Score}
	}
	return out, nil
}

type hit struct {
	docID string
	score float64
}

func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit int, fuzzyEnabled bool, fuzziness int, kind string) ([]*Result, error) {
	var q blevequery.Query
	if fuzzyEnabled {
		q = buildFuzzyQuery(query, fuzziness, "")
	} else {
		q = bleve.NewMatchQuery(query)
	}
	hits, err := b.run(ctx, q, limit, kind)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(hits))
	for id, h := range hits {
		scores[id] = h.score
	}
	return topResults(scores, hits, limit), nil
}

// searchWithBoosts scores = (title*titleBoost + content) * coverage^2 * phraseBoost.
func (b *BleveIndex) searchWithBoosts(ctx context.Context, query string, limit int, titleBoost, phraseBoost float64, fuzzyEnabled bool, fuzziness int, kind string) ([]*Result, error) {
	// Request enough from each so merged top "limit" is correct (same entry can appear in both).
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)
	numTerms := len(terms)

	var titleQuery, contentQuery blevequery.Query
	if fuzzyEnabled {
		titleQuery = buildFuzzyQuery(query, fuzziness, "title")
		contentQuery = buildFuzzyQuery(query, fuzziness, "content")
	} else {
		tq := bleve.NewMatchQuery(query)
		tq.SetField("title")
		titleQuery = tq
		cq := bleve.NewMatchQuery(query)
		cq.SetField("content")
		contentQuery = cq
	}
	titleHits, err := b.run(ctx, titleQuery, reqSize, kind)
	if err != nil {
		return nil, fmt.Errorf("Bleve title search failed: %w", err)
	}
	contentHits, err := b.run(ctx, contentQuery, reqSize, kind)
	if err != nil {
		return nil, fmt.Errorf("Bleve content search failed: %w", err)
	}

	coverage := make(map[string]int)
	if numTerms > 1 {
		coverage = b.termCoverage(ctx, terms, reqSize, fuzzyEnabled, fuzziness, kind)
	}
	phrases := make(map[string]bool)
	if phraseBoost > 1.0 && numTerms > 1 {
		phrases = b.phraseMatches(ctx, query, reqSize, kind)
	}

	all := make(map[string]hit, len(titleHits)+len(contentHits))
	for id, h := range titleHits {
		all[id] = h
	}
	for id, h := range contentHits {
		all[id] = h
	}
	scores := make(map[string]float64, len(all))
	for id := range all {
		base := titleHits[id].score*titleBoost + contentHits[id].score
		multiplier := 1.0
		if numTerms > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(numTerms)
			multiplier = c * c
		}
		if phrases[id] {
			multiplier *= phraseBoost
		}
		scores[id] = base * multiplier
	}
	return topResults(scores, all, limit), nil
}

func topResults(scores map[string]float64, hits map[string]hit, limit int) []*Result {
	out := make([]*Result, 0, len(scores))
	for id, s := range scores {
		out = append(out, &Result{ID: id, DocumentID: hits[id].docID, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per term. An empty field searches
// all fields.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many unique query terms each entry matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int, fuzzyEnabled bool, fuzziness int, kind string) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var q blevequery.Query
		if fuzzyEnabled {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			q = fq
		} else {
			q = bleve.NewMatchQuery(term)
		}
		hits, err := b.run(ctx, q, reqSize, kind)
		if err != nil {
			continue
		}
		for id := range hits {
			coverage[id]++
		}
	}
	return coverage
}

// phraseMatches finds entries where the query appears as a phrase in title or content.
func (b *BleveIndex) phraseMatches(ctx context.Context, query string, reqSize int, kind string) map[string]bool {
	matches := make(map[string]bool)
	for _, field := range []string{"content", "title"} {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField(field)
		hits, err := b.run(ctx, pq, reqSize, kind)
		if err != nil {
			continue
		}
		for id := range hits {
			matches[id] = true
		}
	}
	return matches
}

// Delete removes an entry from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DeleteDocument removes every entry whose document_id is docID and returns how many.
func (b *BleveIndex) DeleteDocument(ctx context.Context, docID string) (int, error) {
	if docID == "" {
		return 0, nil
	}
	removed := 0
	for {
		q := bleve.NewTermQuery(docID)
		q.SetField("document_id")
		req := bleve.NewSearchRequest(q)
		req.Size = deletePageSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return removed, fmt.Errorf("failed to find entries for %s: %w", docID, err)
		}
		if len(res.Hits) == 0 {
			return removed, nil
		}
		batch := b.index.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return removed, fmt.Errorf("failed to delete entries for %s: %w", docID, err)
		}
		removed += len(res.Hits)
	}
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of entries in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
