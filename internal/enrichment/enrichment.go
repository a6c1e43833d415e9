// Package enrichment merges syntactic and discovered entities, attaches location, doc comment
// and category metadata, infers co-occurrence and reference relationships, and scores each
// entity. Everything here is a pure function of its inputs.
package enrichment

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

const (
	// CoOccurrenceWindow is the line distance within which two entities co-occur.
	CoOccurrenceWindow = 3

	baseConfidence   = 0.5
	docBonus         = 1.2
	relationBonus    = 1.1
	coOccurBase      = 0.5
	sameLineBonus    = 0.1
	referConfidence  = 0.6
	minReferNameSize = 3
)

// Relation is an outgoing relationship of an entity to another entity, by name.
type Relation struct {
	Type       models.EdgeType `json:"type"`
	Target     string          `json:"target"`
	Confidence float64         `json:"confidence"`
	Evidence   []string        `json:"evidence,omitempty"`
}

// RawEntity is an entity before enrichment, from either the extraction engine or discovery.
type RawEntity struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Type        models.EntityType `json:"type"`
	Kind        string            `json:"kind,omitempty"`
	Container   string            `json:"container,omitempty"`
	Exported    bool              `json:"exported,omitempty"`
	Line        int               `json:"line,omitempty"`
	EndLine     int               `json:"end_line,omitempty"`
	Confidence  float64           `json:"confidence"`
	Origin      string            `json:"origin"`
	Description string            `json:"description,omitempty"`
	Relations   []Relation        `json:"relations,omitempty"`
}

// Location points at the line an entity was found on. Inferred is set when the line came
// from a text search rather than the entity itself.
type Location struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Inferred bool   `json:"inferred,omitempty"`
}

// EnrichedEntity is a RawEntity plus everything Enrich derives.
type EnrichedEntity struct {
	RawEntity
	Location         *Location   `json:"location,omitempty"`
	Doc              *DocComment `json:"doc,omitempty"`
	Category         Category    `json:"category"`
	Relationships    []Relation  `json:"relationships"`
	StaticConfidence float64     `json:"static_confidence"`
}

// FromExtraction converts an extraction result. Flattened relationships are attached to the
// declaring entity named by their source; file-level ones are left to ToGraph.
func FromExtraction(res *extraction.Result) []RawEntity {
	if res == nil {
		return nil
	}
	out := make([]RawEntity, 0, len(res.Entities))
	declared := make(map[string]int)
	for _, e := range res.Entities {
		out = append(out, RawEntity{
			ID:         e.ID,
			Name:       e.Name,
			Type:       e.Kind.EntityType(),
			Kind:       string(e.Kind),
			Container:  e.Container,
			Exported:   e.Exported,
			Line:       e.Line,
			EndLine:    e.EndLine,
			Confidence: e.Confidence,
			Origin:     models.OriginAST,
		})
		if e.Kind == extraction.KindCall || e.Kind == extraction.KindImport || e.Kind == extraction.KindComponent {
			continue
		}
		if _, ok := declared[e.Name]; !ok {
			declared[e.Name] = len(out) - 1
		}
	}
	for _, r := range res.Relationships {
		idx, ok := declared[r.Source]
		if r.Source == "" || !ok {
			continue
		}
		out[idx].Relations = append(out[idx].Relations, Relation{
			Type:       r.Type,
			Target:     r.Target,
			Confidence: 1.0,
			Evidence:   []string{"syntax: " + string(r.Type) + " at line " + strconv.Itoa(r.Line)},
		})
	}
	return out
}

// FromDiscovery converts discovery output. Relationships are attached to their source entity.
func FromDiscovery(entities []models.DiscoveredEntity, rels []models.DiscoveredRelationship) []RawEntity {
	out := make([]RawEntity, 0, len(entities))
	byName := make(map[string]int, len(entities))
	for _, e := range entities {
		key := graph.NormalizeName(e.Name)
		if key == "" {
			continue
		}
		if _, dup := byName[key]; dup {
			continue
		}
		byName[key] = len(out)
		out = append(out, RawEntity{
			Name:        strings.TrimSpace(e.Name),
			Type:        models.ParseEntityType(e.Type),
			Confidence:  e.Confidence,
			Origin:      models.OriginDiscovery,
			Description: e.Description,
		})
	}
	for _, r := range rels {
		idx, ok := byName[graph.NormalizeName(r.Source)]
		if !ok {
			continue
		}
		rel := Relation{Type: models.EdgeType(r.Type), Target: strings.TrimSpace(r.Target), Confidence: r.Confidence}
		if r.Description != "" {
			rel.Evidence = []string{r.Description}
		}
		out[idx].Relations = append(out[idx].Relations, rel)
	}
	return out
}

// Enrich derives location, doc comment, category, inferred relationships and static
// confidence for each entity. Output order follows input order.
func Enrich(entities []RawEntity, sourceText, filePath string) []EnrichedEntity {
	lines := strings.Split(sourceText, "\n")
	out := make([]EnrichedEntity, len(entities))
	for i, raw := range entities {
		raw.Name = strings.TrimSpace(raw.Name)
		raw.Relations = append([]Relation(nil), raw.Relations...)
		e := EnrichedEntity{RawEntity: raw}
		switch {
		case raw.Line > 0:
			e.Location = &Location{FilePath: filePath, Line: raw.Line}
		default:
			if line := findMention(lines, raw.Name); line > 0 {
				e.Location = &Location{FilePath: filePath, Line: line, Inferred: true}
			}
		}
		if raw.Line > 0 {
			e.Doc = parseDocComment(lines, raw.Line)
		}
		out[i] = e
	}

	callers := countCallers(out)
	for i := range out {
		out[i].Category = inferCategory(out[i], filePath, callers[graph.NormalizeName(out[i].Name)])
	}

	inferred := coOccurrences(out)
	for i, rels := range referencesIn(out, lines) {
		inferred[i] = append(inferred[i], rels...)
	}
	for i := range out {
		rels := mergeRelations(append(out[i].Relations, inferred[i]...), out[i].Name)
		out[i].Relationships = rels
		out[i].StaticConfidence = staticConfidence(out[i])
		if out[i].Description == "" && out[i].Doc != nil {
			out[i].Description = out[i].Doc.Description
		}
	}
	return out
}

func staticConfidence(e EnrichedEntity) float64 {
	c := e.Confidence
	if c <= 0 {
		c = baseConfidence
	}
	if e.Doc != nil {
		c *= docBonus
	}
	if len(e.Relationships) > 0 {
		c *= relationBonus
	}
	return utils.Clamp01(c)
}

// line returns the effective line of e, or 0.
func (e EnrichedEntity) line() int {
	if e.Location != nil {
		return e.Location.Line
	}
	return 0
}

// mergeRelations drops self references and collapses duplicates by (type, target), keeping
// the highest confidence and the union of evidence. The result is sorted for determinism.
func mergeRelations(in []Relation, self string) []Relation {
	selfKey := graph.NormalizeName(self)
	type key struct {
		typ    models.EdgeType
		target string
	}
	idx := make(map[key]int)
	out := make([]Relation, 0, len(in))
	for _, r := range in {
		tk := graph.NormalizeName(r.Target)
		if tk == "" || tk == selfKey {
			continue
		}
		r.Confidence = utils.Clamp01(r.Confidence)
		k := key{r.Type, tk}
		if i, ok := idx[k]; ok {
			if r.Confidence > out[i].Confidence {
				out[i].Confidence = r.Confidence
			}
			out[i].Evidence = appendUnique(out[i].Evidence, r.Evidence...)
			continue
		}
		idx[k] = len(out)
		r.Evidence = appendUnique(nil, r.Evidence...)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return graph.NormalizeName(out[i].Target) < graph.NormalizeName(out[j].Target)
	})
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, d := range dst {
			if d == it {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, it)
		}
	}
	return dst
}

// findMention returns the first 1-based line mentioning name as a whole word, or 0.
func findMention(lines []string, name string) int {
	re := wordPattern(name)
	if re == nil {
		return 0
	}
	for i, l := range lines {
		if re.MatchString(l) {
			return i + 1
		}
	}
	return 0
}

// wordPattern matches name case-insensitively on word boundaries, with any whitespace run
// between its words.
func wordPattern(name string) *regexp.Regexp {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return nil
	}
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(`(?i)(^|\W)` + strings.Join(fields, `\s+`) + `($|\W)`)
	if err != nil {
		return nil
	}
	return re
}
