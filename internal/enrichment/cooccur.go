package enrichment

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
)

// coOccurrences links entities whose lines are at most CoOccurrenceWindow apart. Imports are
// skipped since they cluster at the top of a file.
func coOccurrences(entities []EnrichedEntity) [][]Relation {
	out := make([][]Relation, len(entities))
	order := make([]int, 0, len(entities))
	for i, e := range entities {
		if e.line() > 0 && e.Kind != string(extraction.KindImport) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return entities[order[a]].line() < entities[order[b]].line() })

	for a := 0; a < len(order); a++ {
		ea := entities[order[a]]
		for b := a + 1; b < len(order); b++ {
			eb := entities[order[b]]
			dist := eb.line() - ea.line()
			if dist > CoOccurrenceWindow {
				break
			}
			if graph.NormalizeName(ea.Name) == graph.NormalizeName(eb.Name) {
				continue
			}
			conf := coOccurBase
			var evidence []string
			if dist == 0 {
				conf += sameLineBonus
				evidence = append(evidence, fmt.Sprintf("same line %d", ea.line()))
			} else {
				evidence = append(evidence, fmt.Sprintf("lines %d and %d are within %d lines", ea.line(), eb.line(), CoOccurrenceWindow))
			}
			if ea.Container != "" && ea.Container == eb.Container {
				evidence = append(evidence, "both in "+ea.Container)
			}
			out[order[a]] = append(out[order[a]], Relation{Type: models.EdgeCoOccurs, Target: eb.Name, Confidence: conf, Evidence: evidence})
			out[order[b]] = append(out[order[b]], Relation{Type: models.EdgeCoOccurs, Target: ea.Name, Confidence: conf, Evidence: evidence})
		}
	}
	return out
}

// referencesIn adds refers_to when another entity's name appears in the lines an entity spans
// (its declaration through EndLine, or the co-occurrence window when EndLine is unknown).
func referencesIn(entities []EnrichedEntity, lines []string) [][]Relation {
	out := make([][]Relation, len(entities))
	patterns := make([]*regexp.Regexp, len(entities))
	for i, e := range entities {
		if len([]rune(e.Name)) >= minReferNameSize && e.Kind != string(extraction.KindCall) {
			patterns[i] = wordPattern(e.Name)
		}
	}
	for i, e := range entities {
		start := e.line()
		if start <= 0 || e.Kind == string(extraction.KindImport) || e.Kind == string(extraction.KindCall) {
			continue
		}
		end := e.EndLine
		if end < start {
			end = start + CoOccurrenceWindow
		}
		if end > len(lines) {
			end = len(lines)
		}
		self := graph.NormalizeName(e.Name)
		for j, other := range entities {
			if i == j || patterns[j] == nil || graph.NormalizeName(other.Name) == self {
				continue
			}
			for ln := start; ln <= end; ln++ {
				if patterns[j].MatchString(lines[ln-1]) {
					out[i] = append(out[i], Relation{
						Type:       models.EdgeRefersTo,
						Target:     other.Name,
						Confidence: referConfidence,
						Evidence:   []string{fmt.Sprintf("line %d mentions %q", ln, other.Name)},
					})
					break
				}
			}
		}
	}
	return out
}
