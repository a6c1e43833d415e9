package retriever

import (
	"sort"

	"github.com/hyperjump/tsunagu/internal/models"
)

// FusedResult is the best weighted score seen for one node.
type FusedResult struct {
	ID       string
	Score    float64
	RawScore float64
	Scorer   string
	Source   models.Source
}

// NormalizeWeights divides every source weight by the largest one. Sources without a weight
// count as 1. When every weight is zero all normalized weights are zero.
func NormalizeWeights(weights map[models.Source]float64) map[models.Source]float64 {
	out := make(map[models.Source]float64, len(models.AllSources))
	maxWeight := 0.0
	for _, s := range models.AllSources {
		w, ok := weights[s]
		if !ok {
			w = 1
		}
		out[s] = w
		if w > maxWeight {
			maxWeight = w
		}
	}
	for s, w := range out {
		if maxWeight > 0 {
			out[s] = w / maxWeight
		} else {
			out[s] = 0
		}
	}
	return out
}

// Fuse scales every scorer's hits by the normalized weight of the node's source and keeps the
// maximum per node. The result is sorted by descending score, then id.
func Fuse(byScorer map[string][]hit, sources map[string]models.Source, weights map[models.Source]float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult)

	// visit scorers in name order so ties between scorers resolve the same way every time
	names := make([]string, 0, len(byScorer))
	for name := range byScorer {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, h := range byScorer[name] {
			src, ok := sources[h.ID]
			if !ok {
				continue
			}
			fused := h.Score * weights[src]
			if cur, exists := scoreMap[h.ID]; exists && cur.Score >= fused {
				continue
			}
			scoreMap[h.ID] = &FusedResult{ID: h.ID, Score: fused, RawScore: h.Score, Scorer: name, Source: src}
		}
	}

	results := make([]*FusedResult, 0, len(scoreMap))
	for _, r := range scoreMap {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// codeKinds are the entity kinds the extraction engine produces.
var codeKinds = map[models.EntityKind]bool{
	models.EntityFunction:  true,
	models.EntityMethod:    true,
	models.EntityClass:     true,
	models.EntityInterface: true,
	models.EntityTypeDecl:  true,
	models.EntityComponent: true,
	models.EntityModule:    true,
	models.EntityImport:    true,
}

// SourceOf classifies a node into a corpus partition: rules are prevention, tasks are task,
// extracted code entities are code, and everything else is documentation.
func SourceOf(n models.Node) models.Source {
	switch n.EntityType.Kind() {
	case models.EntityRule:
		return models.SourcePrevention
	case models.EntityTask:
		return models.SourceTask
	}
	if n.Type == models.NodeTypeEntity &&
		(n.MetaString(models.MetaOrigin) == models.OriginAST || codeKinds[n.EntityType.Kind()]) {
		return models.SourceCode
	}
	return models.SourceDocumentation
}
