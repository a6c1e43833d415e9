package enrichment

import (
	"sort"
	"time"

	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
)

// ToGraph maps enriched entities to entity nodes keyed by normalized name, plus edges from
// docID to each entity and from each entity to its relationship targets. Targets with no
// matching entity get a placeholder node so no edge dangles. Self-loops are never emitted.
// Entities sharing a name are merged with graph.MergeNodes.
func ToGraph(enriched []EnrichedEntity, docID string) ([]models.Node, []models.Edge) {
	return toGraphAt(enriched, docID, time.Now())
}

func toGraphAt(enriched []EnrichedEntity, docID string, now time.Time) ([]models.Node, []models.Edge) {
	nodes := make(map[string]models.Node)
	edges := make(map[string]models.Edge)

	addNode := func(n models.Node) {
		if prev, ok := nodes[n.ID]; ok {
			n = graph.MergeNodes(prev, n)
		}
		nodes[n.ID] = n
	}
	addEdge := func(typ models.EdgeType, src, tgt string, weight, conf float64, bidi bool, evidence []string) {
		if src == "" || tgt == "" || src == tgt {
			return
		}
		if bidi && src > tgt {
			src, tgt = tgt, src
		}
		id := fileid.EdgeID(string(typ), src, tgt)
		if prev, ok := edges[id]; ok {
			if conf > prev.Confidence {
				prev.Confidence = conf
			}
			if weight > prev.Weight {
				prev.Weight = weight
			}
			prev.Metadata["evidence"] = appendUnique(prev.Metadata["evidence"].([]string), evidence...)
			edges[id] = prev
			return
		}
		e, err := models.NewEdge(id, typ, src, tgt, weight, conf, now)
		if err != nil {
			return
		}
		e.Bidirectional = bidi
		e.Metadata = map[string]interface{}{"evidence": appendUnique(nil, evidence...)}
		edges[id] = e
	}

	for _, e := range enriched {
		if graph.NormalizeName(e.Name) == "" {
			continue
		}
		n := entityNode(e, docID, now)
		addNode(n)

		if docID != "" {
			switch e.Kind {
			case string(extraction.KindImport):
				addEdge(models.EdgeImports, docID, n.ID, 1, 1, false, nil)
			case string(extraction.KindCall), string(extraction.KindComponent):
				addEdge(models.EdgeMentions, docID, n.ID, 1, n.Confidence, false, nil)
			default:
				addEdge(models.EdgeContains, docID, n.ID, 1, n.Confidence, false, nil)
			}
		}
	}

	for _, e := range enriched {
		src := graph.EntityNodeID(e.Name)
		if graph.NormalizeName(e.Name) == "" {
			continue
		}
		for _, r := range e.Relationships {
			tgt := graph.EntityNodeID(r.Target)
			if _, ok := nodes[tgt]; !ok {
				p := models.NewNode(tgt, r.Target, models.NodeTypeEntity, r.Confidence, now)
				p.Metadata[models.MetaOrigin] = e.Origin
				if docID != "" {
					p.Sources = []string{docID}
				}
				addNode(p)
			}
			addEdge(r.Type, src, tgt, r.Confidence, r.Confidence, r.Type == models.EdgeCoOccurs, r.Evidence)
		}
	}

	outNodes := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		outNodes = append(outNodes, n)
	}
	sort.Slice(outNodes, func(i, j int) bool { return outNodes[i].ID < outNodes[j].ID })
	outEdges := make([]models.Edge, 0, len(edges))
	for _, e := range edges {
		outEdges = append(outEdges, e)
	}
	sort.Slice(outEdges, func(i, j int) bool { return outEdges[i].ID < outEdges[j].ID })
	return outNodes, outEdges
}

func entityNode(e EnrichedEntity, docID string, now time.Time) models.Node {
	n := models.NewNode(graph.EntityNodeID(e.Name), e.Name, models.NodeTypeEntity, e.StaticConfidence, now)
	n.EntityType = e.Type
	if docID != "" {
		n.Sources = []string{docID}
	}
	n.Metadata[models.MetaOrigin] = e.Origin
	n.Metadata[models.MetaCategory] = string(e.Category)
	if e.Kind != "" {
		n.Metadata[models.MetaKind] = e.Kind
	}
	if e.Location != nil {
		n.Metadata[models.MetaFilePath] = e.Location.FilePath
		n.Metadata[models.MetaLine] = e.Location.Line
	}
	if e.Description != "" {
		n.Metadata[models.MetaDescription] = e.Description
	}
	if e.Doc != nil {
		if len(e.Doc.Params) > 0 {
			n.Metadata["params"] = e.Doc.Params
		}
		if len(e.Doc.Throws) > 0 {
			n.Metadata["throws"] = e.Doc.Throws
		}
	}
	if e.Exported {
		n.Metadata["exported"] = true
	}
	return n
}
