package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/retriever"
	"github.com/hyperjump/tsunagu/internal/search"
)

const benchNodes = 1000

var kinds = []models.EntityKind{models.EntityClass, models.EntityFunction, models.EntityRule, models.EntityTask}

// benchStore builds a chain of entities, each linked to the next and to a hub every 50 nodes.
func benchStore(b *testing.B) *graph.Store {
	b.Helper()
	ctx := context.Background()
	s := graph.NewStore()
	if _, err := s.EnsureWorkspaceNode(ctx, "bench"); err != nil {
		b.Fatal(err)
	}
	now := time.Now()
	for i := 0; i < benchNodes; i++ {
		n := models.NewNode(fmt.Sprintf("entity:%d", i), fmt.Sprintf("Service%d handler", i), models.NodeTypeEntity, 0.9, now)
		n.EntityType = models.KnownEntityType(kinds[i%len(kinds)])
		n.Metadata[models.MetaDescription] = fmt.Sprintf("component %d of the billing pipeline", i)
		if _, err := s.UpsertNode(ctx, n); err != nil {
			b.Fatal(err)
		}
	}
	for i := 1; i < benchNodes; i++ {
		link := func(src, tgt int) {
			id := fmt.Sprintf("edge:%d-%d", src, tgt)
			e, err := models.NewEdge(id, models.EdgeDependsOn, fmt.Sprintf("entity:%d", src), fmt.Sprintf("entity:%d", tgt), 1, 0.8, now)
			if err != nil {
				b.Fatal(err)
			}
			if _, err := s.UpsertEdge(ctx, e); err != nil {
				b.Fatal(err)
			}
		}
		link(i-1, i)
		if hub := i - i%50; hub != i {
			link(hub, i)
		}
	}
	return s
}

func BenchmarkRetrieve(b *testing.B) {
	for _, strategy := range []models.Strategy{models.StrategyHybrid, models.StrategyKeyword, models.StrategyGraph} {
		b.Run(string(strategy), func(b *testing.B) {
			r := retriever.New(benchStore(b))
			ctx := context.Background()
			q := models.RetrieveQuery{Query: "Service500 billing", Strategy: strategy, MaxResults: 20}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := r.Retrieve(ctx, q); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearch(b *testing.B) {
	snap := benchStore(b).Snapshot()
	q := models.SearchQuery{Query: "servce42 handlr", Limit: 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := search.Search(snap.Nodes, snap.Edges, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSubgraph(b *testing.B) {
	s := benchStore(b)
	seeds := []string{"entity:0", "entity:500"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Subgraph(seeds, 3)
	}
}

func BenchmarkNormalizeWeights(b *testing.B) {
	weights := map[models.Source]float64{
		models.SourceCode:          2,
		models.SourceDocumentation: 1,
		models.SourcePrevention:    0.5,
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = retriever.NormalizeWeights(weights)
	}
}
