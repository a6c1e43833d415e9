package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tsunagu/internal/models"
)

type recordedQuery struct {
	query  string
	params map[string]any
}

func newRecordingMirror() (*Neo4jMirror, *[]recordedQuery) {
	var calls []recordedQuery
	m := &Neo4jMirror{}
	m.exec = func(_ context.Context, query string, params map[string]any) error {
		calls = append(calls, recordedQuery{query: query, params: params})
		return nil
	}
	return m, &calls
}

func TestNeo4jMirror_UpsertNode(t *testing.T) {
	m, calls := newRecordingMirror()
	n := models.NewNode("n1", "Auth Service", models.NodeTypeEntity, 0.9, time.Now())
	n.EntityType = models.OtherEntityType("Gateway")
	n.Metadata["category"] = "service"

	require.NoError(t, m.UpsertNode(context.Background(), &n))
	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, neo4jUpsertNodeQuery, got.query)
	assert.Equal(t, "Gateway", got.params["entity_type"])
	assert.Equal(t, `{"category":"service"}`, got.params["metadata"])
	assert.Equal(t, []string{}, got.params["sources"])
}

func TestNeo4jMirror_UpsertEdgeRejectsSelfLoop(t *testing.T) {
	m, calls := newRecordingMirror()
	err := m.UpsertEdge(context.Background(), &models.Edge{ID: "e", Source: "a", Target: "a"})
	assert.ErrorIs(t, err, models.ErrSelfLoop)
	assert.Empty(t, *calls)
}

func TestNeo4jMirror_Deletes(t *testing.T) {
	m, calls := newRecordingMirror()
	ctx := context.Background()
	require.NoError(t, m.DeleteNodes(ctx, nil))
	require.NoError(t, m.DeleteNodes(ctx, []string{"a", "b"}))
	require.NoError(t, m.DeleteEdges(ctx, []string{"e"}))
	require.Len(t, *calls, 2)
	assert.Equal(t, neo4jDeleteNodesQuery, (*calls)[0].query)
	assert.Equal(t, []string{"a", "b"}, (*calls)[0].params["ids"])
	assert.Equal(t, neo4jDeleteEdgesQuery, (*calls)[1].query)
}
