package graph

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteBackend(t *testing.T) *SQLiteBackend {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	backend, err := NewSQLiteBackend(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))

	t.Cleanup(func() { backend.Close(context.Background()) })
	return backend
}

func TestSQLiteBackend_CreateAndGetNode(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	err := b.CreateNode(ctx, Node{
		Label:      LabelTopic,
		ID:         "topic-1",
		Properties: map[string]any{"name": "graphs"},
	})
	require.NoError(t, err)

	node, err := b.GetNode(ctx, LabelTopic, "topic-1")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "graphs", node.Properties["name"])
}

func TestSQLiteBackend_GetNode_Missing(t *testing.T) {
	b := setupSQLiteBackend(t)
	node, err := b.GetNode(context.Background(), LabelTopic, "nope")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestSQLiteBackend_MergeNode(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	require.NoError(t, b.MergeNode(ctx, LabelTopic, "topic-1", map[string]any{"name": "graphs"}))
	require.NoError(t, b.MergeNode(ctx, LabelTopic, "topic-1", map[string]any{"depth": 2.0}))

	node, err := b.GetNode(ctx, LabelTopic, "topic-1")
	require.NoError(t, err)
	assert.Equal(t, "graphs", node.Properties["name"])
	assert.Equal(t, 2.0, node.Properties["depth"])
}

func TestSQLiteBackend_EdgesAndChildren(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	require.NoError(t, b.CreateNode(ctx, Node{Label: LabelTopic, ID: "root"}))
	require.NoError(t, b.CreateNode(ctx, Node{Label: LabelTopic, ID: "child"}))
	require.NoError(t, b.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "root", To: "child"}))

	children, err := b.GetChildren(ctx, LabelTopic, "root", EdgeParentOf, LabelTopic)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].ID)

	roots, err := b.GetRoots(ctx, LabelTopic, EdgeParentOf)
	require.NoError(t, err)
	ids := make([]string, 0, len(roots))
	for _, r := range roots {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "root")
	assert.NotContains(t, ids, "child")
}

func TestSQLiteBackend_IncrementEdgeProperty(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	require.NoError(t, b.CreateNode(ctx, Node{Label: LabelUser, ID: "user-1"}))
	require.NoError(t, b.CreateNode(ctx, Node{Label: LabelExploration, ID: "exp-1"}))

	require.NoError(t, b.IncrementEdgeProperty(ctx, EdgeExplored, "user-1", "exp-1", "count", 1))
	require.NoError(t, b.IncrementEdgeProperty(ctx, EdgeExplored, "user-1", "exp-1", "count", 2))

	edges, err := b.GetEdges(ctx, "user-1", EdgeExplored, DirOut)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 3.0, edges[0].Properties["count"])
}

func TestSQLiteBackend_WithTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	err := b.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := b.CreateNode(txCtx, Node{Label: LabelTopic, ID: "doomed"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	node, err := b.GetNode(ctx, LabelTopic, "doomed")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestSQLiteBackend_WithTransaction_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	err := b.WithTransaction(ctx, func(txCtx context.Context) error {
		return b.CreateNode(txCtx, Node{Label: LabelTopic, ID: "survivor"})
	})
	require.NoError(t, err)

	node, err := b.GetNode(ctx, LabelTopic, "survivor")
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestSQLiteBackend_Traverse_MatchesMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	nodes := []string{"a", "b", "c", "d"}
	for _, id := range nodes {
		require.NoError(t, b.CreateNode(ctx, Node{Label: LabelTopic, ID: id}))
	}
	require.NoError(t, b.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "a", To: "b"}))
	require.NoError(t, b.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "a", To: "c"}))
	require.NoError(t, b.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "b", To: "d"}))

	paths, err := b.Traverse(ctx, "a", EdgeParentOf, DirOut, 10)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestSQLiteBackend_ShortestPath(t *testing.T) {
	ctx := context.Background()
	b := setupSQLiteBackend(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.CreateNode(ctx, Node{Label: LabelTopic, ID: id}))
	}
	require.NoError(t, b.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "a", To: "b"}))
	require.NoError(t, b.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "b", To: "c"}))

	path, err := b.ShortestPath(ctx, "a", "c", EdgeParentOf)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Len(t, path.Nodes, 3)
}
