package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_CreateNode_CopiesProperties(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	props := map[string]any{"name": "graphs"}
	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: "t1", Properties: props}))

	props["name"] = "mutated"

	node, err := m.GetNode(ctx, LabelTopic, "t1")
	require.NoError(t, err)
	assert.Equal(t, "graphs", node.Properties["name"])
}

func TestMemoryBackend_MergeNode_PreservesUntouchedKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.MergeNode(ctx, LabelTopic, "t1", map[string]any{"name": "graphs"}))
	require.NoError(t, m.MergeNode(ctx, LabelTopic, "t1", map[string]any{"depth": 3.0}))

	node, err := m.GetNode(ctx, LabelTopic, "t1")
	require.NoError(t, err)
	assert.Equal(t, "graphs", node.Properties["name"])
	assert.Equal(t, 3.0, node.Properties["depth"])
}

func TestMemoryBackend_MergeEdge_ReusesExistingEdge(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.MergeEdge(ctx, Edge{Type: EdgeExplored, From: "u1", To: "e1", Properties: map[string]any{"count": 1.0}}))
	require.NoError(t, m.MergeEdge(ctx, Edge{Type: EdgeExplored, From: "u1", To: "e1", Properties: map[string]any{"count": 2.0}}))

	edges, err := m.GetEdges(ctx, "u1", EdgeExplored, DirOut)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 2.0, edges[0].Properties["count"])
}

func TestMemoryBackend_CreateEdge_AllowsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeExplored, From: "u1", To: "e1"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeExplored, From: "u1", To: "e1"}))

	edges, err := m.GetEdges(ctx, "u1", EdgeExplored, DirOut)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestMemoryBackend_IncrementEdgeProperty_CreatesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.IncrementEdgeProperty(ctx, EdgeExplored, "u1", "e1", "count", 5))

	edges, err := m.GetEdges(ctx, "u1", EdgeExplored, DirOut)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 5.0, edges[0].Properties["count"])
}

func TestMemoryBackend_GetRoots_ExcludesNodesWithIncomingEdge(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: "root"}))
	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: "child"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "root", To: "child"}))

	roots, err := m.GetRoots(ctx, LabelTopic, EdgeParentOf)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].ID)
}

func TestMemoryBackend_Traverse_SharesVisitedAcrossBranches(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	// a -> b -> d, a -> c -> d : d is reachable from both branches, but the
	// shared visited set means only the first branch to reach it keeps it.
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: id}))
	}
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "a", To: "b"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "a", To: "c"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "b", To: "d"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "c", To: "d"}))

	paths, err := m.Traverse(ctx, "a", EdgeParentOf, DirOut, 10)
	require.NoError(t, err)

	totalNodesVisited := 0
	for _, p := range paths {
		totalNodesVisited += len(p.Nodes) - 1
	}
	// d is counted exactly once across every path, never twice.
	dCount := 0
	for _, p := range paths {
		for _, n := range p.Nodes {
			if n.ID == "d" {
				dCount++
			}
		}
	}
	assert.Equal(t, 1, dCount)
}

func TestMemoryBackend_ShortestPath_TreatsEdgeAsUndirected(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: id}))
	}
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "b", To: "a"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeParentOf, From: "b", To: "c"}))

	// a and c have no directed path, only shared ancestor b: reachable only
	// because ShortestPath treats the edge type as undirected.
	path, err := m.ShortestPath(ctx, "a", "c", EdgeParentOf)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, []string{"a", "b", "c"}, nodeIDs(path.Nodes))
}

func TestMemoryBackend_ShortestPath_NoConnection(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: "a"}))
	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: "b"}))

	path, err := m.ShortestPath(ctx, "a", "b", EdgeParentOf)
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestMemoryBackend_AggregateOverEdge_MixesUnrelatedCollections(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelTopic, ID: "topic-1"}))
	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelUser, ID: "u1"}))
	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelUser, ID: "u2"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeExplored, From: "u1", To: "topic-1"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeExplored, From: "u2", To: "topic-1"}))

	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelExploration, ID: "exp1", Properties: map[string]any{"depth": 2.0}}))
	require.NoError(t, m.CreateNode(ctx, Node{Label: LabelExploration, ID: "exp2", Properties: map[string]any{"depth": 4.0}}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeInTopic, From: "exp1", To: "topic-1"}))
	require.NoError(t, m.CreateEdge(ctx, Edge{Type: EdgeInTopic, From: "exp2", To: "topic-1"}))

	metrics, err := m.AggregateOverEdge(ctx, LabelTopic, "topic-1", EdgeExplored, LabelUser)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.Count)
	assert.Equal(t, 4.0, metrics.Max)
	assert.Equal(t, 3.0, metrics.Avg)
	assert.Equal(t, 6.0, metrics.Sum)
}

func nodeIDs(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
