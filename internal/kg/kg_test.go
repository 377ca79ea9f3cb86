package kg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/explorekg/knowledge-graph/internal/graph"
)

func newTestGraph(address string) *KnowledgeGraph {
	return New(graph.NewMemoryBackend(), address, nil)
}

func TestRegisterTopic_NestedListing(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "ai", TopicInput{Title: "AI"}))
	require.NoError(t, g.RegisterTopic(ctx, "ai/transformers", TopicInput{Title: "Transformers"}))
	require.NoError(t, g.RegisterTopic(ctx, "ai/transformers/attention", TopicInput{Title: "Attention"}))

	subtopics, err := g.ListSubtopics(ctx, "ai")
	require.NoError(t, err)
	require.Len(t, subtopics, 1)
	assert.Equal(t, "ai/transformers", subtopics[0].ID)

	subtopics, err = g.ListSubtopics(ctx, "ai/transformers")
	require.NoError(t, err)
	require.Len(t, subtopics, 1)
	assert.Equal(t, "ai/transformers/attention", subtopics[0].ID)
}

func TestExplore_ContentHashMatches(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "ai/transformers/attention", TopicInput{Title: "Attention"}))

	entryID, err := g.Explore(ctx, ExploreInput{
		TopicPath: "ai/transformers/attention",
		Title:     "Paper A",
		Content:   "Content for Paper A",
		Summary:   "Summary of Paper A",
		Depth:     2,
		Tags:      "",
	})
	require.NoError(t, err)
	assert.Len(t, entryID, 20)

	node, err := g.backend.GetNode(ctx, graph.LabelExploration, entryID)
	require.NoError(t, err)
	require.NotNil(t, node)

	sum := sha256.Sum256([]byte("Content for Paper A"))
	expected := hex.EncodeToString(sum[:])
	assert.Equal(t, expected, node.Properties["content_hash"])
	assert.Len(t, node.Properties["content_hash"], 64)
}

func TestExplore_ExploredCountAccumulates(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "ai/transformers/attention", TopicInput{Title: "Attention"}))

	for i := 0; i < 2; i++ {
		_, err := g.Explore(ctx, ExploreInput{
			TopicPath: "ai/transformers/attention",
			Title:     "Paper",
			Content:   "some content",
			Summary:   "summary",
			Depth:     1,
		})
		require.NoError(t, err)
	}

	edges, err := g.backend.GetEdges(ctx, "ai/transformers/attention", graph.EdgeExplored, graph.DirIn)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 2.0, edges[0].Properties["count"])
}

func TestExplore_BuildsOnLineageAndDescendants(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "ai", TopicInput{Title: "AI"}))

	rootID, err := g.Explore(ctx, ExploreInput{TopicPath: "ai", Title: "Root", Content: "root content", Depth: 1})
	require.NoError(t, err)

	childID, err := g.Explore(ctx, ExploreInput{TopicPath: "ai", Title: "Child 1", Content: "child content", Depth: 2, Tags: "builds-on:" + rootID})
	require.NoError(t, err)

	grandchildID, err := g.Explore(ctx, ExploreInput{TopicPath: "ai", Title: "Grandchild", Content: "grandchild content", Depth: 3, Tags: "builds-on:" + childID})
	require.NoError(t, err)

	lineage, err := g.GetLineage(ctx, grandchildID)
	require.NoError(t, err)
	titles := titlesOf(lineage)
	assert.Contains(t, titles, "Grandchild")
	assert.Contains(t, titles, "Child 1")

	descendants, err := g.GetDescendants(ctx, rootID)
	require.NoError(t, err)
	require.Len(t, descendants, 2)
	descTitles := titlesOf(descendants)
	assert.ElementsMatch(t, []string{"Child 1", "Grandchild"}, descTitles)

	path, err := g.GetShortestPath(ctx, rootID, grandchildID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(path), 2)
	assert.Equal(t, rootID, path[0].ID)
	assert.Equal(t, grandchildID, path[len(path)-1].ID)

	isolated, err := g.Explore(ctx, ExploreInput{TopicPath: "ai", Title: "Isolated", Content: "isolated content", Depth: 1})
	require.NoError(t, err)

	empty, err := g.GetShortestPath(ctx, rootID, isolated)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func titlesOf(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		title, _ := n.Properties["title"].(string)
		out[i] = title
	}
	return out
}

func TestGetTopicStats_MixesDistinctExplorersAndDepths(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "topic-t", TopicInput{Title: "T"}))

	for _, depth := range []int{3, 4, 5} {
		_, err := g.Explore(ctx, ExploreInput{TopicPath: "topic-t", Title: "exp", Content: "c", Depth: depth})
		require.NoError(t, err)
	}

	stats, err := g.GetTopicStats(ctx, "topic-t")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExplorerCount)
	assert.Equal(t, 5.0, stats.MaxDepth)
	assert.Equal(t, 4.0, stats.AvgDepth)
}

func TestTakeSnapshot_AndTxLog(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "topic-a", TopicInput{Title: "A"}))
	_, err := g.Explore(ctx, ExploreInput{TopicPath: "topic-a", Title: "one", Content: "c1", Depth: 1})
	require.NoError(t, err)
	_, err = g.Explore(ctx, ExploreInput{TopicPath: "topic-a", Title: "two", Content: "c2", Depth: 1})
	require.NoError(t, err)

	preNodeCount, err := g.backend.NodeCount(ctx, "")
	require.NoError(t, err)
	preRelCount, err := g.backend.EdgeCount(ctx, "")
	require.NoError(t, err)

	result, err := g.TakeSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, preNodeCount, result.NodeCount)
	assert.Equal(t, preRelCount, result.RelCount)
	assert.Equal(t, 3, result.TxCount)

	postNodeCount, err := g.backend.NodeCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, preNodeCount+1, postNodeCount)

	postRelCount, err := g.backend.EdgeCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, preRelCount+result.TxCount, postRelCount)

	txLog, err := g.GetTxLog(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, txLog, 3)

	ops := make([]string, len(txLog))
	for i, e := range txLog {
		ops[i], _ = e.Properties["op"].(string)
	}
	assert.Equal(t, []string{"registerTopic", "explore", "explore"}, ops)
}

func TestVerifyIntegrity_AllValidWithoutGatedContent(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "topic-a", TopicInput{Title: "A"}))
	_, err := g.Explore(ctx, ExploreInput{TopicPath: "topic-a", Title: "one", Content: "c1", Depth: 1})
	require.NoError(t, err)

	report, err := g.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Total, report.Valid)
	assert.Empty(t, report.Invalid)
}

func TestAccess_GatedExplorationReturnsEmptyContent(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "topic-a", TopicInput{Title: "A"}))
	entryID, err := g.Explore(ctx, ExploreInput{
		TopicPath:  "topic-a",
		Title:      "gated",
		Content:    "secret content",
		Depth:      1,
		Price:      "5.00",
		GatewayURL: "https://pay.example.com",
	})
	require.NoError(t, err)

	result, err := g.Access(ctx, "topic-a", entryID)
	require.NoError(t, err)
	assert.Empty(t, result.Content)
	assert.False(t, result.Paid)
}

func TestAccess_NotFound(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	_, err := g.Access(ctx, "topic-a", "nonexistent-id")
	require.Error(t, err)
}

func TestGetExplorationsByUser_GroupsByTopicAndFetchesTopicInfo(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	require.NoError(t, g.RegisterTopic(ctx, "ai/transformers", TopicInput{Title: "Transformers"}))
	_, err := g.Explore(ctx, ExploreInput{TopicPath: "ai/transformers", Title: "one", Content: "c1", Depth: 1})
	require.NoError(t, err)

	grouped, err := g.GetExplorationsByUser(ctx, "0xTestUser")
	require.NoError(t, err)

	entry, ok := grouped["ai|transformers"]
	require.True(t, ok)
	assert.Len(t, entry.Explorations, 1)
	require.NotNil(t, entry.Topic)
	assert.Equal(t, "Transformers", entry.Topic.Properties["title"])
}

// A user exploring 2+ distinct topics launches 2+ concurrent goroutines in
// GetExplorationsByUser; run with -race to catch any reintroduced shared
// mutable state across them.
func TestGetExplorationsByUser_MultipleTopicsFetchConcurrentlyWithoutRace(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph("0xTestUser")

	topics := []string{"ai/transformers", "ai/diffusion", "databases/indexing", "networking/tcp"}
	for _, topicPath := range topics {
		require.NoError(t, g.RegisterTopic(ctx, topicPath, TopicInput{Title: topicPath}))
		_, err := g.Explore(ctx, ExploreInput{TopicPath: topicPath, Title: "one", Content: "c", Depth: 1})
		require.NoError(t, err)
	}

	grouped, err := g.GetExplorationsByUser(ctx, "0xTestUser")
	require.NoError(t, err)
	require.Len(t, grouped, len(topics))

	for _, topicPath := range topics {
		entry, ok := grouped[keyFor(topicPath)]
		require.True(t, ok, "missing entry for %s", topicPath)
		assert.Len(t, entry.Explorations, 1)
		require.NotNil(t, entry.Topic, "topic info not fetched for %s", topicPath)
		assert.Equal(t, topicPath, entry.Topic.Properties["title"])
	}
}
