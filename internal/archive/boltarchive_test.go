package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/explorekg/knowledge-graph/internal/graph"
)

func TestArchive_ExportAndLoadTxLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	entries := []graph.Node{
		{Label: graph.LabelTxLog, ID: "tx-1", Properties: map[string]any{"op": "registerTopic"}},
		{Label: graph.LabelTxLog, ID: "tx-2", Properties: map[string]any{"op": "explore"}},
	}

	require.NoError(t, a.ExportTxLog(ctx, entries, graph.DefaultBatchConfig()))

	loaded, err := a.LoadTxLog()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	ops := map[string]bool{}
	for _, e := range loaded {
		op, _ := e.Properties["op"].(string)
		ops[op] = true
	}
	assert.True(t, ops["registerTopic"])
	assert.True(t, ops["explore"])
}

func TestArchive_ExportAndLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	snap := graph.Node{Label: graph.LabelSnapshot, ID: "snap-1", Properties: map[string]any{"node_count": 4.0}}
	require.NoError(t, a.ExportSnapshot(ctx, snap))

	loaded, err := a.LoadSnapshots()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "snap-1", loaded[0].ID)
}

func TestArchive_ExportTxLog_BatchesAcrossMultipleTransactions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	batchConfig := graph.BatchConfig{EdgeBatchSize: 2, TopicBatchSize: 2, UserBatchSize: 2, ExplorationBatchSize: 2}

	var entries []graph.Node
	for i := 0; i < 7; i++ {
		entries = append(entries, graph.Node{Label: graph.LabelTxLog, ID: string(rune('a' + i))})
	}

	require.NoError(t, a.ExportTxLog(ctx, entries, batchConfig))

	loaded, err := a.LoadTxLog()
	require.NoError(t, err)
	assert.Len(t, loaded, 7)
}
