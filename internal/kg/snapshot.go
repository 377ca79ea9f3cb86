package kg

import (
	"context"
	"sort"

	"github.com/explorekg/knowledge-graph/internal/errors"
	"github.com/explorekg/knowledge-graph/internal/graph"
	"github.com/explorekg/knowledge-graph/internal/hashing"
)

// SnapshotResult is the point-in-time accounting TakeSnapshot returns. The
// counts reflect graph state immediately before the Snapshot node and its
// INCLUDES edges are inserted — they are not counted in themselves.
type SnapshotResult struct {
	ID        string
	NodeCount int
	RelCount  int
	TxCount   int
}

// TakeSnapshot records node_count, rel_count, and every existing TxLog as
// of now, then persists a Snapshot node with an INCLUDES edge to each.
func (kg *KnowledgeGraph) TakeSnapshot(ctx context.Context) (SnapshotResult, error) {
	nodeCount, err := kg.backend.NodeCount(ctx, "")
	if err != nil {
		return SnapshotResult{}, errors.DatabaseErrorf(err, "count nodes for snapshot")
	}
	relCount, err := kg.backend.EdgeCount(ctx, "")
	if err != nil {
		return SnapshotResult{}, errors.DatabaseErrorf(err, "count edges for snapshot")
	}
	txLogs, err := kg.backend.FindNodes(ctx, graph.LabelTxLog, nil)
	if err != nil {
		return SnapshotResult{}, errors.DatabaseErrorf(err, "find txlog entries for snapshot")
	}

	snapshotID := kg.ids.New()
	if err := kg.backend.CreateNode(ctx, graph.Node{
		Label: graph.LabelSnapshot,
		ID:    snapshotID,
		Properties: map[string]any{
			"created_at": now(),
			"node_count": float64(nodeCount),
			"rel_count":  float64(relCount),
			"tx_count":   float64(len(txLogs)),
		},
	}); err != nil {
		return SnapshotResult{}, errors.DatabaseErrorf(err, "create snapshot node %s", snapshotID)
	}

	for _, tx := range txLogs {
		if err := kg.backend.CreateEdge(ctx, graph.Edge{Type: graph.EdgeIncludes, From: snapshotID, To: tx.ID}); err != nil {
			return SnapshotResult{}, errors.DatabaseErrorf(err, "create INCLUDES edge for snapshot %s", snapshotID)
		}
	}

	kg.log().Info("took snapshot", "snapshot_id", snapshotID, "node_count", nodeCount, "rel_count", relCount, "tx_count", len(txLogs))
	return SnapshotResult{ID: snapshotID, NodeCount: nodeCount, RelCount: relCount, TxCount: len(txLogs)}, nil
}

// GetTxLog returns TxLog entries with timestamp >= since (when since is
// non-empty), sorted ascending by timestamp, truncated to limit (when
// limit > 0).
func (kg *KnowledgeGraph) GetTxLog(ctx context.Context, since string, limit int) ([]graph.Node, error) {
	entries, err := kg.backend.FindNodes(ctx, graph.LabelTxLog, nil)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get txlog")
	}

	filtered := entries[:0:0]
	for _, e := range entries {
		ts, _ := e.Properties["timestamp"].(string)
		if since != "" && ts < since {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		ti, _ := filtered[i].Properties["timestamp"].(string)
		tj, _ := filtered[j].Properties["timestamp"].(string)
		return ti < tj
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// IntegrityReport is what VerifyIntegrity returns.
type IntegrityReport struct {
	Total   int
	Valid   int
	Invalid []string
}

// VerifyIntegrity recomputes the content hash of every non-gated
// Exploration and compares it against the stored content_hash. Gated
// explorations (content == nil) and explorations with no stored hash
// count as valid — their content is not available to re-hash.
func (kg *KnowledgeGraph) VerifyIntegrity(ctx context.Context) (IntegrityReport, error) {
	explorations, err := kg.backend.FindNodes(ctx, graph.LabelExploration, nil)
	if err != nil {
		return IntegrityReport{}, errors.DatabaseErrorf(err, "verify integrity")
	}

	report := IntegrityReport{Total: len(explorations)}
	for _, exp := range explorations {
		content, hasContent := exp.Properties["content"].(string)
		storedHash, hasHash := exp.Properties["content_hash"].(string)

		if !hasContent || !hasHash {
			report.Valid++
			continue
		}
		if hashing.ContentHash(content) == storedHash {
			report.Valid++
			continue
		}
		report.Invalid = append(report.Invalid, exp.ID)
	}
	return report, nil
}
