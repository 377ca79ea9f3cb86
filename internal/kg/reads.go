package kg

import (
	"context"

	"github.com/explorekg/knowledge-graph/internal/errors"
	"github.com/explorekg/knowledge-graph/internal/graph"
)

// ListTopics returns every Topic with no incoming PARENT_OF edge — the
// roots of the topic forest.
func (kg *KnowledgeGraph) ListTopics(ctx context.Context) ([]graph.Node, error) {
	roots, err := kg.backend.GetRoots(ctx, graph.LabelTopic, graph.EdgeParentOf)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list topics")
	}
	return roots, nil
}

// ListSubtopics returns the direct children of parentPath.
func (kg *KnowledgeGraph) ListSubtopics(ctx context.Context, parentPath string) ([]graph.Node, error) {
	children, err := kg.backend.GetChildren(ctx, graph.LabelTopic, parentPath, graph.EdgeParentOf, graph.LabelTopic)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list subtopics of %s", parentPath)
	}
	return children, nil
}

// GetTopicInfo returns the Topic node at path, or nil if it does not exist.
func (kg *KnowledgeGraph) GetTopicInfo(ctx context.Context, path string) (*graph.Node, error) {
	node, err := kg.backend.GetNode(ctx, graph.LabelTopic, path)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get topic info %s", path)
	}
	return node, nil
}

// GetExplorations returns the explorations address authored under
// topicPath, keyed by entry id, or nil if address has authored nothing
// there.
func (kg *KnowledgeGraph) GetExplorations(ctx context.Context, address, topicPath string) (map[string]graph.Node, error) {
	created, err := kg.backend.GetChildren(ctx, graph.LabelUser, address, graph.EdgeCreated, graph.LabelExploration)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get explorations for %s", address)
	}

	var out map[string]graph.Node
	for _, exp := range created {
		if exp.Properties["topic_path"] != topicPath {
			continue
		}
		if out == nil {
			out = make(map[string]graph.Node)
		}
		out[exp.ID] = exp
	}
	return out, nil
}

// GetExplorers returns the Users with at least one EXPLORED edge into
// topicPath.
func (kg *KnowledgeGraph) GetExplorers(ctx context.Context, topicPath string) ([]graph.Node, error) {
	edges, err := kg.backend.GetEdges(ctx, topicPath, graph.EdgeExplored, graph.DirIn)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get explorers of %s", topicPath)
	}

	out := make([]graph.Node, 0, len(edges))
	for _, e := range edges {
		user, err := kg.backend.GetNode(ctx, graph.LabelUser, e.From)
		if err != nil {
			return nil, errors.DatabaseErrorf(err, "get user %s", e.From)
		}
		if user != nil {
			out = append(out, *user)
		}
	}
	return out, nil
}

// TopicStats mirrors the shape getTopicStats is documented to return:
// the number of distinct explorers, mixed with depth statistics of the
// explorations living in that topic — the mixing is intentional, see
// graph.AggregateOverEdge.
type TopicStats struct {
	ExplorerCount int
	MaxDepth      float64
	AvgDepth      float64
}

// GetTopicStats delegates to the backend's aggregateOverEdge.
func (kg *KnowledgeGraph) GetTopicStats(ctx context.Context, topicPath string) (TopicStats, error) {
	metrics, err := kg.backend.AggregateOverEdge(ctx, graph.LabelTopic, topicPath, graph.EdgeExplored, graph.LabelUser)
	if err != nil {
		return TopicStats{}, errors.DatabaseErrorf(err, "get topic stats for %s", topicPath)
	}
	return TopicStats{
		ExplorerCount: metrics.Count,
		MaxDepth:      metrics.Max,
		AvgDepth:      metrics.Avg,
	}, nil
}

// GetFrontierMap returns per-child-topic statistics. When parentPath is
// non-empty it delegates to aggregateGrouped over parentPath's direct
// children; otherwise it iterates every root topic and calls
// GetTopicStats on each.
func (kg *KnowledgeGraph) GetFrontierMap(ctx context.Context, parentPath string) (map[string]TopicStats, error) {
	out := make(map[string]TopicStats)

	if parentPath != "" {
		grouped, err := kg.backend.AggregateGrouped(ctx, graph.LabelTopic, parentPath, graph.EdgeParentOf, graph.LabelTopic, graph.EdgeInTopic, graph.LabelExploration)
		if err != nil {
			return nil, errors.DatabaseErrorf(err, "get frontier map for %s", parentPath)
		}
		for _, g := range grouped {
			out[g.Child.ID] = TopicStats{
				ExplorerCount: g.CountDistinct,
				MaxDepth:      g.Max,
				AvgDepth:      g.Avg,
			}
		}
		return out, nil
	}

	roots, err := kg.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		stats, err := kg.GetTopicStats(ctx, root.ID)
		if err != nil {
			return nil, err
		}
		out[root.ID] = stats
	}
	return out, nil
}
