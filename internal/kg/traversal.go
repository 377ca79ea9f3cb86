package kg

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/explorekg/knowledge-graph/internal/errors"
	"github.com/explorekg/knowledge-graph/internal/graph"
)

// GetLineage returns the single longest BUILDS_ON ancestor chain starting
// at id, in traversal order. If BUILDS_ON ever forms a DAG with multiple
// parents, alternative ancestors are lost by design — see the Non-goals
// note on this exact behavior.
func (kg *KnowledgeGraph) GetLineage(ctx context.Context, id string) ([]graph.Node, error) {
	paths, err := kg.backend.Traverse(ctx, id, graph.EdgeBuildsOn, graph.DirOut, 0)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get lineage for %s", id)
	}

	var longest graph.Path
	for _, p := range paths {
		if len(p.Nodes) > len(longest.Nodes) {
			longest = p
		}
	}
	return longest.Nodes, nil
}

// GetDescendants returns every Exploration that builds on id, transitively,
// excluding id itself, in first-seen order across the traversed paths.
func (kg *KnowledgeGraph) GetDescendants(ctx context.Context, id string) ([]graph.Node, error) {
	paths, err := kg.backend.Traverse(ctx, id, graph.EdgeBuildsOn, graph.DirIn, 0)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get descendants of %s", id)
	}

	seen := make(map[string]bool)
	var out []graph.Node
	for _, p := range paths {
		for _, n := range p.Nodes {
			if n.ID == id || seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	return out, nil
}

// GetShortestPath delegates to the backend's undirected BFS over
// BUILDS_ON, returning an empty slice instead of nil when the endpoints
// are unconnected.
func (kg *KnowledgeGraph) GetShortestPath(ctx context.Context, fromID, toID string) ([]graph.Node, error) {
	path, err := kg.backend.ShortestPath(ctx, fromID, toID, graph.EdgeBuildsOn)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get shortest path %s -> %s", fromID, toID)
	}
	if path == nil {
		return []graph.Node{}, nil
	}
	return path.Nodes, nil
}

// TopicExplorations pairs one topic's explorations (authored by one user)
// with that topic's own info, fetched alongside it.
type TopicExplorations struct {
	TopicPath    string
	Topic        *graph.Node
	Explorations map[string]graph.Node
}

// GetExplorationsByUser groups every exploration address has authored by
// topic path, with "/" replaced by "|" in the returned map's keys. Topic
// info for each distinct topic is fetched concurrently — one read per
// topic rather than per exploration — since a user who has explored many
// topics would otherwise pay that latency serially.
func (kg *KnowledgeGraph) GetExplorationsByUser(ctx context.Context, address string) (map[string]TopicExplorations, error) {
	created, err := kg.backend.GetChildren(ctx, graph.LabelUser, address, graph.EdgeCreated, graph.LabelExploration)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get explorations by user %s", address)
	}

	byTopic := make(map[string]map[string]graph.Node)
	for _, exp := range created {
		topicPath, _ := exp.Properties["topic_path"].(string)
		if byTopic[topicPath] == nil {
			byTopic[topicPath] = make(map[string]graph.Node)
		}
		byTopic[topicPath][exp.ID] = exp
	}

	keys := make([]string, 0, len(byTopic))
	for topicPath := range byTopic {
		keys = append(keys, topicPath)
	}

	// Each goroutine below owns a distinct slot by index, so there is no
	// shared map to race on until the results are assembled after Wait.
	topics := make([]*graph.Node, len(keys))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, topicPath := range keys {
		i, topicPath := i, topicPath
		group.Go(func() error {
			info, err := kg.backend.GetNode(groupCtx, graph.LabelTopic, topicPath)
			if err != nil {
				return err
			}
			topics[i] = info
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, errors.DatabaseErrorf(err, "fetch topic info for explorations by user %s", address)
	}

	result := make(map[string]TopicExplorations, len(keys))
	for i, topicPath := range keys {
		result[keyFor(topicPath)] = TopicExplorations{
			TopicPath:    topicPath,
			Topic:        topics[i],
			Explorations: byTopic[topicPath],
		}
	}

	return result, nil
}

func keyFor(topicPath string) string {
	return strings.ReplaceAll(topicPath, "/", "|")
}
