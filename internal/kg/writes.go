package kg

import (
	"context"
	"strings"
	"time"

	"github.com/explorekg/knowledge-graph/internal/errors"
	"github.com/explorekg/knowledge-graph/internal/graph"
	"github.com/explorekg/knowledge-graph/internal/hashing"
)

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// TopicInput carries the mutable fields of a topic registration.
type TopicInput struct {
	Title       string
	Description string
}

// RegisterTopic merge-creates a Topic node at path and, if path is nested,
// merges a PARENT_OF edge from its parent. The parent Topic node is never
// auto-created — callers register ancestors first, or the edge simply
// points at a node that does not yet exist.
func (kg *KnowledgeGraph) RegisterTopic(ctx context.Context, path string, input TopicInput) error {
	trace := traceID()
	ts := now()

	err := kg.backend.MergeNode(ctx, graph.LabelTopic, path, map[string]any{
		"path":        path,
		"title":       input.Title,
		"description": input.Description,
		"created_at":  ts,
		"created_by":  kg.address,
	})
	if err != nil {
		kg.log().Error("register topic failed", "trace_id", trace, "path", path, "err", err)
		return errors.DatabaseErrorf(err, "merge topic node %s", path)
	}

	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		parentPath := path[:idx]
		if err := kg.backend.MergeEdge(ctx, graph.Edge{
			Type: graph.EdgeParentOf,
			From: parentPath,
			To:   path,
		}); err != nil {
			kg.log().Error("register topic parent edge failed", "trace_id", trace, "path", path, "err", err)
			return errors.DatabaseErrorf(err, "merge parent edge for topic %s", path)
		}
	}

	if err := kg.appendTxLog(ctx, "registerTopic", path, graph.LabelTopic, ts); err != nil {
		kg.log().Error("register topic txlog failed", "trace_id", trace, "path", path, "err", err)
		return errors.DatabaseErrorf(err, "append txlog for registerTopic %s", path)
	}

	kg.log().Info("registered topic", "trace_id", trace, "actor", kg.address, "path", path)
	return nil
}

// ExploreInput carries the fields of one exploration write.
type ExploreInput struct {
	TopicPath  string
	Title      string
	Content    string
	Summary    string
	Depth      int
	Tags       string
	Price      string
	GatewayURL string
}

// Explore appends a new, immutable Exploration node under TopicPath,
// authored by the bound actor. Two calls with identical input produce two
// distinct Exploration nodes — explorations are append-only, never merged.
func (kg *KnowledgeGraph) Explore(ctx context.Context, input ExploreInput) (string, error) {
	trace := traceID()
	ts := now()

	entryID := kg.ids.New()
	isGated := input.Price != "" && input.GatewayURL != ""
	contentHash := hashing.ContentHash(input.Content)

	if err := kg.backend.MergeNode(ctx, graph.LabelUser, kg.address, map[string]any{
		"address": kg.address,
	}); err != nil {
		return "", errors.DatabaseErrorf(err, "merge user node %s", kg.address)
	}

	props := map[string]any{
		"topic_path":   input.TopicPath,
		"title":        input.Title,
		"summary":      input.Summary,
		"depth":        float64(input.Depth),
		"tags":         input.Tags,
		"content_hash": contentHash,
		"created_at":   ts,
		"updated_at":   ts,
	}
	if isGated {
		props["content"] = nil
	} else {
		props["content"] = input.Content
	}
	if input.Price != "" {
		props["price"] = input.Price
	} else {
		props["price"] = nil
	}
	if input.GatewayURL != "" {
		props["gateway_url"] = input.GatewayURL
	} else {
		props["gateway_url"] = nil
	}

	if err := kg.backend.CreateNode(ctx, graph.Node{Label: graph.LabelExploration, ID: entryID, Properties: props}); err != nil {
		return "", errors.DatabaseErrorf(err, "create exploration node %s", entryID)
	}

	if err := kg.backend.CreateEdge(ctx, graph.Edge{Type: graph.EdgeCreated, From: kg.address, To: entryID}); err != nil {
		return "", errors.DatabaseErrorf(err, "create CREATED edge for exploration %s", entryID)
	}

	if err := kg.backend.CreateEdge(ctx, graph.Edge{Type: graph.EdgeInTopic, From: entryID, To: input.TopicPath}); err != nil {
		return "", errors.DatabaseErrorf(err, "create IN_TOPIC edge for exploration %s", entryID)
	}

	if err := kg.backend.IncrementEdgeProperty(ctx, graph.EdgeExplored, kg.address, input.TopicPath, "count", 1); err != nil {
		return "", errors.DatabaseErrorf(err, "increment EXPLORED count for %s/%s", kg.address, input.TopicPath)
	}

	for _, tag := range strings.Split(input.Tags, ",") {
		tag = strings.TrimSpace(tag)
		const prefix = "builds-on:"
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		parentID := strings.TrimSpace(strings.TrimPrefix(tag, prefix))
		if parentID == "" {
			continue
		}
		if err := kg.backend.CreateEdge(ctx, graph.Edge{Type: graph.EdgeBuildsOn, From: entryID, To: parentID}); err != nil {
			return "", errors.DatabaseErrorf(err, "create BUILDS_ON edge %s -> %s", entryID, parentID)
		}
	}

	if err := kg.appendTxLog(ctx, "explore", entryID, graph.LabelExploration, ts); err != nil {
		return "", errors.DatabaseErrorf(err, "append txlog for explore %s", entryID)
	}

	kg.log().Info("recorded exploration", "trace_id", trace, "actor", kg.address, "topic_path", input.TopicPath, "entry_id", entryID)
	return entryID, nil
}

// AccessResult is what Access returns for a successful lookup.
type AccessResult struct {
	Content string
	Paid    bool
}

// Access records a free access to an Exploration and returns its content,
// or the empty string if the exploration is gated. Payment integration,
// if any, is the caller's responsibility — the graph layer only records
// that access occurred.
func (kg *KnowledgeGraph) Access(ctx context.Context, topicPath, entryID string) (AccessResult, error) {
	trace := traceID()

	node, err := kg.backend.GetNode(ctx, graph.LabelExploration, entryID)
	if err != nil {
		return AccessResult{}, errors.DatabaseErrorf(err, "get exploration %s", entryID)
	}
	if node == nil {
		kg.log().Warn("access: exploration not found", "trace_id", trace, "entry_id", entryID)
		return AccessResult{}, errors.NotFoundErrorf("exploration %s not found", entryID).
			WithContext("topic_path", topicPath).WithContext("actor", kg.address)
	}

	if err := kg.backend.MergeEdge(ctx, graph.Edge{
		Type: graph.EdgePaidFor,
		From: kg.address,
		To:   entryID,
		Properties: map[string]any{
			"amount":      "0",
			"currency":    "FREE",
			"tx_hash":     "",
			"accessed_at": now(),
		},
	}); err != nil {
		return AccessResult{}, errors.DatabaseErrorf(err, "merge PAID_FOR edge for %s", entryID)
	}

	content, _ := node.Properties["content"].(string)
	kg.log().Info("recorded access", "trace_id", trace, "actor", kg.address, "entry_id", entryID, "topic_path", topicPath)
	return AccessResult{Content: content, Paid: false}, nil
}
