// Package kg implements the knowledge graph domain layer: a stateless
// façade bound to one graph.Backend and one actor address. It translates
// domain operations into backend calls, enforces the append-only
// invariant for explorations, writes a transaction log entry for every
// mutating operation, and exposes the read, traversal, snapshot, and
// integrity queries built on top of the backend contract.
package kg

import (
	"context"

	"github.com/google/uuid"

	"github.com/explorekg/knowledge-graph/internal/graph"
	"github.com/explorekg/knowledge-graph/internal/ids"
	"github.com/explorekg/knowledge-graph/internal/logging"
)

// KnowledgeGraph is bound to one backend and one actor identity for its
// lifetime. It performs no locking of its own — the domain is
// single-writer by design; concurrent writers must be serialized
// externally.
type KnowledgeGraph struct {
	backend graph.Backend
	address string
	logger  *logging.Logger
	ids     *ids.Generator
}

// New constructs a KnowledgeGraph bound to backend, acting as address. A
// nil logger falls back to the package-level global logger.
func New(backend graph.Backend, address string, logger *logging.Logger) *KnowledgeGraph {
	return &KnowledgeGraph{
		backend: backend,
		address: address,
		logger:  logger,
		ids:     ids.NewGenerator(),
	}
}

func (kg *KnowledgeGraph) log() *logging.Logger {
	if kg.logger != nil {
		return kg.logger
	}
	return logging.With("component", "kg")
}

// traceID mints a correlation id for one call into the domain layer,
// distinct from the PushId ids minted for domain entities.
func traceID() string {
	return uuid.New().String()
}

// appendTxLog writes the universal transaction-log entry every mutating
// operation produces, exactly one per call.
func (kg *KnowledgeGraph) appendTxLog(ctx context.Context, op, targetID, targetType string, now string) error {
	entryID := kg.ids.New()
	return kg.backend.CreateNode(ctx, graph.Node{
		Label: graph.LabelTxLog,
		ID:    entryID,
		Properties: map[string]any{
			"op":          op,
			"actor":       kg.address,
			"target_id":   targetID,
			"target_type": targetType,
			"timestamp":   now,
		},
	})
}
