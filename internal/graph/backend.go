// Package graph defines the backend-agnostic graph contract the knowledge
// graph domain layer is built on, plus the backends that implement it.
package graph

import "context"

// Node labels and edge types form the closed vocabulary the domain layer
// writes and reads. Backends do not validate against this list themselves;
// the domain layer is the enforcement point.
const (
	LabelTopic       = "Topic"
	LabelUser        = "User"
	LabelExploration = "Exploration"
	LabelTxLog       = "TxLog"
	LabelSnapshot    = "Snapshot"
)

const (
	EdgeParentOf = "PARENT_OF"
	EdgeCreated  = "CREATED"
	EdgeInTopic  = "IN_TOPIC"
	EdgeExplored = "EXPLORED"
	EdgeBuildsOn = "BUILDS_ON"
	EdgePaidFor  = "PAID_FOR"
	EdgeIncludes = "INCLUDES"
)

// Direction selects which side of a node's edges a query follows.
type Direction string

const (
	DirOut Direction = "out"
	DirIn  Direction = "in"
)

// Node is a labeled record keyed by (Label, ID).
type Node struct {
	Label      string
	ID         string
	Properties map[string]any
}

// Edge is a typed, directed relationship between two node ids.
type Edge struct {
	Type       string
	From       string
	To         string
	Properties map[string]any
}

// Path is an ordered walk produced by Traverse or ShortestPath. Nodes[0] is
// always the start node; len(Edges) == len(Nodes)-1.
type Path struct {
	Nodes []Node
	Edges []Edge
}

// AggregateMetrics is the result of aggregateOverEdge: a count of distinct
// source nodes mixed with depth statistics of leaves reached through a
// second edge type. The mixing is intentional — see getTopicStats.
type AggregateMetrics struct {
	Count int
	Max   float64
	Avg   float64
	Sum   float64
}

// GroupedAggregate pairs one child of a parent node with the metrics
// aggregateGrouped computed for it.
type GroupedAggregate struct {
	Child         Node
	CountDistinct int
	Max           float64
	Avg           float64
}

// Backend is the abstract store of labeled nodes and typed directed edges
// the knowledge graph domain layer is written against. Every method takes a
// context so a concrete backend can apply timeouts, cancellation, or
// request tracing without changing the contract; the contract itself does
// not require parallelism, only that one call never blocks on another
// call's completion.
//
// Read operations on absent keys return the zero value (nil slice, nil
// node) rather than an error. Write operations return an error only for
// backend-internal failures (I/O, connectivity, a failed transaction); the
// domain layer never catches these, it only logs and propagates them.
type Backend interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	// WithTransaction runs fn to completion with at-most-once semantics for
	// backends that support atomic multi-statement commits. Backends
	// without real transactions run fn directly and return its error.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	CreateNode(ctx context.Context, node Node) error
	MergeNode(ctx context.Context, label, id string, properties map[string]any) error
	CreateEdge(ctx context.Context, edge Edge) error
	MergeEdge(ctx context.Context, edge Edge) error
	IncrementEdgeProperty(ctx context.Context, edgeType, from, to, property string, delta float64) error

	GetNode(ctx context.Context, label, id string) (*Node, error)
	FindNodes(ctx context.Context, label string, filter map[string]any) ([]Node, error)
	GetChildren(ctx context.Context, parentLabel, parentID, edgeType, childLabel string) ([]Node, error)
	GetRoots(ctx context.Context, label, incomingEdgeType string) ([]Node, error)
	GetEdges(ctx context.Context, nodeID, edgeType string, direction Direction) ([]Edge, error)
	NodeCount(ctx context.Context, label string) (int, error)
	EdgeCount(ctx context.Context, edgeType string) (int, error)

	AggregateOverEdge(ctx context.Context, targetLabel, targetID, edgeType, sourceLabel string) (AggregateMetrics, error)
	AggregateGrouped(ctx context.Context, parentLabel, parentID, parentToChildEdge, childLabel, childToLeafEdge, leafLabel string) ([]GroupedAggregate, error)

	Traverse(ctx context.Context, startID, edgeType string, direction Direction, maxDepth int) ([]Path, error)
	ShortestPath(ctx context.Context, fromID, toID, edgeType string) (*Path, error)
}
