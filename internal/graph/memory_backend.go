package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryBackend is the required reference implementation of Backend: a
// volatile, fully in-memory store. It keeps three structures — a primary
// node map, an insertion-ordered edge slice, and an edge index keyed
// "out:{from}:{type}" / "in:{to}:{type}" — so every neighbor lookup is O(1)
// amortized regardless of graph size. All reads and writes defensively copy
// property maps so callers cannot mutate stored state by retaining a
// reference to what they passed in or got back.
type MemoryBackend struct {
	mu sync.Mutex

	nodes map[nodeKey]Node
	edges []Edge
	index map[string][]int // "dir:id:type" -> indices into edges
}

type nodeKey struct {
	label string
	id    string
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes: make(map[nodeKey]Node),
		index: make(map[string][]int),
	}
}

func (m *MemoryBackend) Initialize(ctx context.Context) error { return nil }

// Close discards all state. MemoryBackend is volatile by design.
func (m *MemoryBackend) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[nodeKey]Node)
	m.edges = nil
	m.index = make(map[string][]int)
	return nil
}

// WithTransaction has no real transactional backing in memory; it is a
// pass-through that runs fn under the backend's own lock-free call path.
func (m *MemoryBackend) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func copyProps(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (m *MemoryBackend) CreateNode(ctx context.Context, node Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeKey{node.Label, node.ID}] = Node{
		Label:      node.Label,
		ID:         node.ID,
		Properties: copyProps(node.Properties),
	}
	return nil
}

func (m *MemoryBackend) MergeNode(ctx context.Context, label, id string, properties map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nodeKey{label, id}
	existing, ok := m.nodes[key]
	if !ok {
		m.nodes[key] = Node{Label: label, ID: id, Properties: copyProps(properties)}
		return nil
	}
	merged := copyProps(existing.Properties)
	if merged == nil {
		merged = make(map[string]any)
	}
	for k, v := range properties {
		merged[k] = v
	}
	existing.Properties = merged
	m.nodes[key] = existing
	return nil
}

func edgeIndexKey(dir Direction, id, edgeType string) string {
	return fmt.Sprintf("%s:%s:%s", dir, id, edgeType)
}

func (m *MemoryBackend) appendEdge(edge Edge) {
	i := len(m.edges)
	m.edges = append(m.edges, Edge{
		Type:       edge.Type,
		From:       edge.From,
		To:         edge.To,
		Properties: copyProps(edge.Properties),
	})
	m.index[edgeIndexKey(DirOut, edge.From, edge.Type)] = append(m.index[edgeIndexKey(DirOut, edge.From, edge.Type)], i)
	m.index[edgeIndexKey(DirIn, edge.To, edge.Type)] = append(m.index[edgeIndexKey(DirIn, edge.To, edge.Type)], i)
}

// CreateEdge always appends a new edge, even if a structurally identical
// one already exists.
func (m *MemoryBackend) CreateEdge(ctx context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEdge(edge)
	return nil
}

func (m *MemoryBackend) findEdgeIndex(edgeType, from, to string) int {
	for _, i := range m.index[edgeIndexKey(DirOut, from, edgeType)] {
		if m.edges[i].To == to {
			return i
		}
	}
	return -1
}

func (m *MemoryBackend) MergeEdge(ctx context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.findEdgeIndex(edge.Type, edge.From, edge.To); i >= 0 {
		merged := copyProps(m.edges[i].Properties)
		if merged == nil {
			merged = make(map[string]any)
		}
		for k, v := range edge.Properties {
			merged[k] = v
		}
		m.edges[i].Properties = merged
		return nil
	}
	m.appendEdge(edge)
	return nil
}

func (m *MemoryBackend) IncrementEdgeProperty(ctx context.Context, edgeType, from, to, property string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.findEdgeIndex(edgeType, from, to); i >= 0 {
		props := copyProps(m.edges[i].Properties)
		if props == nil {
			props = make(map[string]any)
		}
		props[property] = toFloat(props[property]) + delta
		m.edges[i].Properties = props
		return nil
	}
	m.appendEdge(Edge{Type: edgeType, From: from, To: to, Properties: map[string]any{property: delta}})
	return nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func (m *MemoryBackend) GetNode(ctx context.Context, label, id string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeKey{label, id}]
	if !ok {
		return nil, nil
	}
	out := Node{Label: n.Label, ID: n.ID, Properties: copyProps(n.Properties)}
	return &out, nil
}

func (m *MemoryBackend) FindNodes(ctx context.Context, label string, filter map[string]any) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Node
	for key, n := range m.nodes {
		if key.label != label {
			continue
		}
		if matchesFilter(n.Properties, filter) {
			out = append(out, Node{Label: n.Label, ID: n.ID, Properties: copyProps(n.Properties)})
		}
	}
	return out, nil
}

func matchesFilter(props map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		if got, ok := props[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func (m *MemoryBackend) GetChildren(ctx context.Context, parentLabel, parentID, edgeType, childLabel string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Node
	for _, i := range m.index[edgeIndexKey(DirOut, parentID, edgeType)] {
		to := m.edges[i].To
		if n, ok := m.nodes[nodeKey{childLabel, to}]; ok {
			out = append(out, Node{Label: n.Label, ID: n.ID, Properties: copyProps(n.Properties)})
		}
	}
	return out, nil
}

func (m *MemoryBackend) GetRoots(ctx context.Context, label, incomingEdgeType string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Node
	for key, n := range m.nodes {
		if key.label != label {
			continue
		}
		if len(m.index[edgeIndexKey(DirIn, n.ID, incomingEdgeType)]) == 0 {
			out = append(out, Node{Label: n.Label, ID: n.ID, Properties: copyProps(n.Properties)})
		}
	}
	return out, nil
}

func (m *MemoryBackend) GetEdges(ctx context.Context, nodeID, edgeType string, direction Direction) ([]Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Edge
	for _, i := range m.index[edgeIndexKey(direction, nodeID, edgeType)] {
		e := m.edges[i]
		out = append(out, Edge{Type: e.Type, From: e.From, To: e.To, Properties: copyProps(e.Properties)})
	}
	return out, nil
}

func (m *MemoryBackend) NodeCount(ctx context.Context, label string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if label == "" {
		return len(m.nodes), nil
	}
	count := 0
	for key := range m.nodes {
		if key.label == label {
			count++
		}
	}
	return count, nil
}

func (m *MemoryBackend) EdgeCount(ctx context.Context, edgeType string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if edgeType == "" {
		return len(m.edges), nil
	}
	count := 0
	for _, e := range m.edges {
		if e.Type == edgeType {
			count++
		}
	}
	return count, nil
}

// AggregateOverEdge identifies distinct source nodes via incoming edges of
// edgeType on the target, and separately collects the "depth" property of
// every node reached via an incoming IN_TOPIC edge on the same target. The
// two collections are unrelated except for sharing a target node — this
// mirrors getTopicStats, which wants "how many users explored this topic"
// and "what do the explorations in this topic look like" in one call.
func (m *MemoryBackend) AggregateOverEdge(ctx context.Context, targetLabel, targetID, edgeType, sourceLabel string) (AggregateMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sources := make(map[string]struct{})
	for _, i := range m.index[edgeIndexKey(DirIn, targetID, edgeType)] {
		from := m.edges[i].From
		if n, ok := m.nodes[nodeKey{sourceLabel, from}]; ok {
			sources[n.ID] = struct{}{}
		}
	}

	var depths []float64
	for _, i := range m.index[edgeIndexKey(DirIn, targetID, EdgeInTopic)] {
		from := m.edges[i].From
		if n, ok := m.nodes[nodeKey{LabelExploration, from}]; ok {
			depths = append(depths, toFloat(n.Properties["depth"]))
		}
	}

	return AggregateMetrics{
		Count: len(sources),
		Max:   maxOf(depths),
		Avg:   round2(avgOf(depths)),
		Sum:   sumOf(depths),
	}, nil
}

// AggregateGrouped computes, for each child of parent reached via
// parentToChildEdge, the number of distinct incoming EXPLORED edges on the
// child plus max/avg of the "depth" property of leaves reached via an
// incoming childToLeafEdge on the child.
func (m *MemoryBackend) AggregateGrouped(ctx context.Context, parentLabel, parentID, parentToChildEdge, childLabel, childToLeafEdge, leafLabel string) ([]GroupedAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []GroupedAggregate
	for _, i := range m.index[edgeIndexKey(DirOut, parentID, parentToChildEdge)] {
		childID := m.edges[i].To
		child, ok := m.nodes[nodeKey{childLabel, childID}]
		if !ok {
			continue
		}

		countDistinct := len(m.index[edgeIndexKey(DirIn, childID, EdgeExplored)])

		var depths []float64
		for _, j := range m.index[edgeIndexKey(DirIn, childID, childToLeafEdge)] {
			leafID := m.edges[j].From
			if leaf, ok := m.nodes[nodeKey{leafLabel, leafID}]; ok {
				depths = append(depths, toFloat(leaf.Properties["depth"]))
			}
		}

		out = append(out, GroupedAggregate{
			Child:         Node{Label: child.Label, ID: child.ID, Properties: copyProps(child.Properties)},
			CountDistinct: countDistinct,
			Max:           maxOf(depths),
			Avg:           round2(avgOf(depths)),
		})
	}
	return out, nil
}

func maxOf(vs []float64) float64 {
	m := 0.0
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

func sumOf(vs []float64) float64 {
	s := 0.0
	for _, v := range vs {
		s += v
	}
	return s
}

func avgOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return sumOf(vs) / float64(len(vs))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Traverse enumerates all acyclic simple paths from startID following
// edges of edgeType in direction, depth-first. visited is shared across
// sibling branches deliberately: once a node has been placed in a returned
// path it is never revisited by another branch, so the result is the
// longest chain per reachable node rather than every combinatorial path.
func (m *MemoryBackend) Traverse(ctx context.Context, startID, edgeType string, direction Direction, maxDepth int) ([]Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, label := m.lookupAny(startID)
	if label == "" {
		return nil, nil
	}

	visited := map[string]bool{startID: true}
	var paths []Path
	m.dfs(start, edgeType, direction, maxDepth, 0, visited, Path{Nodes: []Node{start}}, &paths)
	return paths, nil
}

func (m *MemoryBackend) lookupAny(id string) (Node, string) {
	for key, n := range m.nodes {
		if key.id == id {
			return Node{Label: n.Label, ID: n.ID, Properties: copyProps(n.Properties)}, key.label
		}
	}
	return Node{}, ""
}

func (m *MemoryBackend) dfs(current Node, edgeType string, direction Direction, maxDepth, depth int, visited map[string]bool, path Path, out *[]Path) {
	if maxDepth > 0 && depth >= maxDepth {
		*out = append(*out, clonePath(path))
		return
	}

	extended := false
	for _, i := range m.index[edgeIndexKey(direction, current.ID, edgeType)] {
		e := m.edges[i]
		nextID := e.To
		if direction == DirIn {
			nextID = e.From
		}
		if visited[nextID] {
			continue
		}
		next, _ := m.lookupAny(nextID)
		if next.ID == "" {
			continue
		}
		visited[nextID] = true
		extended = true

		nextPath := Path{
			Nodes: append(append([]Node{}, path.Nodes...), next),
			Edges: append(append([]Edge{}, path.Edges...), e),
		}
		m.dfs(next, edgeType, direction, maxDepth, depth+1, visited, nextPath, out)
	}

	if !extended {
		*out = append(*out, clonePath(path))
	}
}

func clonePath(p Path) Path {
	nodes := make([]Node, len(p.Nodes))
	for i, n := range p.Nodes {
		nodes[i] = Node{Label: n.Label, ID: n.ID, Properties: copyProps(n.Properties)}
	}
	edges := make([]Edge, len(p.Edges))
	for i, e := range p.Edges {
		edges[i] = Edge{Type: e.Type, From: e.From, To: e.To, Properties: copyProps(e.Properties)}
	}
	return Path{Nodes: nodes, Edges: edges}
}

// ShortestPath runs a breadth-first search over edges of edgeType treated
// as undirected, returning the path with the fewest edges or nil if
// fromID and toID are not connected. fromID is never itself a valid
// result — the returned path always has at least one edge.
func (m *MemoryBackend) ShortestPath(ctx context.Context, fromID, toID string, edgeType string) (*Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fromID == toID {
		return nil, nil
	}

	type frame struct {
		id   string
		path Path
	}

	start, _ := m.lookupAny(fromID)
	if start.ID == "" {
		return nil, nil
	}

	visited := map[string]bool{fromID: true}
	queue := []frame{{id: fromID, path: Path{Nodes: []Node{start}}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		neighbors := m.undirectedNeighbors(cur.id, edgeType)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].id < neighbors[j].id })

		for _, nb := range neighbors {
			if visited[nb.id] {
				continue
			}
			visited[nb.id] = true
			node, _ := m.lookupAny(nb.id)
			if node.ID == "" {
				continue
			}
			nextPath := Path{
				Nodes: append(append([]Node{}, cur.path.Nodes...), node),
				Edges: append(append([]Edge{}, cur.path.Edges...), nb.edge),
			}
			if nb.id == toID {
				result := clonePath(nextPath)
				return &result, nil
			}
			queue = append(queue, frame{id: nb.id, path: nextPath})
		}
	}

	return nil, nil
}

type neighbor struct {
	id   string
	edge Edge
}

func (m *MemoryBackend) undirectedNeighbors(id, edgeType string) []neighbor {
	var out []neighbor
	for _, i := range m.index[edgeIndexKey(DirOut, id, edgeType)] {
		e := m.edges[i]
		out = append(out, neighbor{id: e.To, edge: e})
	}
	for _, i := range m.index[edgeIndexKey(DirIn, id, edgeType)] {
		e := m.edges[i]
		out = append(out, neighbor{id: e.From, edge: e})
	}
	return out
}
