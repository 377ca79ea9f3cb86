package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"
)

// Neo4jBackend implements Backend against a real Neo4j instance. Node
// labels and edge types map directly onto Neo4j labels and relationship
// types; every node additionally carries an "id" property since Backend
// identifies nodes by (label, id) but edges reference endpoints by id
// alone. Writes go through CypherBuilder so every value is parameterized;
// a shared rate.Limiter bounds how fast this backend issues queries,
// independent of how many goroutines call into it concurrently.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	limiter  *rate.Limiter
}

// NewNeo4jBackend connects to uri and verifies connectivity before
// returning. ratePerSecond bounds the query rate this backend issues; pass
// 0 to disable limiting.
func NewNeo4jBackend(ctx context.Context, uri, username, password, database string, ratePerSecond float64) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}

	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	return &Neo4jBackend{driver: driver, database: database, limiter: limiter}, nil
}

func (n *Neo4jBackend) throttle(ctx context.Context) error {
	if n.limiter == nil {
		return nil
	}
	return n.limiter.Wait(ctx)
}

// Initialize creates a uniqueness constraint on id for every known label,
// so MergeNode and edge lookups by id stay index-backed as the graph
// grows.
func (n *Neo4jBackend) Initialize(ctx context.Context) error {
	for _, label := range []string{LabelTopic, LabelUser, LabelExploration, LabelTxLog, LabelSnapshot} {
		query := fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", label)
		if _, err := n.run(ctx, "index_creation", query, nil); err != nil {
			return fmt.Errorf("create constraint for %s: %w", label, err)
		}
	}
	return nil
}

func (n *Neo4jBackend) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// WithTransaction bounds fn with the rate limiter and runs it directly.
// Neo4jBackend's own writes are each individually atomic (autocommit via
// ExecuteQuery); it does not wrap an arbitrary sequence of Backend calls
// inside one Neo4j transaction, since fn operates through the same
// context-scoped Backend interface rather than a transaction handle.
func (n *Neo4jBackend) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := n.throttle(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// run executes query through a session scoped to operation's
// TransactionConfig (timeout and Neo4j-visible metadata), routing through
// ExecuteWrite or ExecuteRead depending on what DefaultTransactionConfigs
// says about the operation.
func (n *Neo4jBackend) run(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error) {
	if err := n.throttle(ctx); err != nil {
		return nil, err
	}

	cfg := GetConfigForOperation(operation)
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	}

	var raw any
	var err error
	if isWriteOperation(cfg) {
		raw, err = session.ExecuteWrite(ctx, work, cfg.AsNeo4jConfig()...)
	} else {
		raw, err = session.ExecuteRead(ctx, work, cfg.AsNeo4jConfig()...)
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	records, _ := raw.([]*neo4j.Record)
	return records, nil
}

func isWriteOperation(cfg TransactionConfig) bool {
	kind, _ := cfg.Metadata["type"].(string)
	return kind == "write"
}

func (n *Neo4jBackend) CreateNode(ctx context.Context, node Node) error {
	builder := NewCypherBuilder()
	query, err := builder.BuildSetNode(node.Label, node.ID, node.Properties)
	if err != nil {
		return err
	}
	_, err = n.run(ctx, "register_topic", query, builder.Params())
	return err
}

func (n *Neo4jBackend) MergeNode(ctx context.Context, label, id string, properties map[string]any) error {
	builder := NewCypherBuilder()
	query, err := builder.BuildMergeNode(label, id, properties)
	if err != nil {
		return err
	}
	_, err = n.run(ctx, "register_topic", query, builder.Params())
	return err
}

func (n *Neo4jBackend) CreateEdge(ctx context.Context, edge Edge) error {
	builder := NewCypherBuilder()
	query, err := builder.BuildCreateEdge(edge.From, edge.To, edge.Type, edge.Properties)
	if err != nil {
		return err
	}
	_, err = n.run(ctx, "explore", query, builder.Params())
	return err
}

func (n *Neo4jBackend) MergeEdge(ctx context.Context, edge Edge) error {
	builder := NewCypherBuilder()
	query, err := builder.BuildMergeEdge(edge.From, edge.To, edge.Type, edge.Properties)
	if err != nil {
		return err
	}
	_, err = n.run(ctx, "explore", query, builder.Params())
	return err
}

func (n *Neo4jBackend) IncrementEdgeProperty(ctx context.Context, edgeType, from, to, property string, delta float64) error {
	builder := NewCypherBuilder()
	query, err := builder.BuildIncrementEdgeProperty(from, to, edgeType, property, delta)
	if err != nil {
		return err
	}
	_, err = n.run(ctx, "access", query, builder.Params())
	return err
}

func (n *Neo4jBackend) GetNode(ctx context.Context, label, id string) (*Node, error) {
	if !isValidIdentifier(label) {
		return nil, fmt.Errorf("invalid node label: %s", label)
	}
	query := fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n", label)
	records, err := n.run(ctx, "read_query", query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return recordToNode(records[0], "n", label)
}

func (n *Neo4jBackend) FindNodes(ctx context.Context, label string, filter map[string]any) ([]Node, error) {
	if !isValidIdentifier(label) {
		return nil, fmt.Errorf("invalid node label: %s", label)
	}
	params := map[string]any{}
	where := ""
	if len(filter) > 0 {
		clauses := ""
		i := 0
		for k, v := range filter {
			if !isValidIdentifier(k) {
				return nil, fmt.Errorf("invalid filter key: %s", k)
			}
			if i > 0 {
				clauses += " AND "
			}
			pname := fmt.Sprintf("f%d", i)
			clauses += fmt.Sprintf("n.%s = $%s", k, pname)
			params[pname] = v
			i++
		}
		where = " WHERE " + clauses
	}
	query := fmt.Sprintf("MATCH (n:%s)%s RETURN n", label, where)
	records, err := n.run(ctx, "read_query", query, params)
	if err != nil {
		return nil, err
	}
	return recordsToNodes(records, "n", label)
}

func (n *Neo4jBackend) GetChildren(ctx context.Context, parentLabel, parentID, edgeType, childLabel string) ([]Node, error) {
	if !isValidIdentifier(parentLabel) || !isValidIdentifier(edgeType) || !isValidIdentifier(childLabel) {
		return nil, fmt.Errorf("invalid identifier in GetChildren")
	}
	query := fmt.Sprintf("MATCH (p:%s {id: $id})-[:%s]->(c:%s) RETURN c", parentLabel, edgeType, childLabel)
	records, err := n.run(ctx, "read_query", query, map[string]any{"id": parentID})
	if err != nil {
		return nil, err
	}
	return recordsToNodes(records, "c", childLabel)
}

func (n *Neo4jBackend) GetRoots(ctx context.Context, label, incomingEdgeType string) ([]Node, error) {
	if !isValidIdentifier(label) || !isValidIdentifier(incomingEdgeType) {
		return nil, fmt.Errorf("invalid identifier in GetRoots")
	}
	query := fmt.Sprintf("MATCH (n:%s) WHERE NOT ( ()-[:%s]->(n) ) RETURN n", label, incomingEdgeType)
	records, err := n.run(ctx, "read_query", query, nil)
	if err != nil {
		return nil, err
	}
	return recordsToNodes(records, "n", label)
}

func (n *Neo4jBackend) GetEdges(ctx context.Context, nodeID, edgeType string, direction Direction) ([]Edge, error) {
	if !isValidIdentifier(edgeType) {
		return nil, fmt.Errorf("invalid edge type: %s", edgeType)
	}
	var query string
	if direction == DirOut {
		query = fmt.Sprintf("MATCH (n {id: $id})-[r:%s]->(m) RETURN r, m.id AS otherID", edgeType)
	} else {
		query = fmt.Sprintf("MATCH (n {id: $id})<-[r:%s]-(m) RETURN r, m.id AS otherID", edgeType)
	}
	records, err := n.run(ctx, "read_query", query, map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}

	out := make([]Edge, 0, len(records))
	for _, rec := range records {
		relVal, _ := rec.Get("r")
		otherVal, _ := rec.Get("otherID")
		rel, ok := relVal.(neo4j.Relationship)
		if !ok {
			continue
		}
		other, _ := otherVal.(string)
		from, to := nodeID, other
		if direction == DirIn {
			from, to = other, nodeID
		}
		out = append(out, Edge{Type: edgeType, From: from, To: to, Properties: rel.Props})
	}
	return out, nil
}

func (n *Neo4jBackend) NodeCount(ctx context.Context, label string) (int, error) {
	var query string
	if label == "" {
		query = "MATCH (n) RETURN count(n) AS c"
	} else {
		if !isValidIdentifier(label) {
			return 0, fmt.Errorf("invalid node label: %s", label)
		}
		query = fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label)
	}
	records, err := n.run(ctx, "read_query", query, nil)
	if err != nil {
		return 0, err
	}
	return countFromRecords(records), nil
}

func (n *Neo4jBackend) EdgeCount(ctx context.Context, edgeType string) (int, error) {
	var query string
	if edgeType == "" {
		query = "MATCH ()-[r]->() RETURN count(r) AS c"
	} else {
		if !isValidIdentifier(edgeType) {
			return 0, fmt.Errorf("invalid edge type: %s", edgeType)
		}
		query = fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS c", edgeType)
	}
	records, err := n.run(ctx, "read_query", query, nil)
	if err != nil {
		return 0, err
	}
	return countFromRecords(records), nil
}

func countFromRecords(records []*neo4j.Record) int {
	if len(records) == 0 {
		return 0
	}
	v, ok := records[0].Get("c")
	if !ok {
		return 0
	}
	return int(toFloat(v))
}

// AggregateOverEdge mirrors MemoryBackend's semantics exactly: a count of
// distinct sourceLabel nodes connected to the target via edgeType, plus
// depth statistics of Exploration nodes reached through an unrelated
// IN_TOPIC edge on the same target.
func (n *Neo4jBackend) AggregateOverEdge(ctx context.Context, targetLabel, targetID, edgeType, sourceLabel string) (AggregateMetrics, error) {
	if !isValidIdentifier(targetLabel) || !isValidIdentifier(edgeType) || !isValidIdentifier(sourceLabel) {
		return AggregateMetrics{}, fmt.Errorf("invalid identifier in AggregateOverEdge")
	}
	query := fmt.Sprintf(`MATCH (t:%s {id: $id})
OPTIONAL MATCH (s:%s)-[:%s]->(t)
WITH t, collect(DISTINCT s.id) AS sources
OPTIONAL MATCH (e:%s)-[:%s]->(t)
RETURN size(sources) AS count, collect(e.depth) AS depths`, targetLabel, sourceLabel, edgeType, LabelExploration, EdgeInTopic)

	records, err := n.run(ctx, "traversal", query, map[string]any{"id": targetID})
	if err != nil {
		return AggregateMetrics{}, err
	}
	if len(records) == 0 {
		return AggregateMetrics{}, nil
	}

	rec := records[0]
	count := countFromRecords(records)
	depths := toFloatSlice(rec)

	return AggregateMetrics{
		Count: count,
		Max:   maxOf(depths),
		Avg:   round2(avgOf(depths)),
		Sum:   sumOf(depths),
	}, nil
}

func toFloatSlice(rec *neo4j.Record) []float64 {
	raw, ok := rec.Get("depths")
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, toFloat(it))
	}
	return out
}

// AggregateGrouped mirrors MemoryBackend's semantics: for every child of
// parent reached via parentToChildEdge, the number of distinct nodes that
// reach the child via EXPLORED, plus max/avg depth of leafLabel nodes
// reaching the child via childToLeafEdge.
func (n *Neo4jBackend) AggregateGrouped(ctx context.Context, parentLabel, parentID, parentToChildEdge, childLabel, childToLeafEdge, leafLabel string) ([]GroupedAggregate, error) {
	for _, id := range []string{parentLabel, parentToChildEdge, childLabel, childToLeafEdge, leafLabel} {
		if !isValidIdentifier(id) {
			return nil, fmt.Errorf("invalid identifier in AggregateGrouped: %s", id)
		}
	}

	query := fmt.Sprintf(`MATCH (p:%s {id: $id})-[:%s]->(c:%s)
OPTIONAL MATCH (x)-[:%s]->(c)
WITH c, count(DISTINCT x) AS countDistinct
OPTIONAL MATCH (leaf:%s)-[:%s]->(c)
RETURN c, countDistinct, collect(leaf.depth) AS depths`, parentLabel, parentToChildEdge, childLabel, EdgeExplored, leafLabel, childToLeafEdge)

	records, err := n.run(ctx, "traversal", query, map[string]any{"id": parentID})
	if err != nil {
		return nil, err
	}

	out := make([]GroupedAggregate, 0, len(records))
	for _, rec := range records {
		child, err := recordToNode(rec, "c", childLabel)
		if err != nil || child == nil {
			continue
		}
		cdVal, _ := rec.Get("countDistinct")
		depths := toFloatSlice(rec)
		out = append(out, GroupedAggregate{
			Child:         *child,
			CountDistinct: int(toFloat(cdVal)),
			Max:           maxOf(depths),
			Avg:           round2(avgOf(depths)),
		})
	}
	return out, nil
}

// Traverse fetches the subgraph reachable from startID within maxDepth
// hops of edgeType, then reuses MemoryBackend's DFS so the global shared
// visited-set semantics are identical regardless of backend.
func (n *Neo4jBackend) Traverse(ctx context.Context, startID, edgeType string, direction Direction, maxDepth int) ([]Path, error) {
	mode := subgraphForward
	if direction == DirIn {
		mode = subgraphBackward
	}
	sub, err := n.fetchSubgraph(ctx, startID, edgeType, mode, boundedDepth(maxDepth))
	if err != nil {
		return nil, err
	}
	return sub.Traverse(ctx, startID, edgeType, direction, maxDepth)
}

// ShortestPath fetches the subgraph reachable from fromID within a bounded
// number of undirected hops of edgeType, then reuses MemoryBackend's BFS.
func (n *Neo4jBackend) ShortestPath(ctx context.Context, fromID, toID, edgeType string) (*Path, error) {
	sub, err := n.fetchSubgraph(ctx, fromID, edgeType, subgraphUndirected, maxSubgraphDepth)
	if err != nil {
		return nil, err
	}
	return sub.ShortestPath(ctx, fromID, toID, edgeType)
}

// subgraphMode picks which way fetchSubgraph's variable-length Cypher
// pattern points relative to the start node.
type subgraphMode int

const (
	subgraphForward subgraphMode = iota
	subgraphBackward
	subgraphUndirected
)

// maxSubgraphDepth bounds the variable-length Cypher path Traverse and
// ShortestPath use to pull a local subgraph before running the shared
// in-memory algorithm on it. Neo4j requires a concrete upper bound for
// variable-length patterns; this is comfortably past any lineage this
// graph is expected to grow.
const maxSubgraphDepth = 50

func boundedDepth(maxDepth int) int {
	if maxDepth <= 0 || maxDepth > maxSubgraphDepth {
		return maxSubgraphDepth
	}
	return maxDepth
}

// fetchSubgraph pulls every node and edge reachable from startID by
// following edgeType up to depth hops, and loads them into a scratch
// MemoryBackend so the rest of the traversal logic never needs a
// Neo4j-specific implementation.
func (n *Neo4jBackend) fetchSubgraph(ctx context.Context, startID, edgeType string, mode subgraphMode, depth int) (*MemoryBackend, error) {
	if !isValidIdentifier(edgeType) {
		return nil, fmt.Errorf("invalid edge type: %s", edgeType)
	}

	arrow, rightArrow := "-", "-"
	switch mode {
	case subgraphForward:
		rightArrow = "->"
	case subgraphBackward:
		arrow = "<-"
	}

	query := fmt.Sprintf(`MATCH p = (start {id: $id})%s[:%s*0..%d]%s(n)
UNWIND relationships(p) AS rel
RETURN DISTINCT startNode(rel) AS a, endNode(rel) AS b, properties(rel) AS relProps,
       labels(startNode(rel)) AS aLabels, labels(endNode(rel)) AS bLabels`,
		arrow, edgeType, depth, rightArrow)

	records, err := n.run(ctx, "traversal", query, map[string]any{"id": startID})
	if err != nil {
		return nil, err
	}

	sub := NewMemoryBackend()
	for _, rec := range records {
		aVal, _ := rec.Get("a")
		bVal, _ := rec.Get("b")
		aNode, aok := aVal.(neo4j.Node)
		bNode, bok := bVal.(neo4j.Node)
		if !aok || !bok {
			continue
		}
		aLabel := firstLabel(rec, "aLabels")
		bLabel := firstLabel(rec, "bLabels")
		aID, _ := aNode.Props["id"].(string)
		bID, _ := bNode.Props["id"].(string)

		_ = sub.CreateNode(ctx, Node{Label: aLabel, ID: aID, Properties: aNode.Props})
		_ = sub.CreateNode(ctx, Node{Label: bLabel, ID: bID, Properties: bNode.Props})

		propsVal, _ := rec.Get("relProps")
		props, _ := propsVal.(map[string]any)
		_ = sub.CreateEdge(ctx, Edge{Type: edgeType, From: aID, To: bID, Properties: props})
	}

	// Ensure the start node itself is present even with no matching edges.
	if _, ok := sub.lookupAny(startID); ok == "" {
		full, err := n.getNodeByIDOnly(ctx, startID)
		if err == nil && full != nil {
			_ = sub.CreateNode(ctx, *full)
		}
	}

	return sub, nil
}

func (n *Neo4jBackend) getNodeByIDOnly(ctx context.Context, id string) (*Node, error) {
	records, err := n.run(ctx, "read_query", "MATCH (n {id: $id}) RETURN n", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return recordToNode(records[0], "n", "")
}

func firstLabel(rec *neo4j.Record, key string) string {
	raw, ok := rec.Get(key)
	if !ok {
		return ""
	}
	labels, ok := raw.([]any)
	if !ok || len(labels) == 0 {
		return ""
	}
	label, _ := labels[0].(string)
	return label
}

func recordToNode(rec *neo4j.Record, key, fallbackLabel string) (*Node, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return nil, nil
	}
	nd, ok := raw.(neo4j.Node)
	if !ok {
		return nil, nil
	}
	label := fallbackLabel
	if len(nd.Labels) > 0 {
		label = nd.Labels[0]
	}
	id, _ := nd.Props["id"].(string)
	return &Node{Label: label, ID: id, Properties: nd.Props}, nil
}

func recordsToNodes(records []*neo4j.Record, key, fallbackLabel string) ([]Node, error) {
	out := make([]Node, 0, len(records))
	for _, rec := range records {
		node, err := recordToNode(rec, key, fallbackLabel)
		if err != nil {
			return nil, err
		}
		if node != nil {
			out = append(out, *node)
		}
	}
	return out, nil
}
