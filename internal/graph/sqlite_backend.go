package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteBackend implements Backend on top of two tables — graph_nodes and
// graph_edges — with properties stored as JSON blobs. It is the backend a
// single-process deployment runs against when an external Neo4j instance
// isn't worth the operational cost. Query logging goes through logrus
// rather than the domain's structured slog logger, on purpose: this
// backend's internals are a storage-engine concern, not a domain one, and
// the two stay on separate logging paths the way they did in the code this
// backend is adapted from.
type SQLiteBackend struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

type txKey struct{}

// NewSQLiteBackend opens (and creates, if absent) a SQLite database at
// path.
func NewSQLiteBackend(path string, logger *logrus.Logger) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if logger == nil {
		logger = logrus.New()
	}

	return &SQLiteBackend{db: db, logger: logger}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	label TEXT NOT NULL,
	id TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (label, id)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_nodes_id ON graph_nodes(id);
CREATE INDEX IF NOT EXISTS idx_edges_out ON graph_edges(from_id, type);
CREATE INDEX IF NOT EXISTS idx_edges_in ON graph_edges(to_id, type);
`

func (s *SQLiteBackend) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		s.logger.WithError(err).Error("init schema")
	}
	return err
}

func (s *SQLiteBackend) Close(ctx context.Context) error {
	return s.db.Close()
}

// queryer returns the transaction bound to ctx by WithTransaction, falling
// back to the plain database handle outside a transaction.
func (s *SQLiteBackend) queryer(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// WithTransaction opens a real SQLite transaction, hands fn a context that
// every other Backend method on this instance will reuse for its queries,
// and commits on success or rolls back on error or panic.
func (s *SQLiteBackend) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

func decodeProps(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (s *SQLiteBackend) CreateNode(ctx context.Context, node Node) error {
	payload, err := encodeProps(node.Properties)
	if err != nil {
		return err
	}
	_, err = s.queryer(ctx).ExecContext(ctx,
		`INSERT OR REPLACE INTO graph_nodes (label, id, properties) VALUES (?, ?, ?)`,
		node.Label, node.ID, payload)
	return err
}

func (s *SQLiteBackend) MergeNode(ctx context.Context, label, id string, properties map[string]any) error {
	var existing string
	err := sqlx.GetContext(ctx, s.queryer(ctx), &existing,
		`SELECT properties FROM graph_nodes WHERE label = ? AND id = ?`, label, id)
	merged := properties
	if err == nil {
		current := decodeProps(existing)
		if current == nil {
			current = make(map[string]any)
		}
		for k, v := range properties {
			current[k] = v
		}
		merged = current
	} else if err != sql.ErrNoRows {
		return err
	}

	payload, err := encodeProps(merged)
	if err != nil {
		return err
	}
	_, err = s.queryer(ctx).ExecContext(ctx,
		`INSERT OR REPLACE INTO graph_nodes (label, id, properties) VALUES (?, ?, ?)`,
		label, id, payload)
	return err
}

func (s *SQLiteBackend) CreateEdge(ctx context.Context, edge Edge) error {
	payload, err := encodeProps(edge.Properties)
	if err != nil {
		return err
	}
	_, err = s.queryer(ctx).ExecContext(ctx,
		`INSERT INTO graph_edges (type, from_id, to_id, properties) VALUES (?, ?, ?, ?)`,
		edge.Type, edge.From, edge.To, payload)
	return err
}

func (s *SQLiteBackend) findEdgeProps(ctx context.Context, edgeType, from, to string) (string, bool, error) {
	var props string
	err := sqlx.GetContext(ctx, s.queryer(ctx), &props,
		`SELECT properties FROM graph_edges WHERE type = ? AND from_id = ? AND to_id = ? ORDER BY seq LIMIT 1`,
		edgeType, from, to)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return props, true, nil
}

func (s *SQLiteBackend) MergeEdge(ctx context.Context, edge Edge) error {
	existing, found, err := s.findEdgeProps(ctx, edge.Type, edge.From, edge.To)
	if err != nil {
		return err
	}
	if !found {
		return s.CreateEdge(ctx, edge)
	}

	merged := decodeProps(existing)
	if merged == nil {
		merged = make(map[string]any)
	}
	for k, v := range edge.Properties {
		merged[k] = v
	}
	payload, err := encodeProps(merged)
	if err != nil {
		return err
	}
	_, err = s.queryer(ctx).ExecContext(ctx,
		`UPDATE graph_edges SET properties = ? WHERE type = ? AND from_id = ? AND to_id = ?
		 AND seq = (SELECT seq FROM graph_edges WHERE type = ? AND from_id = ? AND to_id = ? ORDER BY seq LIMIT 1)`,
		payload, edge.Type, edge.From, edge.To, edge.Type, edge.From, edge.To)
	return err
}

func (s *SQLiteBackend) IncrementEdgeProperty(ctx context.Context, edgeType, from, to, property string, delta float64) error {
	existing, found, err := s.findEdgeProps(ctx, edgeType, from, to)
	if err != nil {
		return err
	}
	props := decodeProps(existing)
	if props == nil {
		props = make(map[string]any)
	}
	props[property] = toFloat(props[property]) + delta

	payload, err := encodeProps(props)
	if err != nil {
		return err
	}
	if !found {
		_, err = s.queryer(ctx).ExecContext(ctx,
			`INSERT INTO graph_edges (type, from_id, to_id, properties) VALUES (?, ?, ?, ?)`,
			edgeType, from, to, payload)
		return err
	}
	_, err = s.queryer(ctx).ExecContext(ctx,
		`UPDATE graph_edges SET properties = ? WHERE type = ? AND from_id = ? AND to_id = ?
		 AND seq = (SELECT seq FROM graph_edges WHERE type = ? AND from_id = ? AND to_id = ? ORDER BY seq LIMIT 1)`,
		payload, edgeType, from, to, edgeType, from, to)
	return err
}

type nodeRow struct {
	Label      string `db:"label"`
	ID         string `db:"id"`
	Properties string `db:"properties"`
}

func (r nodeRow) toNode() Node {
	return Node{Label: r.Label, ID: r.ID, Properties: decodeProps(r.Properties)}
}

func (s *SQLiteBackend) GetNode(ctx context.Context, label, id string) (*Node, error) {
	var row nodeRow
	err := sqlx.GetContext(ctx, s.queryer(ctx), &row,
		`SELECT label, id, properties FROM graph_nodes WHERE label = ? AND id = ?`, label, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	node := row.toNode()
	return &node, nil
}

func (s *SQLiteBackend) FindNodes(ctx context.Context, label string, filter map[string]any) ([]Node, error) {
	var rows []nodeRow
	err := sqlx.SelectContext(ctx, s.queryer(ctx), &rows,
		`SELECT label, id, properties FROM graph_nodes WHERE label = ?`, label)
	if err != nil {
		return nil, err
	}

	out := make([]Node, 0, len(rows))
	for _, row := range rows {
		node := row.toNode()
		if matchesFilter(node.Properties, filter) {
			out = append(out, node)
		}
	}
	return out, nil
}

func (s *SQLiteBackend) GetChildren(ctx context.Context, parentLabel, parentID, edgeType, childLabel string) ([]Node, error) {
	var rows []nodeRow
	err := sqlx.SelectContext(ctx, s.queryer(ctx), &rows,
		`SELECT n.label AS label, n.id AS id, n.properties AS properties
		 FROM graph_edges e JOIN graph_nodes n ON n.id = e.to_id AND n.label = ?
		 WHERE e.from_id = ? AND e.type = ?`,
		childLabel, parentID, edgeType)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toNode())
	}
	return out, nil
}

func (s *SQLiteBackend) GetRoots(ctx context.Context, label, incomingEdgeType string) ([]Node, error) {
	var rows []nodeRow
	err := sqlx.SelectContext(ctx, s.queryer(ctx), &rows,
		`SELECT label, id, properties FROM graph_nodes n
		 WHERE n.label = ? AND NOT EXISTS (
			SELECT 1 FROM graph_edges e WHERE e.to_id = n.id AND e.type = ?
		 )`,
		label, incomingEdgeType)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toNode())
	}
	return out, nil
}

type edgeRow struct {
	Type       string `db:"type"`
	FromID     string `db:"from_id"`
	ToID       string `db:"to_id"`
	Properties string `db:"properties"`
}

func (r edgeRow) toEdge() Edge {
	return Edge{Type: r.Type, From: r.FromID, To: r.ToID, Properties: decodeProps(r.Properties)}
}

func (s *SQLiteBackend) GetEdges(ctx context.Context, nodeID, edgeType string, direction Direction) ([]Edge, error) {
	var rows []edgeRow
	var err error
	if direction == DirOut {
		err = sqlx.SelectContext(ctx, s.queryer(ctx), &rows,
			`SELECT type, from_id, to_id, properties FROM graph_edges WHERE from_id = ? AND type = ?`,
			nodeID, edgeType)
	} else {
		err = sqlx.SelectContext(ctx, s.queryer(ctx), &rows,
			`SELECT type, from_id, to_id, properties FROM graph_edges WHERE to_id = ? AND type = ?`,
			nodeID, edgeType)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEdge())
	}
	return out, nil
}

func (s *SQLiteBackend) NodeCount(ctx context.Context, label string) (int, error) {
	var count int
	var err error
	if label == "" {
		err = sqlx.GetContext(ctx, s.queryer(ctx), &count, `SELECT count(*) FROM graph_nodes`)
	} else {
		err = sqlx.GetContext(ctx, s.queryer(ctx), &count, `SELECT count(*) FROM graph_nodes WHERE label = ?`, label)
	}
	return count, err
}

func (s *SQLiteBackend) EdgeCount(ctx context.Context, edgeType string) (int, error) {
	var count int
	var err error
	if edgeType == "" {
		err = sqlx.GetContext(ctx, s.queryer(ctx), &count, `SELECT count(*) FROM graph_edges`)
	} else {
		err = sqlx.GetContext(ctx, s.queryer(ctx), &count, `SELECT count(*) FROM graph_edges WHERE type = ?`, edgeType)
	}
	return count, err
}

// AggregateOverEdge and AggregateGrouped are computed the same way the
// in-memory backend computes them: load the relevant rows and reduce them
// in Go rather than push the intentionally-mixed aggregation semantics
// into SQL.
func (s *SQLiteBackend) AggregateOverEdge(ctx context.Context, targetLabel, targetID, edgeType, sourceLabel string) (AggregateMetrics, error) {
	sources, err := s.GetEdges(ctx, targetID, edgeType, DirIn)
	if err != nil {
		return AggregateMetrics{}, err
	}
	distinct := make(map[string]struct{})
	for _, e := range sources {
		if n, _ := s.GetNode(ctx, sourceLabel, e.From); n != nil {
			distinct[n.ID] = struct{}{}
		}
	}

	inTopic, err := s.GetEdges(ctx, targetID, EdgeInTopic, DirIn)
	if err != nil {
		return AggregateMetrics{}, err
	}
	var depths []float64
	for _, e := range inTopic {
		if n, _ := s.GetNode(ctx, LabelExploration, e.From); n != nil {
			depths = append(depths, toFloat(n.Properties["depth"]))
		}
	}

	return AggregateMetrics{
		Count: len(distinct),
		Max:   maxOf(depths),
		Avg:   round2(avgOf(depths)),
		Sum:   sumOf(depths),
	}, nil
}

func (s *SQLiteBackend) AggregateGrouped(ctx context.Context, parentLabel, parentID, parentToChildEdge, childLabel, childToLeafEdge, leafLabel string) ([]GroupedAggregate, error) {
	children, err := s.GetChildren(ctx, parentLabel, parentID, parentToChildEdge, childLabel)
	if err != nil {
		return nil, err
	}

	out := make([]GroupedAggregate, 0, len(children))
	for _, child := range children {
		explored, err := s.GetEdges(ctx, child.ID, EdgeExplored, DirIn)
		if err != nil {
			return nil, err
		}
		distinct := make(map[string]struct{})
		for _, e := range explored {
			distinct[e.From] = struct{}{}
		}

		leafEdges, err := s.GetEdges(ctx, child.ID, childToLeafEdge, DirIn)
		if err != nil {
			return nil, err
		}
		var depths []float64
		for _, e := range leafEdges {
			if n, _ := s.GetNode(ctx, leafLabel, e.From); n != nil {
				depths = append(depths, toFloat(n.Properties["depth"]))
			}
		}

		out = append(out, GroupedAggregate{
			Child:         child,
			CountDistinct: len(distinct),
			Max:           maxOf(depths),
			Avg:           round2(avgOf(depths)),
		})
	}
	return out, nil
}

// Traverse and ShortestPath load the full set of edges of edgeType into a
// scratch MemoryBackend and run the exact same DFS/BFS it uses, so the
// global-visited-set and undirected-BFS semantics never drift between
// backends.
func (s *SQLiteBackend) Traverse(ctx context.Context, startID, edgeType string, direction Direction, maxDepth int) ([]Path, error) {
	sub, err := s.loadEdgeTypeSubgraph(ctx, edgeType)
	if err != nil {
		return nil, err
	}
	return sub.Traverse(ctx, startID, edgeType, direction, maxDepth)
}

func (s *SQLiteBackend) ShortestPath(ctx context.Context, fromID, toID, edgeType string) (*Path, error) {
	sub, err := s.loadEdgeTypeSubgraph(ctx, edgeType)
	if err != nil {
		return nil, err
	}
	return sub.ShortestPath(ctx, fromID, toID, edgeType)
}

func (s *SQLiteBackend) loadEdgeTypeSubgraph(ctx context.Context, edgeType string) (*MemoryBackend, error) {
	var edges []edgeRow
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &edges,
		`SELECT type, from_id, to_id, properties FROM graph_edges WHERE type = ?`, edgeType); err != nil {
		return nil, err
	}

	var nodes []nodeRow
	if err := sqlx.SelectContext(ctx, s.queryer(ctx), &nodes,
		`SELECT label, id, properties FROM graph_nodes`); err != nil {
		return nil, err
	}

	sub := NewMemoryBackend()
	for _, row := range nodes {
		_ = sub.CreateNode(ctx, row.toNode())
	}
	for _, row := range edges {
		_ = sub.CreateEdge(ctx, row.toEdge())
	}
	return sub, nil
}
