package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// CypherBuilder builds safe, parameterized Cypher queries. Every value —
// node property, edge property, match key — goes through a $p0, $p1, ...
// placeholder; label and relationship-type names are validated against
// isValidIdentifier instead, since Cypher has no parameter syntax for
// those positions.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder.
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params: make(map[string]any),
	}
}

// AddParam adds a parameter and returns its placeholder.
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters accumulated so far.
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildMergeNode returns a MERGE query that creates label:{id: idValue} if
// absent, then overwrites every entry of properties on it.
func (b *CypherBuilder) BuildMergeNode(label, idValue string, properties map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s", label)
	}

	idParam := b.AddParam(idValue)

	setClauses := []string{}
	for key, value := range properties {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("n.%s = %s", key, b.AddParam(value)))
	}

	query := fmt.Sprintf("MERGE (n:%s {id: %s})", label, idParam)
	if len(setClauses) > 0 {
		query += " SET " + strings.Join(setClauses, ", ")
	}
	return query + " RETURN n", nil
}

// BuildSetNode returns an unconditional CREATE query for a node that the
// caller has already established does not exist.
func (b *CypherBuilder) BuildSetNode(label, idValue string, properties map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s", label)
	}
	idParam := b.AddParam(idValue)

	setClauses := []string{fmt.Sprintf("n.id = %s", idParam)}
	for key, value := range properties {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("n.%s = %s", key, b.AddParam(value)))
	}

	return fmt.Sprintf("CREATE (n:%s) SET %s RETURN n", label, strings.Join(setClauses, ", ")), nil
}

// BuildMergeEdge returns a query that matches the two endpoint nodes by id
// (regardless of label, since ids are unique across the graph) and merges
// a relationship of edgeType between them, overwriting properties on it.
func (b *CypherBuilder) BuildMergeEdge(fromID, toID, edgeType string, properties map[string]any) (string, error) {
	if !isValidIdentifier(edgeType) {
		return "", fmt.Errorf("invalid edge type: %s", edgeType)
	}

	fromParam := b.AddParam(fromID)
	toParam := b.AddParam(toID)

	var propsStr string
	if len(properties) > 0 {
		propClauses := []string{}
		for key, value := range properties {
			if !isValidIdentifier(key) {
				return "", fmt.Errorf("invalid edge property key: %s", key)
			}
			propClauses = append(propClauses, fmt.Sprintf("r.%s = %s", key, b.AddParam(value)))
		}
		propsStr = " SET " + strings.Join(propClauses, ", ")
	}

	return fmt.Sprintf(
		"MATCH (from {id: %s}) MATCH (to {id: %s}) MERGE (from)-[r:%s]->(to)%s RETURN from, to",
		fromParam, toParam, edgeType, propsStr,
	), nil
}

// BuildCreateEdge is identical to BuildMergeEdge except it always appends a
// new relationship (CREATE) rather than reusing a matching one.
func (b *CypherBuilder) BuildCreateEdge(fromID, toID, edgeType string, properties map[string]any) (string, error) {
	if !isValidIdentifier(edgeType) {
		return "", fmt.Errorf("invalid edge type: %s", edgeType)
	}

	fromParam := b.AddParam(fromID)
	toParam := b.AddParam(toID)

	setClauses := []string{}
	for key, value := range properties {
		if !isValidIdentifier(key) {
			return "", fmt.Errorf("invalid edge property key: %s", key)
		}
		setClauses = append(setClauses, fmt.Sprintf("r.%s = %s", key, b.AddParam(value)))
	}

	query := fmt.Sprintf("MATCH (from {id: %s}) MATCH (to {id: %s}) CREATE (from)-[r:%s]->(to)", fromParam, toParam, edgeType)
	if len(setClauses) > 0 {
		query += " SET " + strings.Join(setClauses, ", ")
	}
	return query + " RETURN from, to", nil
}

// BuildIncrementEdgeProperty returns a query that increments a numeric edge
// property by delta, treating a missing property as zero, creating the
// relationship if it does not already exist.
func (b *CypherBuilder) BuildIncrementEdgeProperty(fromID, toID, edgeType, property string, delta float64) (string, error) {
	if !isValidIdentifier(edgeType) {
		return "", fmt.Errorf("invalid edge type: %s", edgeType)
	}
	if !isValidIdentifier(property) {
		return "", fmt.Errorf("invalid property name: %s", property)
	}

	fromParam := b.AddParam(fromID)
	toParam := b.AddParam(toID)
	deltaParam := b.AddParam(delta)

	return fmt.Sprintf(
		"MATCH (from {id: %s}) MATCH (to {id: %s}) MERGE (from)-[r:%s]->(to) SET r.%s = coalesce(r.%s, 0) + %s RETURN r",
		fromParam, toParam, edgeType, property, property, deltaParam,
	), nil
}

// isValidIdentifier validates that a string can be safely interpolated as
// a Cypher label or relationship-type name. Only alphanumerics and
// underscores are allowed, which rules out injection through that
// position since Cypher has no parameter syntax for it.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	matched, _ := regexp.MatchString(`^[a-zA-Z_][a-zA-Z0-9_]*$`, s)
	return matched
}
