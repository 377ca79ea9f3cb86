package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// TransactionConfig carries a timeout and Neo4j transaction metadata for one
// kind of operation. Metadata is logged by Neo4j and shows up in its own
// query log, which helps separate writes from reads when debugging slow
// queries against a shared database.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns the recommended config per domain
// operation.
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		"register_topic": {
			Timeout: 10 * time.Second,
			Metadata: map[string]any{
				"operation": "register_topic",
				"type":      "write",
			},
		},
		"explore": {
			Timeout: 10 * time.Second,
			Metadata: map[string]any{
				"operation": "explore",
				"type":      "write",
			},
		},
		"access": {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"operation": "access",
				"type":      "write",
			},
		},
		"read_query": {
			Timeout: 15 * time.Second,
			Metadata: map[string]any{
				"operation": "read_query",
				"type":      "read",
			},
		},
		"traversal": {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"operation": "traversal",
				"type":      "read",
			},
		},
		"snapshot": {
			Timeout: 2 * time.Minute,
			Metadata: map[string]any{
				"operation": "snapshot",
				"type":      "read",
			},
		},
		"batch_create": {
			Timeout: 3 * time.Minute,
			Metadata: map[string]any{
				"operation": "batch_create",
				"type":      "write",
			},
		},
		"index_creation": {
			Timeout: 5 * time.Minute,
			Metadata: map[string]any{
				"operation": "index_creation",
				"type":      "schema",
			},
		},
		"health_check": {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"operation": "health_check",
				"type":      "read",
			},
		},
	}
}

// AsNeo4jConfig converts to the functional options ExecuteWrite/ExecuteRead
// accept.
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// GetConfigForOperation retrieves the config for operation, falling back to
// a generic 60-second config if the operation is unrecognized.
func GetConfigForOperation(operation string) TransactionConfig {
	configs := DefaultTransactionConfigs()
	if config, ok := configs[operation]; ok {
		return config
	}

	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// WithTimeout returns a copy of tc with Timeout overridden.
func (tc TransactionConfig) WithTimeout(timeout time.Duration) TransactionConfig {
	return TransactionConfig{
		Timeout:  timeout,
		Metadata: tc.Metadata,
	}
}
