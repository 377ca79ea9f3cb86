// Package archive provides an optional, backend-independent export of
// TxLog and Snapshot nodes to a local bbolt file, for audit retention
// beyond whatever durability the live Backend offers. It is opt-in: a
// KnowledgeGraph instance runs with or without one attached.
package archive

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/explorekg/knowledge-graph/internal/graph"
)

var (
	txLogBucket    = []byte("txlog")
	snapshotBucket = []byte("snapshots")
)

// Archive wraps a bbolt database used purely as an append-oriented export
// target — it is never read by the graph backend itself.
type Archive struct {
	db *bolt.DB
}

// Open creates or opens a bbolt file at path and ensures its buckets
// exist.
func Open(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(txLogBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive buckets: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// ExportTxLog writes entries to the archive in batches sized by
// batchConfig's TxLog allotment (it has none of its own, so it falls back
// to GetBatchSizeForLabel's conservative default) — each batch commits as
// one bolt transaction rather than one transaction per record, bounding
// how long any single write transaction holds bbolt's file lock.
func (a *Archive) ExportTxLog(ctx context.Context, entries []graph.Node, batchConfig graph.BatchConfig) error {
	batchSize := batchConfig.GetBatchSizeForLabel(graph.LabelTxLog)

	for start := 0; start < len(entries); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		err := a.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(txLogBucket)
			for _, entry := range batch {
				data, err := json.Marshal(entry)
				if err != nil {
					return fmt.Errorf("marshal txlog entry %s: %w", entry.ID, err)
				}
				if err := bucket.Put([]byte(entry.ID), data); err != nil {
					return fmt.Errorf("put txlog entry %s: %w", entry.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportSnapshot writes one Snapshot node to the archive.
func (a *Archive) ExportSnapshot(ctx context.Context, snapshot graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snapshot.ID, err)
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(snapshot.ID), data)
	})
}

// LoadTxLog reads every archived TxLog node back out, in bbolt's
// key-sorted (and therefore PushId-sorted) order.
func (a *Archive) LoadTxLog() ([]graph.Node, error) {
	var out []graph.Node
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(txLogBucket).ForEach(func(k, v []byte) error {
			var node graph.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return fmt.Errorf("unmarshal txlog entry %s: %w", k, err)
			}
			out = append(out, node)
			return nil
		})
	})
	return out, err
}

// LoadSnapshots reads every archived Snapshot node back out.
func (a *Archive) LoadSnapshots() ([]graph.Node, error) {
	var out []graph.Node
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(k, v []byte) error {
			var node graph.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return fmt.Errorf("unmarshal snapshot %s: %w", k, err)
			}
			out = append(out, node)
			return nil
		})
	})
	return out, err
}
