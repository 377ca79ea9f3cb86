package graph

// BatchConfig defines UNWIND batch sizes per node label for bulk writes
// (e.g. replaying an archived TxLog into a fresh backend). Smaller batches
// reduce transaction memory pressure; larger batches trade that for fewer
// round trips.
type BatchConfig struct {
	TopicBatchSize       int
	UserBatchSize        int
	ExplorationBatchSize int
	EdgeBatchSize        int
}

// DefaultBatchConfig returns batch sizes suited to a moderately sized graph
// (on the order of tens of thousands of explorations).
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		TopicBatchSize:       500,
		UserBatchSize:        500,
		ExplorationBatchSize: 1000,
		EdgeBatchSize:        2000,
	}
}

// LargeGraphBatchConfig favors throughput for bulk imports of large
// archives.
func LargeGraphBatchConfig() BatchConfig {
	return BatchConfig{
		TopicBatchSize:       1000,
		UserBatchSize:        1000,
		ExplorationBatchSize: 5000,
		EdgeBatchSize:        10000,
	}
}

// GetBatchSizeForLabel returns the configured batch size for label, or a
// conservative default for a label this config doesn't distinguish.
func (bc BatchConfig) GetBatchSizeForLabel(label string) int {
	switch label {
	case LabelTopic:
		return bc.TopicBatchSize
	case LabelUser:
		return bc.UserBatchSize
	case LabelExploration:
		return bc.ExplorationBatchSize
	default:
		return 500
	}
}
