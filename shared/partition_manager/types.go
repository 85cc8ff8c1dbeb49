package partitionmanager

// DefaultFilePrefix names exported files when no prefix is configured
const DefaultFilePrefix = "datajoin"

// BucketData represents the rows of one bucket's intersection
type BucketData struct {
	BucketID int        // Bucket number (0 to bucketNum-1)
	Rows     [][]string // Records, key first, already in export order
}

// WriteOptions configures write behavior
type WriteOptions struct {
	FilePrefix string   // e.g., "datajoin" -> "datajoin_3.csv" or "datajoin_3_0.csv"
	Header     []string // CSV header written at the top of every shard
	ShardNum   int      // Files per bucket
	Overwrite  bool     // Replace existing files instead of failing
}
