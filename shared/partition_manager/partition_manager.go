package partitionmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/utils"
)

// PartitionManager writes each bucket's rows into ShardNum CSV files
type PartitionManager struct {
	partitionsDir string
	opts          WriteOptions
	handler       *utils.CSVHandler
}

// NewPartitionManager creates a partition manager writing into an existing directory
func NewPartitionManager(partitionsDir string, opts WriteOptions) (*PartitionManager, error) {
	info, err := os.Stat(partitionsDir)
	if err != nil {
		return nil, fmt.Errorf("output directory %s: %w", partitionsDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output directory %s is not a directory", partitionsDir)
	}
	if opts.ShardNum < 1 {
		return nil, fmt.Errorf("shard number must be positive, got %d", opts.ShardNum)
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = DefaultFilePrefix
	}

	return &PartitionManager{
		partitionsDir: partitionsDir,
		opts:          opts,
		handler:       utils.NewCSVHandler(""),
	}, nil
}

// GetPartitionFilePath returns the full path of one shard of a bucket.
// Format: {prefix}_{bucket}.csv with a single shard, {prefix}_{bucket}_{shard}.csv otherwise
func (pm *PartitionManager) GetPartitionFilePath(bucketID, shard int) string {
	var filename string
	if pm.opts.ShardNum > 1 {
		filename = fmt.Sprintf("%s_%d_%d.csv", pm.opts.FilePrefix, bucketID, shard)
	} else {
		filename = fmt.Sprintf("%s_%d.csv", pm.opts.FilePrefix, bucketID)
	}
	return filepath.Join(pm.partitionsDir, filename)
}

// WriteBucket distributes rows round-robin over the bucket's shards and writes every shard,
// including empty ones. It returns the written paths.
func (pm *PartitionManager) WriteBucket(data BucketData) ([]string, error) {
	paths := make([]string, pm.opts.ShardNum)
	for shard := range paths {
		paths[shard] = pm.GetPartitionFilePath(data.BucketID, shard)
	}

	if !pm.opts.Overwrite {
		for _, path := range paths {
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("bucket %d: file %s already exists and overwrite is disabled", data.BucketID, path)
			}
		}
	}

	shards := make([][][]string, pm.opts.ShardNum)
	for i, row := range data.Rows {
		shard := i % pm.opts.ShardNum
		shards[shard] = append(shards[shard], row)
	}

	for shard, path := range paths {
		if err := pm.handler.WriteFileAtomic(path, pm.opts.Header, shards[shard]); err != nil {
			return nil, fmt.Errorf("bucket %d shard %d: %w", data.BucketID, shard, err)
		}
	}

	middleware.LogDebug("Partition Manager", "Wrote bucket %d: %d rows in %d files", data.BucketID, len(data.Rows), len(paths))
	return paths, nil
}

// RecoverIncompleteWrites removes temporary files left by an interrupted export
func (pm *PartitionManager) RecoverIncompleteWrites() (int, error) {
	removed, err := pm.handler.RemoveTempFiles(pm.partitionsDir)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		middleware.LogWarn("Partition Manager", "Removed %d incomplete files from %s", removed, pm.partitionsDir)
	}
	return removed, nil
}

// GetNumPartitions returns the number of files written per bucket
func (pm *PartitionManager) GetNumPartitions() int {
	return pm.opts.ShardNum
}

// GetPartitionsDir returns the partitions directory
func (pm *PartitionManager) GetPartitionsDir() string {
	return pm.partitionsDir
}
