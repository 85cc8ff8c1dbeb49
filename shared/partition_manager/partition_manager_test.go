package partitionmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestGetPartitionFilePath(t *testing.T) {
	dir := t.TempDir()

	single, err := NewPartitionManager(dir, WriteOptions{ShardNum: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "datajoin_7.csv"), single.GetPartitionFilePath(7, 0))

	sharded, err := NewPartitionManager(dir, WriteOptions{ShardNum: 3, FilePrefix: "mr"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mr_7_2.csv"), sharded.GetPartitionFilePath(7, 2))
	assert.Equal(t, 3, sharded.GetNumPartitions())
	assert.Equal(t, dir, sharded.GetPartitionsDir())
}

func TestWriteBucketRoundRobin(t *testing.T) {
	dir := t.TempDir()
	pm, err := NewPartitionManager(dir, WriteOptions{ShardNum: 2, Header: []string{"oaid", "x"}, Overwrite: true})
	require.NoError(t, err)

	paths, err := pm.WriteBucket(BucketData{BucketID: 4, Rows: [][]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}})
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, "oaid,x\na,1\nc,3\n", readFile(t, filepath.Join(dir, "datajoin_4_0.csv")))
	assert.Equal(t, "oaid,x\nb,2\n", readFile(t, filepath.Join(dir, "datajoin_4_1.csv")))
}

func TestWriteBucketWritesEmptyShards(t *testing.T) {
	dir := t.TempDir()
	pm, err := NewPartitionManager(dir, WriteOptions{ShardNum: 3, Header: []string{"oaid"}, Overwrite: true})
	require.NoError(t, err)

	paths, err := pm.WriteBucket(BucketData{BucketID: 0, Rows: [][]string{{"only"}}})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "oaid\n", readFile(t, paths[2]))
}

func TestWriteBucketOverwrite(t *testing.T) {
	dir := t.TempDir()
	header := []string{"oaid"}

	pm, err := NewPartitionManager(dir, WriteOptions{ShardNum: 1, Header: header, Overwrite: true})
	require.NoError(t, err)
	_, err = pm.WriteBucket(BucketData{BucketID: 1, Rows: [][]string{{"old"}}})
	require.NoError(t, err)
	_, err = pm.WriteBucket(BucketData{BucketID: 1, Rows: [][]string{{"new"}}})
	require.NoError(t, err)
	assert.Equal(t, "oaid\nnew\n", readFile(t, filepath.Join(dir, "datajoin_1.csv")))

	strict, err := NewPartitionManager(dir, WriteOptions{ShardNum: 1, Header: header})
	require.NoError(t, err)
	_, err = strict.WriteBucket(BucketData{BucketID: 1, Rows: [][]string{{"again"}}})
	assert.ErrorContains(t, err, "datajoin_1.csv")
	assert.Equal(t, "oaid\nnew\n", readFile(t, filepath.Join(dir, "datajoin_1.csv")))
}

func TestNewPartitionManagerErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewPartitionManager(filepath.Join(dir, "missing"), WriteOptions{ShardNum: 1})
	assert.Error(t, err)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewPartitionManager(file, WriteOptions{ShardNum: 1})
	assert.ErrorContains(t, err, "not a directory")

	_, err = NewPartitionManager(dir, WriteOptions{ShardNum: 0})
	assert.Error(t, err)
}

func TestRecoverIncompleteWrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datajoin_0.csv.tmp"), []byte("oaid\npart"), 0o644))

	pm, err := NewPartitionManager(dir, WriteOptions{ShardNum: 1})
	require.NoError(t, err)

	removed, err := pm.RecoverIncompleteWrites()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
