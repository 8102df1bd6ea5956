// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakeshuffle/config"
	"github.com/cardinalhq/lakeshuffle/internal/columnar/columnartest"
	"github.com/cardinalhq/lakeshuffle/internal/partitioning"
	"github.com/cardinalhq/lakeshuffle/internal/rss"
	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

func writeParquet(t *testing.T, path string, pids []int64, values []string) {
	t.Helper()
	rec := columnartest.Batch(memory.DefaultAllocator, pids, values)
	defer rec.Release()
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.RecordBatch{rec})
	defer tbl.Release()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pqarrow.WriteTable(tbl, f, 1024, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps()))
}

func testConfig(numPartitions int, columns ...string) *config.Config {
	return &config.Config{
		Shuffle: shuffle.DefaultConfig(),
		RSS:     rss.DefaultConfig(),
		Partitioning: config.PartitioningConfig{
			NumPartitions: numPartitions,
			Columns:       columns,
			Algorithm:     "murmur3",
		},
	}
}

func TestBuildPartitioning(t *testing.T) {
	pc := config.PartitioningConfig{NumPartitions: 8, Columns: []string{"pid"}, Algorithm: "xxh3"}

	p, err := buildPartitioning("hash", pc)
	require.NoError(t, err)
	assert.Equal(t, partitioning.XXH3, p.(*partitioning.HashPartitioning).Algorithm)

	p, err = buildPartitioning("passthrough", pc)
	require.NoError(t, err)
	assert.Equal(t, "pid", p.(*partitioning.PassthroughPartitioning).Column)

	p, err = buildPartitioning("single", pc)
	require.NoError(t, err)
	assert.Equal(t, 1, p.PartitionCount())

	p, err = buildPartitioning("roundrobin", pc)
	require.NoError(t, err)
	assert.Equal(t, 8, p.PartitionCount())

	_, err = buildPartitioning("range", pc)
	assert.Error(t, err)

	pc.Algorithm = "md5"
	_, err = buildPartitioning("hash", pc)
	assert.Error(t, err)
}

func TestWriteAndReadFiles(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.parquet")
	writeParquet(t, input, []int64{2, 0, 1, 0, 2}, []string{"a", "b", "c", "d", "e"})

	cfg := testConfig(3, "pid")
	opts := writeOptions{
		inputs:       []string{input},
		dataPath:     filepath.Join(dir, "out.data"),
		indexPath:    filepath.Join(dir, "out.index"),
		scheme:       "passthrough",
		readBatchLen: 2,
	}
	require.NoError(t, runWrite(context.Background(), cfg, opts))

	var out bytes.Buffer
	err := runRead(context.Background(), cfg, readOptions{
		dataPath:  opts.dataPath,
		indexPath: opts.indexPath,
		partition: 0,
	}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, `"pid":0`)
	}
}

func TestWriteToLocalRSS(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.parquet")
	writeParquet(t, input, []int64{1, 1, 0}, []string{"x", "y", "z"})

	cfg := testConfig(2, "pid")
	cfg.RSS.Local.Dir = filepath.Join(dir, "rss")
	cfg.RSS.ShuffleID = "job-1"
	cfg.Shuffle.Codec = "lz4"
	opts := writeOptions{inputs: []string{input}, useRSS: true, scheme: "passthrough", readBatchLen: 100}
	require.NoError(t, runWrite(context.Background(), cfg, opts))

	var out bytes.Buffer
	stream := filepath.Join(cfg.RSS.Local.Dir, "job-1", rss.PartitionObjectName(1))
	require.NoError(t, runRead(context.Background(), cfg, readOptions{stream: stream}, &out))
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"value":"x"`)
}
