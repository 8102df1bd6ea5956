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

package ipccompress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakeshuffle/internal/columnar/columnartest"
)

func testBatches(mem memory.Allocator, n, rows int) []arrow.RecordBatch {
	out := make([]arrow.RecordBatch, n)
	for i := range out {
		pids := make([]int64, rows)
		values := make([]string, rows)
		for j := range pids {
			pids[j] = int64(i)
			values[j] = fmt.Sprintf("batch-%d-row-%d", i, j)
		}
		out[i] = columnartest.Batch(mem, pids, values)
	}
	return out
}

func TestRoundTripCodecs(t *testing.T) {
	for _, name := range CodecNames() {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			require.NoError(t, err)

			batches := testBatches(memory.DefaultAllocator, 3, 50)
			defer func() {
				for _, b := range batches {
					b.Release()
				}
			}()

			var buf bytes.Buffer
			w := NewWriter(&buf, WithCodec(codec))
			total := 0
			for _, b := range batches {
				n, err := w.WriteBatch(b)
				require.NoError(t, err)
				assert.Positive(t, n)
				total += n
			}
			written, err := w.Finish()
			require.NoError(t, err)
			assert.Equal(t, int64(buf.Len()), written)
			assert.Equal(t, total, w.Uncompressed())

			got, err := ReadAll(bytes.NewReader(buf.Bytes()), WithCodec(codec))
			require.NoError(t, err)
			require.Len(t, got, len(batches))
			for i := range got {
				assert.Equal(t, columnartest.Rows(batches[i]), columnartest.Rows(got[i]))
				got[i].Release()
			}
		})
	}
}

func TestSmallBlockSizeCutsBlocks(t *testing.T) {
	batches := testBatches(memory.DefaultAllocator, 4, 20)
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	var buf bytes.Buffer
	w := NewWriter(&buf, WithBlockSize(1))
	for _, b := range batches {
		_, err := w.WriteBatch(b)
		require.NoError(t, err)
	}
	_, err := w.Finish()
	require.NoError(t, err)

	blocks := 0
	data := buf.Bytes()
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), blockHeaderSize)
		size := binary.LittleEndian.Uint64(data[:blockHeaderSize])
		data = data[blockHeaderSize+int(size):]
		blocks++
	}
	assert.Equal(t, len(batches), blocks)

	got, err := ReadAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, got, len(batches))
	for _, b := range got {
		b.Release()
	}
}

func TestEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	empty := columnartest.Batch(memory.DefaultAllocator, nil, nil)
	defer empty.Release()
	n, err := w.WriteBatch(empty)
	require.NoError(t, err)
	assert.Zero(t, n)

	written, err := w.Finish()
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Zero(t, buf.Len())

	got, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteAfterFinish(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	_, err := w.Finish()
	require.NoError(t, err)

	b := columnartest.Batch(memory.DefaultAllocator, []int64{1}, []string{"x"})
	defer b.Release()
	_, err = w.WriteBatch(b)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestTruncatedStream(t *testing.T) {
	b := columnartest.Batch(memory.DefaultAllocator, []int64{1, 2}, []string{"a", "b"})
	defer b.Release()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteBatch(b)
	require.NoError(t, err)
	_, err = w.Finish()
	require.NoError(t, err)

	_, err = ReadAll(bytes.NewReader(buf.Bytes()[:4]))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCodecByNameUnknown(t *testing.T) {
	_, err := CodecByName("brotli")
	assert.Error(t, err)

	c, err := CodecByName("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, "zstd", c.Name())
	assert.Equal(t, []string{"lz4", "none", "zstd"}, CodecNames())
}

func TestLZ4Level(t *testing.T) {
	assert.Equal(t, lz4Level(0), lz4Level(-3))
	assert.NotEqual(t, lz4Level(0), lz4Level(1))
	assert.Equal(t, lz4Level(9), lz4Level(12))
}
