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

package columnar

import (
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakeshuffle/internal/columnar/columnartest"
)

func TestInterleave_ScatteredRowsUseTake(t *testing.T) {
	mem := memory.NewGoAllocator()

	b0 := columnartest.Batch(mem, []int64{0, 1, 2}, []string{"a", "b", "c"})
	defer b0.Release()
	b1 := columnartest.Batch(mem, []int64{10, 11}, []string{"x", "y"})
	defer b1.Release()

	refs := []RowRef{{1, 1}, {0, 0}, {1, 0}, {0, 2}}
	out, err := Interleave(mem, columnartest.Schema, []arrow.RecordBatch{b0, b1}, refs)
	require.NoError(t, err)
	defer out.Release()

	assert.True(t, out.Schema().Equal(columnartest.Schema))
	assert.Equal(t, []columnartest.Row{
		{PID: 11, Value: "y"},
		{PID: 0, Value: "a"},
		{PID: 10, Value: "x"},
		{PID: 2, Value: "c"},
	}, columnartest.Rows(out))
}

func TestInterleave_SingleBatchTake(t *testing.T) {
	mem := memory.NewGoAllocator()

	b0 := columnartest.Batch(mem, []int64{5, 6, 7}, []string{"p", "q", "r"})
	defer b0.Release()

	out, err := Interleave(mem, columnartest.Schema, []arrow.RecordBatch{b0}, []RowRef{{0, 2}, {0, 0}})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []columnartest.Row{{PID: 7, Value: "r"}, {PID: 5, Value: "p"}}, columnartest.Rows(out))
}

func TestInterleave_ContiguousRowsUseSlices(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	pids := make([]int64, 40)
	values := make([]string, 40)
	for i := range pids {
		pids[i] = int64(i)
		values[i] = string(rune('a' + i%26))
	}
	b0 := columnartest.Batch(mem, pids[:20], values[:20])
	defer b0.Release()
	b1 := columnartest.Batch(mem, pids[20:], values[20:])
	defer b1.Release()

	var refs []RowRef
	for r := 10; r < 20; r++ {
		refs = append(refs, RowRef{Batch: 1, Row: r})
	}
	for r := 0; r < 10; r++ {
		refs = append(refs, RowRef{Batch: 0, Row: r})
	}
	require.Len(t, coalesce(refs), 2)

	out, err := Interleave(mem, columnartest.Schema, []arrow.RecordBatch{b0, b1}, refs)
	require.NoError(t, err)
	defer out.Release()

	rows := columnartest.Rows(out)
	require.Len(t, rows, 20)
	assert.Equal(t, int64(30), rows[0].PID)
	assert.Equal(t, int64(39), rows[9].PID)
	assert.Equal(t, int64(0), rows[10].PID)
	assert.Equal(t, int64(9), rows[19].PID)
}

func TestInterleave_FewRowsFromLargeBatchesStaySmall(t *testing.T) {
	mem := columnartest.NewCountingAllocator()

	batches := make([]arrow.RecordBatch, 8)
	for i := range batches {
		pids := make([]int64, 1000)
		values := make([]string, 1000)
		for r := range pids {
			pids[r] = int64(i*1000 + r)
			values[r] = fmt.Sprintf("v%d", r)
		}
		batches[i] = columnartest.Batch(mem, pids, values)
		defer batches[i].Release()
	}

	before := mem.Allocated()
	refs := []RowRef{{7, 3}, {0, 5}, {7, 1}, {0, 900}}
	out, err := Interleave(mem, columnartest.Schema, batches, refs)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []columnartest.Row{
		{PID: 7003, Value: "v3"},
		{PID: 5, Value: "v5"},
		{PID: 7001, Value: "v1"},
		{PID: 900, Value: "v900"},
	}, columnartest.Rows(out))
	assert.Less(t, mem.Allocated()-before, int64(4096))
}

func TestInterleave_TakeRemapsTouchedBatches(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	batches := make([]arrow.RecordBatch, 5)
	for i := range batches {
		base := int64(i * 10)
		batches[i] = columnartest.Batch(mem, []int64{base, base + 1, base + 2}, []string{"a", "b", "c"})
		defer batches[i].Release()
	}

	refs := []RowRef{{3, 2}, {1, 0}, {3, 0}, {1, 1}}
	span := touchBatches(batches, refs)
	assert.Equal(t, []int{3, 1}, span.used)
	assert.Equal(t, int64(6), span.rows)

	out, err := Interleave(mem, columnartest.Schema, batches, refs)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []columnartest.Row{
		{PID: 32, Value: "c"},
		{PID: 10, Value: "a"},
		{PID: 30, Value: "a"},
		{PID: 11, Value: "b"},
	}, columnartest.Rows(out))
}

func TestInterleave_Empty(t *testing.T) {
	out, err := Interleave(nil, columnartest.Schema, nil, nil)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, int64(0), out.NumRows())
	assert.Equal(t, int64(2), out.NumCols())
}

func TestInterleave_SchemaMismatch(t *testing.T) {
	other := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int32}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, other)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).Append(1)
	rec := b.NewRecordBatch()
	defer rec.Release()

	_, err := Interleave(nil, columnartest.Schema, []arrow.RecordBatch{rec}, []RowRef{{0, 0}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestInterleave_OutOfRange(t *testing.T) {
	b0 := columnartest.Batch(nil, []int64{1}, []string{"a"})
	defer b0.Release()

	_, err := Interleave(nil, columnartest.Schema, []arrow.RecordBatch{b0}, []RowRef{{0, 1}})
	assert.ErrorIs(t, err, ErrRowOutOfRange)

	_, err = Interleave(nil, columnartest.Schema, []arrow.RecordBatch{b0}, []RowRef{{1, 0}})
	assert.ErrorIs(t, err, ErrRowOutOfRange)
}

func TestMemSize(t *testing.T) {
	b0 := columnartest.Batch(nil, []int64{1, 2, 3, 4}, []string{"aa", "bb", "cc", "dd"})
	defer b0.Release()

	size := MemSize(b0)
	// 4 int64 values plus 8 bytes of string data at minimum.
	assert.GreaterOrEqual(t, size, 4*8+8)
	assert.Equal(t, 0, MemSize(nil))
	assert.Equal(t, 4, NumRows([]arrow.RecordBatch{b0}))
}
