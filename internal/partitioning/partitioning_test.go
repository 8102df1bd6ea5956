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

package partitioning

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakeshuffle/internal/columnar/columnartest"
)

func TestEvaluatePartitionIDs_Range(t *testing.T) {
	hashes := []uint32{0, 1, 7, 0xffffffff, 0x80000000, 123456789}
	ids := EvaluatePartitionIDs(hashes, 7)
	require.Len(t, ids, len(hashes))
	for _, id := range ids {
		assert.Less(t, id, uint32(7))
	}
	assert.Equal(t, uint32(0), ids[0])
	assert.Equal(t, uint32(1), ids[1])
	assert.Equal(t, uint32(0), ids[2])
	// -1 mod 7 is 6 with a positive modulus.
	assert.Equal(t, uint32(6), ids[3])
}

func TestHashPartitioning_Deterministic(t *testing.T) {
	batch := columnartest.Batch(nil, []int64{1, 2, 3, 1}, []string{"a", "b", "c", "a"})
	defer batch.Release()

	for _, alg := range []Algorithm{Murmur3, XXHash64, XXH3} {
		t.Run(alg.String(), func(t *testing.T) {
			p := &HashPartitioning{Columns: []string{"pid", "value"}, NumPartitions: 16, Algorithm: alg}
			first, err := EvaluateHashes(p, batch)
			require.NoError(t, err)
			second, err := EvaluateHashes(p, batch)
			require.NoError(t, err)

			assert.Equal(t, first, second)
			// Rows 0 and 3 carry identical keys.
			assert.Equal(t, first[0], first[3])
			assert.NotEqual(t, first[0], first[1])
		})
	}
}

func TestHashPartitioning_NullsKeepSeed(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "k", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues([]int32{0, 5}, []bool{false, true})
	rec := b.NewRecordBatch()
	defer rec.Release()

	hashes, err := EvaluateHashes(&HashPartitioning{Columns: []string{"k"}, NumPartitions: 4}, rec)
	require.NoError(t, err)
	assert.Equal(t, hashSeed, hashes[0])
	assert.NotEqual(t, hashSeed, hashes[1])
}

func TestHashPartitioning_NarrowIntsHashAsInt32(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int16},
		{Name: "b", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int16Builder).AppendValues([]int16{-3, 900}, nil)
	b.Field(1).(*array.Int32Builder).AppendValues([]int32{-3, 900}, nil)
	rec := b.NewRecordBatch()
	defer rec.Release()

	ha, err := EvaluateHashes(&HashPartitioning{Columns: []string{"a"}, NumPartitions: 8}, rec)
	require.NoError(t, err)
	hb, err := EvaluateHashes(&HashPartitioning{Columns: []string{"b"}, NumPartitions: 8}, rec)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashPartitioning_Errors(t *testing.T) {
	batch := columnartest.Batch(nil, []int64{1}, []string{"a"})
	defer batch.Release()

	_, err := EvaluateHashes(&HashPartitioning{Columns: []string{"missing"}, NumPartitions: 2}, batch)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	_, err = EvaluateHashes(&HashPartitioning{Columns: []string{"pid"}, NumPartitions: 2, Algorithm: "crc"}, batch)
	assert.Error(t, err)

	schema := arrow.NewSchema([]arrow.Field{{Name: "l", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	lb := b.Field(0).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Int64Builder).Append(1)
	rec := b.NewRecordBatch()
	defer rec.Release()

	_, err = EvaluateHashes(&HashPartitioning{Columns: []string{"l"}, NumPartitions: 2}, rec)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestRoundRobinPartitioning_CarriesAcrossBatches(t *testing.T) {
	batch := columnartest.Batch(nil, []int64{0, 0, 0}, []string{"a", "b", "c"})
	defer batch.Release()

	p := NewRoundRobinPartitioning(2, 1)
	h1, err := EvaluateHashes(p, batch)
	require.NoError(t, err)
	h2, err := EvaluateHashes(p, batch)
	require.NoError(t, err)

	ids := EvaluatePartitionIDs(append(h1, h2...), p.PartitionCount())
	assert.Equal(t, []uint32{1, 0, 1, 0, 1, 0}, ids)
}

func TestSinglePartitioning(t *testing.T) {
	batch := columnartest.Batch(nil, []int64{4, 5}, []string{"a", "b"})
	defer batch.Release()

	hashes, err := EvaluateHashes(SinglePartitioning{}, batch)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 0}, EvaluatePartitionIDs(hashes, 1))
}

func TestPassthroughPartitioning(t *testing.T) {
	batch := columnartest.Batch(nil, []int64{2, 0, 1, 3}, []string{"a", "b", "c", "d"})
	defer batch.Release()

	p := &PassthroughPartitioning{Column: "pid", NumPartitions: 4}
	hashes, err := EvaluateHashes(p, batch)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 0, 1, 3}, EvaluatePartitionIDs(hashes, 4))

	_, err = EvaluateHashes(&PassthroughPartitioning{Column: "value", NumPartitions: 4}, batch)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&HashPartitioning{Columns: []string{"a"}, NumPartitions: 3}))
	assert.NoError(t, Validate(SinglePartitioning{}))
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(&HashPartitioning{NumPartitions: 3}))
	assert.Error(t, Validate(&PassthroughPartitioning{Column: "a", NumPartitions: 0}))
	assert.Error(t, Validate(NewRoundRobinPartitioning(MaxPartitions+1, 0)))
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, Murmur3, a)

	a, err = ParseAlgorithm("xxh3")
	require.NoError(t, err)
	assert.Equal(t, XXH3, a)

	_, err = ParseAlgorithm("md5")
	assert.Error(t, err)
}
