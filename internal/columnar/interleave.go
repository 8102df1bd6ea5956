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
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	// sliceGatherFactor decides between the two gather strategies. When refs
	// average at least this many rows per contiguous segment, slicing and
	// concatenating beats building a take index.
	sliceGatherFactor = 8

	// takeSpanFactor caps the rows a take may concatenate. When the batches
	// touched by refs hold more than this many rows per ref, rows are sliced
	// out instead, so the gather allocates in proportion to its output.
	takeSpanFactor = 4
)

var (
	// ErrSchemaMismatch is returned when a source batch does not carry the
	// requested output schema.
	ErrSchemaMismatch = errors.New("columnar: schema mismatch")

	// ErrRowOutOfRange is returned when a RowRef points outside its batch.
	ErrRowOutOfRange = errors.New("columnar: row reference out of range")
)

// RowRef addresses one row of one batch in a slice of batches.
type RowRef struct {
	Batch int
	Row   int
}

type segment struct {
	batch      int
	start, end int
}

// Interleave gathers the rows addressed by refs, in order, into a new record
// batch with the given schema. Source batches are not modified and may be
// released by the caller once Interleave returns.
func Interleave(mem memory.Allocator, schema *arrow.Schema, batches []arrow.RecordBatch, refs []RowRef) (arrow.RecordBatch, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	for i, b := range batches {
		if !b.Schema().Equal(schema) {
			return nil, fmt.Errorf("%w: batch %d has schema %s, want %s", ErrSchemaMismatch, i, b.Schema(), schema)
		}
	}
	for _, ref := range refs {
		if ref.Batch < 0 || ref.Batch >= len(batches) || ref.Row < 0 || int64(ref.Row) >= batches[ref.Batch].NumRows() {
			return nil, fmt.Errorf("%w: batch %d row %d", ErrRowOutOfRange, ref.Batch, ref.Row)
		}
	}

	if len(refs) == 0 {
		return emptyBatch(mem, schema), nil
	}

	segs := coalesce(refs)
	span := touchBatches(batches, refs)

	var (
		cols []arrow.Array
		err  error
	)
	if len(segs)*sliceGatherFactor <= len(refs) || span.rows > int64(takeSpanFactor*len(refs)) {
		cols, err = gatherSlices(mem, schema, batches, segs)
	} else {
		cols, err = gatherTake(mem, schema, batches, refs, span)
	}
	if err != nil {
		return nil, err
	}
	defer releaseAll(cols)

	return array.NewRecordBatch(schema, cols, int64(len(refs))), nil
}

// coalesce folds consecutive refs into contiguous row ranges of one batch.
func coalesce(refs []RowRef) []segment {
	segs := make([]segment, 0, 16)
	cur := segment{batch: refs[0].Batch, start: refs[0].Row, end: refs[0].Row + 1}
	for _, ref := range refs[1:] {
		if ref.Batch == cur.batch && ref.Row == cur.end {
			cur.end++
			continue
		}
		segs = append(segs, cur)
		cur = segment{batch: ref.Batch, start: ref.Row, end: ref.Row + 1}
	}
	return append(segs, cur)
}

func gatherSlices(mem memory.Allocator, schema *arrow.Schema, batches []arrow.RecordBatch, segs []segment) ([]arrow.Array, error) {
	cols := make([]arrow.Array, 0, schema.NumFields())
	parts := make([]arrow.Array, len(segs))
	for c := range schema.NumFields() {
		for i, s := range segs {
			parts[i] = array.NewSlice(batches[s.batch].Column(c), int64(s.start), int64(s.end))
		}
		out, err := array.Concatenate(parts, mem)
		releaseAll(parts)
		if err != nil {
			releaseAll(cols)
			return nil, fmt.Errorf("concatenate column %s: %w", schema.Field(c).Name, err)
		}
		cols = append(cols, out)
	}
	return cols, nil
}

// batchSpan lists the batches a set of refs touches, in first-touch order,
// and where each starts in their concatenation.
type batchSpan struct {
	used []int
	base []int64 // per batch, start row in the concatenation or -1
	rows int64
}

func touchBatches(batches []arrow.RecordBatch, refs []RowRef) batchSpan {
	span := batchSpan{base: make([]int64, len(batches))}
	for i := range span.base {
		span.base[i] = -1
	}
	for _, ref := range refs {
		if span.base[ref.Batch] >= 0 {
			continue
		}
		span.base[ref.Batch] = span.rows
		span.rows += batches[ref.Batch].NumRows()
		span.used = append(span.used, ref.Batch)
	}
	return span
}

// gatherTake concatenates only the batches in span and takes the referenced
// rows out of that concatenation.
func gatherTake(mem memory.Allocator, schema *arrow.Schema, batches []arrow.RecordBatch, refs []RowRef, span batchSpan) ([]arrow.Array, error) {
	ctx := compute.WithAllocator(context.Background(), mem)

	ib := array.NewInt64Builder(mem)
	ib.Reserve(len(refs))
	for _, ref := range refs {
		ib.UnsafeAppend(span.base[ref.Batch] + int64(ref.Row))
	}
	indices := ib.NewArray()
	ib.Release()
	defer indices.Release()

	cols := make([]arrow.Array, 0, schema.NumFields())
	parts := make([]arrow.Array, len(span.used))
	for c := range schema.NumFields() {
		var values arrow.Array
		if len(span.used) == 1 {
			values = batches[span.used[0]].Column(c)
			values.Retain()
		} else {
			for i, bi := range span.used {
				parts[i] = batches[bi].Column(c)
			}
			var err error
			values, err = array.Concatenate(parts, mem)
			if err != nil {
				releaseAll(cols)
				return nil, fmt.Errorf("concatenate column %s: %w", schema.Field(c).Name, err)
			}
		}

		out, err := compute.TakeArray(ctx, values, indices)
		values.Release()
		if err != nil {
			releaseAll(cols)
			return nil, fmt.Errorf("take column %s: %w", schema.Field(c).Name, err)
		}
		cols = append(cols, out)
	}
	return cols, nil
}

func emptyBatch(mem memory.Allocator, schema *arrow.Schema) arrow.RecordBatch {
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = array.MakeArrayOfNull(mem, f.Type, 0)
	}
	defer releaseAll(cols)
	return array.NewRecordBatch(schema, cols, 0)
}

func releaseAll(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}
