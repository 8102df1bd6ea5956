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

// Package columnartest builds small record batches for tests.
package columnartest

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Schema is a two column schema: an int64 "pid" column and a string "value"
// column.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "pid", Type: arrow.PrimitiveTypes.Int64},
	{Name: "value", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// Row is one decoded row of Schema.
type Row struct {
	PID   int64
	Value string
}

// Batch builds a batch of Schema. pids and values must have equal length.
func Batch(mem memory.Allocator, pids []int64, values []string) arrow.RecordBatch {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	b.Field(0).(*array.Int64Builder).AppendValues(pids, nil)
	b.Field(1).(*array.StringBuilder).AppendValues(values, nil)
	return b.NewRecordBatch()
}

// Rows decodes every row of a Schema batch.
func Rows(batch arrow.RecordBatch) []Row {
	pids := batch.Column(0).(*array.Int64)
	values := batch.Column(1).(*array.String)
	out := make([]Row, batch.NumRows())
	for i := range out {
		out[i] = Row{PID: pids.Value(i), Value: values.Value(i)}
	}
	return out
}

// CountingAllocator records the bytes requested from the wrapped allocator.
// Frees are not subtracted.
type CountingAllocator struct {
	memory.Allocator
	allocated atomic.Int64
}

func NewCountingAllocator() *CountingAllocator {
	return &CountingAllocator{Allocator: memory.NewGoAllocator()}
}

func (a *CountingAllocator) Allocate(size int) []byte {
	a.allocated.Add(int64(size))
	return a.Allocator.Allocate(size)
}

func (a *CountingAllocator) Reallocate(size int, b []byte) []byte {
	if grow := size - len(b); grow > 0 {
		a.allocated.Add(int64(grow))
	}
	return a.Allocator.Reallocate(size, b)
}

// Allocated returns the total bytes requested so far.
func (a *CountingAllocator) Allocated() int64 { return a.allocated.Load() }
