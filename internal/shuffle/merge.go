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

package shuffle

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cardinalhq/lakeshuffle/internal/columnar"
	"github.com/cardinalhq/lakeshuffle/internal/kmerge"
)

// runCursor walks one sorted run. pid is the partition id of the current
// row, or bound once the run is exhausted.
type runCursor struct {
	run   int
	row   int
	pid   int
	ids   []uint32
	bound int
}

func newRunCursor(run int, ids []uint32, bound int) *runCursor {
	c := &runCursor{run: run, row: -1, ids: ids, bound: bound}
	c.advance()
	return c
}

func (c *runCursor) Key() int { return c.pid }

func (c *runCursor) advance() {
	c.row++
	if c.row < len(c.ids) {
		c.pid = int(c.ids[c.row])
	} else {
		c.pid = c.bound
	}
}

// partitionedBatches merges sorted runs into batches of a single partition
// id, in non-decreasing id order. It owns the runs and releases them on
// Close.
type partitionedBatches struct {
	mem       memory.Allocator
	schema    *arrow.Schema
	runs      []arrow.RecordBatch
	sel       kmerge.Selector[*runCursor]
	bound     int
	batchSize int
	remaining int
	refs      []columnar.RowRef
}

// intoSortedBatches flushes any staged rows and hands the sorted runs to a
// merge. The BufferedData is consumed, also when an error is returned.
func (b *BufferedData) intoSortedBatches(ctx context.Context) (*partitionedBatches, error) {
	if b.consumed {
		return nil, ErrConsumed
	}
	if len(b.staging) > 0 {
		if err := b.flush(ctx); err != nil {
			b.Release()
			return nil, err
		}
	}

	sortedRows := 0
	for _, ids := range b.sortedIDs {
		sortedRows += len(ids)
	}
	if sortedRows != b.numRows {
		b.Release()
		return nil, &InvariantError{
			Op:  "merge",
			Err: fmt.Errorf("sorted runs hold %d rows, %d were added", sortedRows, b.numRows),
		}
	}

	batchSize := max(1, b.sizer.SuggestedBatchSize(b.MemUsed(), b.numRows))
	cursors := make([]*runCursor, len(b.sorted))
	for i, ids := range b.sortedIDs {
		cursors[i] = newRunCursor(i, ids, b.numPartitions)
	}

	pb := &partitionedBatches{
		mem:       b.mem,
		schema:    b.schema,
		runs:      b.sorted,
		bound:     b.numPartitions,
		batchSize: batchSize,
		remaining: b.numRows,
	}
	if len(cursors) > 0 {
		pb.sel = kmerge.NewSelector(cursors, b.numPartitions)
	}

	b.sorted = nil
	b.sortedIDs = nil
	b.Release()
	return pb, nil
}

// Next returns the next batch and its partition id, or io.EOF once every
// row was returned. The caller owns the batch.
func (pb *partitionedBatches) Next(ctx context.Context) (int, arrow.RecordBatch, error) {
	if pb.remaining == 0 {
		return 0, nil, io.EOF
	}

	curID := pb.sel.Peek().Key()
	if curID >= pb.bound {
		return 0, nil, &InvariantError{
			Op:  "merge",
			Err: fmt.Errorf("all runs exhausted with %d rows remaining", pb.remaining),
		}
	}

	budget := min(pb.batchSize, pb.remaining)
	refs := pb.refs[:0]
	for len(refs) < budget {
		c := pb.sel.Peek()
		if c.pid != curID {
			break
		}
		for c.pid == curID && len(refs) < budget {
			refs = append(refs, columnar.RowRef{Batch: c.run, Row: c.row})
			c.advance()
		}
		pb.sel.Fix()
	}
	pb.refs = refs
	pb.remaining -= len(refs)

	batch, err := columnar.Interleave(pb.mem, pb.schema, pb.runs, refs)
	if err != nil {
		return 0, nil, &InvariantError{Op: "merge", Err: err}
	}
	mergedBatchesCounter.Add(ctx, 1)
	return curID, batch, nil
}

// Close releases the runs.
func (pb *partitionedBatches) Close() {
	for _, run := range pb.runs {
		run.Release()
	}
	pb.runs = nil
}

// drain calls fn with every merged batch and releases the batch afterwards.
func (pb *partitionedBatches) drain(ctx context.Context, fn func(pid int, batch arrow.RecordBatch) error) error {
	for {
		pid, batch, err := pb.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = fn(pid, batch)
		batch.Release()
		if err != nil {
			return err
		}
	}
}
