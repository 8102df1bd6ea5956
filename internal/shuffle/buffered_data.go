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

// Package shuffle buffers the record batches of one shuffle write, groups
// their rows by partition id and writes them out as per-partition compressed
// streams, either to a single data file with an offsets table or to a remote
// shuffle service.
//
// A BufferedData is single use and not safe for concurrent use. AddBatch
// stages batches and, once staging memory reaches the flush threshold, sorts
// the staged rows by partition id into a compacted run. Write and WriteRSS
// merge all runs in partition order and consume the BufferedData.
package shuffle

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakeshuffle/internal/columnar"
	"github.com/cardinalhq/lakeshuffle/internal/logctx"
	"github.com/cardinalhq/lakeshuffle/internal/partitioning"
	"github.com/cardinalhq/lakeshuffle/internal/rdxsort"
)

// Evaluator assigns a partition id in [0, p.PartitionCount()) to every row
// of batch.
type Evaluator interface {
	PartitionIDs(p partitioning.Partitioning, batch arrow.RecordBatch) ([]uint32, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(p partitioning.Partitioning, batch arrow.RecordBatch) ([]uint32, error)

func (f EvaluatorFunc) PartitionIDs(p partitioning.Partitioning, batch arrow.RecordBatch) ([]uint32, error) {
	return f(p, batch)
}

// HashEvaluator hashes rows with the partitioning scheme and maps the hashes
// onto partition ids.
var HashEvaluator Evaluator = EvaluatorFunc(func(p partitioning.Partitioning, batch arrow.RecordBatch) ([]uint32, error) {
	hashes, err := partitioning.EvaluateHashes(p, batch)
	if err != nil {
		return nil, err
	}
	return partitioning.EvaluatePartitionIDs(hashes, p.PartitionCount()), nil
})

// Option configures a BufferedData.
type Option func(*BufferedData)

// WithConfig replaces the default configuration. It also becomes the Sizer
// unless WithSizer is given.
func WithConfig(cfg Config) Option {
	return func(b *BufferedData) { b.cfg = cfg }
}

// WithSizer overrides the flush threshold and output batch sizing.
func WithSizer(s Sizer) Option {
	return func(b *BufferedData) { b.sizer = s }
}

// WithEvaluator overrides how partition ids are assigned.
func WithEvaluator(e Evaluator) Option {
	return func(b *BufferedData) { b.evaluator = e }
}

// WithAllocator sets the allocator used for compacted batches.
func WithAllocator(mem memory.Allocator) Option {
	return func(b *BufferedData) { b.mem = mem }
}

// BufferedData accumulates the batches of one shuffle write.
type BufferedData struct {
	partitioning  partitioning.Partitioning
	numPartitions int
	cfg           Config
	sizer         Sizer
	evaluator     Evaluator
	mem           memory.Allocator
	schema        *arrow.Schema
	attrs         otelmetric.MeasurementOption

	staging []arrow.RecordBatch
	// sorted[i] is a run grouped by partition id; sortedIDs[i] holds the id
	// of each of its rows.
	sorted    []arrow.RecordBatch
	sortedIDs [][]uint32

	numRows    int
	stagingMem int
	sortedMem  int
	consumed   bool
}

// NewBufferedData returns an empty BufferedData for the partitioning scheme.
func NewBufferedData(p partitioning.Partitioning, opts ...Option) (*BufferedData, error) {
	if err := partitioning.Validate(p); err != nil {
		return nil, err
	}
	b := &BufferedData{
		partitioning:  p,
		numPartitions: p.PartitionCount(),
		cfg:           DefaultConfig(),
		evaluator:     HashEvaluator,
		mem:           memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if b.sizer == nil {
		b.sizer = b.cfg
	}
	b.attrs = otelmetric.WithAttributeSet(attribute.NewSet(
		attribute.String("partitioning", partitioningKind(p)),
	))
	return b, nil
}

func partitioningKind(p partitioning.Partitioning) string {
	switch p.(type) {
	case *partitioning.HashPartitioning:
		return "hash"
	case *partitioning.RoundRobinPartitioning:
		return "round_robin"
	case *partitioning.PassthroughPartitioning:
		return "passthrough"
	case partitioning.SinglePartitioning, *partitioning.SinglePartitioning:
		return "single"
	}
	return "other"
}

// PartitionCount returns the number of output partitions.
func (b *BufferedData) PartitionCount() int { return b.numPartitions }

// NumRows returns the number of rows added so far.
func (b *BufferedData) NumRows() int { return b.numRows }

// NumRuns returns the number of sorted runs produced so far.
func (b *BufferedData) NumRuns() int { return len(b.sorted) }

// MemUsed returns the memory held by staged batches and sorted runs,
// including the partition id slices.
func (b *BufferedData) MemUsed() int { return b.stagingMem + b.sortedMem }

// AddBatch stages batch, flushing the staging area into a sorted run when it
// reaches the flush threshold. The batch is retained until the BufferedData
// is written or released. Batches without rows are ignored. A failed flush
// releases the BufferedData.
func (b *BufferedData) AddBatch(ctx context.Context, batch arrow.RecordBatch) error {
	if b.consumed {
		return ErrConsumed
	}
	rows := int(batch.NumRows())
	if rows == 0 {
		return nil
	}
	if b.schema == nil {
		b.schema = batch.Schema()
	} else if !b.schema.Equal(batch.Schema()) {
		return fmt.Errorf("add batch: %w", columnar.ErrSchemaMismatch)
	}

	batch.Retain()
	b.staging = append(b.staging, batch)
	b.numRows += rows
	b.stagingMem += columnar.MemSize(batch)
	rowsAddedCounter.Add(ctx, int64(rows), b.attrs)

	if b.stagingMem >= b.sizer.StagingFlushThreshold() {
		if err := b.flush(ctx); err != nil {
			// The staged rows are gone, so nothing written later could be
			// complete.
			b.Release()
			return err
		}
	}
	return nil
}

// rowEntry locates one staged row and its partition id.
type rowEntry struct {
	pid uint32
	ref columnar.RowRef
}

// flush sorts every staged row by partition id and compacts the rows into a
// new sorted run. Staging is empty afterwards, also on error.
func (b *BufferedData) flush(ctx context.Context) error {
	staging := b.staging
	stagingMem := b.stagingMem
	b.staging = nil
	b.stagingMem = 0
	defer func() {
		for _, batch := range staging {
			batch.Release()
		}
	}()
	if len(staging) == 0 {
		return nil
	}

	logctx.FromContext(ctx).Info("Sorting staged batches into run",
		slog.String("stagingMem", humanize.IBytes(uint64(stagingMem))),
		slog.String("totalMem", humanize.IBytes(uint64(stagingMem+b.sortedMem))),
		slog.Int("totalRows", b.numRows),
		slog.Int("runs", len(b.sorted)))

	entries := make([]rowEntry, 0, columnar.NumRows(staging))
	for bi, batch := range staging {
		ids, err := b.evaluator.PartitionIDs(b.partitioning, batch)
		if err != nil {
			return &EvaluationError{Partitioning: b.partitioning.String(), Err: err}
		}
		if len(ids) != int(batch.NumRows()) {
			return &EvaluationError{
				Partitioning: b.partitioning.String(),
				Err:          fmt.Errorf("got %d partition ids for %d rows", len(ids), batch.NumRows()),
			}
		}
		for ri, id := range ids {
			if int(id) >= b.numPartitions {
				return &EvaluationError{
					Partitioning: b.partitioning.String(),
					Err:          fmt.Errorf("partition id %d out of range [0, %d)", id, b.numPartitions),
				}
			}
			entries = append(entries, rowEntry{pid: id, ref: columnar.RowRef{Batch: bi, Row: ri}})
		}
	}

	b.sortEntries(entries)

	refs := make([]columnar.RowRef, len(entries))
	ids := make([]uint32, len(entries))
	for i, e := range entries {
		refs[i] = e.ref
		ids[i] = e.pid
	}

	run, err := columnar.Interleave(b.mem, b.schema, staging, refs)
	if err != nil {
		return &InvariantError{Op: "partial sort", Err: err}
	}
	b.sorted = append(b.sorted, run)
	b.sortedIDs = append(b.sortedIDs, ids)
	b.sortedMem += columnar.MemSize(run) + 4*len(ids)

	partialSortsCounter.Add(ctx, 1, b.attrs)
	sortedRowsCounter.Add(ctx, int64(len(ids)), b.attrs)
	return nil
}

// sortEntries groups entries by partition id. No order is kept within a
// partition.
func (b *BufferedData) sortEntries(entries []rowEntry) {
	if b.useRadixSort(len(entries)) {
		rdxsort.SortU16RangedBy(entries, b.numPartitions, func(e rowEntry) uint16 {
			return uint16(e.pid)
		})
		return
	}
	slices.SortFunc(entries, func(x, y rowEntry) int {
		return cmp.Compare(x.pid, y.pid)
	})
}

// useRadixSort reports whether a flush of rows rows is bucketed by radix
// sort. Flushes with fewer rows than partitions are compared instead.
func (b *BufferedData) useRadixSort(rows int) bool {
	return b.numPartitions < b.cfg.RadixSortMaxPartitions && rows >= b.numPartitions
}

// Release drops every buffered batch without writing. The BufferedData
// cannot be used afterwards.
func (b *BufferedData) Release() {
	for _, batch := range b.staging {
		batch.Release()
	}
	for _, batch := range b.sorted {
		batch.Release()
	}
	b.staging = nil
	b.sorted = nil
	b.sortedIDs = nil
	b.stagingMem = 0
	b.sortedMem = 0
	b.consumed = true
}
