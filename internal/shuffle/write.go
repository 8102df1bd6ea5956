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
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/dustin/go-humanize"

	"github.com/cardinalhq/lakeshuffle/internal/ipccompress"
	"github.com/cardinalhq/lakeshuffle/internal/logctx"
)

// RemoteWriter is a remote shuffle service sink addressed by partition id.
// Partitions are written in ascending id order, every write of one partition
// before any write of the next. Flush is called once after every partition
// was written.
type RemoteWriter interface {
	Write(ctx context.Context, partitionID int, p []byte) error
	Flush(ctx context.Context) error
}

// Write merges every buffered row and writes each partition, in ascending id
// order, as an independent compressed stream to w. It returns the total
// uncompressed size and an offsets table of PartitionCount()+1 entries where
// entry i is the byte offset at which partition i starts, so an empty
// partition i has offsets[i] == offsets[i+1].
//
// Write consumes the BufferedData.
func (b *BufferedData) Write(ctx context.Context, w io.Writer) (int, []uint64, error) {
	if b.consumed {
		return 0, nil, ErrConsumed
	}
	offsets := make([]uint64, b.numPartitions+1)
	if b.numRows == 0 {
		b.Release()
		return 0, offsets, nil
	}

	next := 0
	var offset uint64
	uncompressed, err := b.writePartitions(ctx,
		func(int) io.Writer { return w },
		func(pid int, written int64) error {
			for ; next <= pid; next++ {
				offsets[next] = offset
			}
			offset += uint64(written)
			return nil
		})
	if err != nil {
		return uncompressed, nil, err
	}
	for ; next <= b.numPartitions; next++ {
		offsets[next] = offset
	}

	logctx.FromContext(ctx).Debug("Wrote shuffle data",
		slog.String("uncompressed", humanize.IBytes(uint64(uncompressed))),
		slog.String("compressed", humanize.IBytes(offset)),
		slog.Int("partitions", b.numPartitions))
	return uncompressed, offsets, nil
}

// WriteRSS merges every buffered row and writes each partition to rw, then
// flushes rw once. It returns the total uncompressed size.
//
// WriteRSS consumes the BufferedData.
func (b *BufferedData) WriteRSS(ctx context.Context, rw RemoteWriter) (int, error) {
	if b.consumed {
		return 0, ErrConsumed
	}
	if b.numRows == 0 {
		b.Release()
		return 0, nil
	}

	uncompressed, err := b.writePartitions(ctx,
		func(pid int) io.Writer { return &partitionWriter{ctx: ctx, rw: rw, pid: pid} },
		func(int, int64) error { return nil })
	if err != nil {
		return uncompressed, err
	}
	if err := rw.Flush(ctx); err != nil {
		return uncompressed, fmt.Errorf("flush remote writer: %w", err)
	}

	logctx.FromContext(ctx).Debug("Wrote shuffle data to remote writer",
		slog.String("uncompressed", humanize.IBytes(uint64(uncompressed))),
		slog.Int("partitions", b.numPartitions))
	return uncompressed, nil
}

// writePartitions consumes b and writes one compressed stream per non-empty
// partition. sink returns the destination of a partition's stream and done
// is called with the compressed size once the stream is finished.
func (b *BufferedData) writePartitions(
	ctx context.Context,
	sink func(pid int) io.Writer,
	done func(pid int, written int64) error,
) (int, error) {
	opts, err := b.cfg.StreamOptions()
	if err != nil {
		b.Release()
		return 0, err
	}
	opts = append(opts, ipccompress.WithAllocator(b.mem))
	attrs := b.attrs

	pb, err := b.intoSortedBatches(ctx)
	if err != nil {
		return 0, err
	}
	defer pb.Close()

	uncompressed := 0
	curID := -1
	var cur *ipccompress.Writer
	finish := func() error {
		if cur == nil {
			return nil
		}
		written, err := cur.Finish()
		cur = nil
		if err != nil {
			return fmt.Errorf("finish partition %d: %w", curID, err)
		}
		compressedBytesCounter.Add(ctx, written, attrs)
		partitionsOutCounter.Add(ctx, 1, attrs)
		return done(curID, written)
	}

	err = pb.drain(ctx, func(pid int, batch arrow.RecordBatch) error {
		if pid != curID {
			if err := finish(); err != nil {
				return err
			}
			curID = pid
			cur = ipccompress.NewWriter(sink(pid), opts...)
		}
		n, err := cur.WriteBatch(batch)
		if err != nil {
			return fmt.Errorf("write partition %d: %w", pid, err)
		}
		uncompressed += n
		return nil
	})
	if err != nil {
		return uncompressed, err
	}
	if err := finish(); err != nil {
		return uncompressed, err
	}
	return uncompressed, nil
}

// partitionWriter adapts a RemoteWriter to the io.Writer of one partition.
type partitionWriter struct {
	ctx context.Context
	rw  RemoteWriter
	pid int
}

func (w *partitionWriter) Write(p []byte) (int, error) {
	if err := w.rw.Write(w.ctx, w.pid, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
