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

package rss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/lakeshuffle/internal/logctx"
	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

var _ shuffle.RemoteWriter = (*ObjectStoreWriter)(nil)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	Backend() string
}

// ObjectStoreWriter uploads one object per partition. Partitions must arrive
// in ascending id order: a partition is buffered in memory until the next one
// starts, then uploaded in the background while at most concurrency uploads
// are in flight. Memory is bounded by the partitions being uploaded, not by
// the whole shuffle output.
type ObjectStoreWriter struct {
	up          Uploader
	prefix      string
	shuffleID   string
	concurrency int

	cur      int
	buf      *bytes.Buffer
	uploaded int // partitions handed to uploads since the last Flush
	size     int64
	last     int // highest partition id handed off, or -1
	g        *errgroup.Group
	gctx     context.Context
}

func NewObjectStoreWriter(up Uploader, prefix, shuffleID string, concurrency int) *ObjectStoreWriter {
	return &ObjectStoreWriter{
		up:          up,
		prefix:      prefix,
		shuffleID:   shuffleID,
		concurrency: max(1, concurrency),
		last:        -1,
	}
}

// Key returns the object key of a partition.
func (w *ObjectStoreWriter) Key(partitionID int) string {
	return ObjectKey(w.prefix, w.shuffleID, partitionID)
}

func (w *ObjectStoreWriter) Write(ctx context.Context, partitionID int, p []byte) error {
	if w.buf == nil || partitionID != w.cur {
		if partitionID <= w.last || (w.buf != nil && partitionID < w.cur) {
			return fmt.Errorf("partition %d written out of order", partitionID)
		}
		if w.g != nil {
			if cerr := w.gctx.Err(); cerr != nil {
				if err := w.wait(); err != nil {
					return err
				}
				return cerr
			}
		}
		w.handOff(ctx)
		w.cur = partitionID
		w.buf = &bytes.Buffer{}
	}
	w.buf.Write(p)
	writeBytes.Add(ctx, int64(len(p)), metric.WithAttributes(attribute.String("backend", w.up.Backend())))
	return nil
}

// handOff starts the upload of the current partition. It blocks while
// concurrency uploads are already running.
func (w *ObjectStoreWriter) handOff(ctx context.Context) {
	if w.buf == nil {
		return
	}
	if w.g == nil {
		w.g, w.gctx = errgroup.WithContext(ctx)
		w.g.SetLimit(w.concurrency)
	}
	id, buf, key := w.cur, w.buf, w.Key(w.cur)
	gctx := w.gctx
	attrs := metric.WithAttributes(attribute.String("backend", w.up.Backend()))
	w.g.Go(func() error {
		size := int64(buf.Len())
		if err := w.up.Upload(gctx, key, bytes.NewReader(buf.Bytes()), size); err != nil {
			uploadErrors.Add(gctx, 1, attrs)
			return fmt.Errorf("upload partition %d to %s: %w", id, key, err)
		}
		uploadCount.Add(gctx, 1, attrs)
		uploadBytes.Add(gctx, size, attrs)
		return nil
	})
	w.uploaded++
	w.size += int64(buf.Len())
	w.last = w.cur
	w.buf = nil
}

// wait blocks until every started upload finished and resets the writer for
// the next shuffle.
func (w *ObjectStoreWriter) wait() error {
	var err error
	if w.g != nil {
		err = w.g.Wait()
	}
	w.g, w.gctx = nil, nil
	w.buf = nil
	w.uploaded, w.size = 0, 0
	w.last = -1
	return err
}

// Flush uploads the last partition and waits for every upload.
func (w *ObjectStoreWriter) Flush(ctx context.Context) error {
	w.handOff(ctx)
	logctx.FromContext(ctx).Info("Waiting for shuffle partition uploads",
		slog.String("backend", w.up.Backend()),
		slog.Int("partitions", w.uploaded),
		slog.String("size", humanize.IBytes(uint64(w.size))))
	return w.wait()
}

// Close waits for running uploads and drops a partition that was never
// flushed.
func (w *ObjectStoreWriter) Close() error {
	w.buf = nil
	return w.wait()
}
