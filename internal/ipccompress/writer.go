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
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultBlockSize is the uncompressed size at which a block is cut.
const DefaultBlockSize = 1 << 20

const blockHeaderSize = 8

// ErrFinished is returned when writing to a finished Writer.
var ErrFinished = errors.New("ipccompress: writer already finished")

type options struct {
	codec     Codec
	level     int
	blockSize int
	mem       memory.Allocator
}

// Option configures a Writer or Reader.
type Option func(*options)

// WithCodec selects the block codec. The default is zstd.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLevel sets the codec compression level.
func WithLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// WithBlockSize sets the uncompressed size at which a block is cut.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithAllocator sets the allocator used for IPC buffers.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) {
		if mem != nil {
			o.mem = mem
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		codec:     codecs["zstd"],
		level:     DefaultLevel,
		blockSize: DefaultBlockSize,
		mem:       memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Writer serializes record batches into compressed blocks on an underlying
// io.Writer. It is not safe for concurrent use.
type Writer struct {
	out  *CountingWriter
	opts options

	staging    bytes.Buffer
	compressed bytes.Buffer
	ipcw       *ipc.Writer

	uncompressed int
	finished     bool
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	return &Writer{
		out:  NewCountingWriter(w),
		opts: newOptions(opts),
	}
}

// WriteBatch appends batch to the current block and returns the number of
// uncompressed IPC bytes it produced. Batches within one block must share a
// schema.
func (w *Writer) WriteBatch(batch arrow.RecordBatch) (int, error) {
	if w.finished {
		return 0, ErrFinished
	}
	if batch.NumRows() == 0 {
		return 0, nil
	}
	if w.ipcw == nil {
		w.ipcw = ipc.NewWriter(&w.staging,
			ipc.WithSchema(batch.Schema()),
			ipc.WithAllocator(w.opts.mem),
		)
	}

	before := w.staging.Len()
	if err := w.ipcw.Write(batch); err != nil {
		return 0, fmt.Errorf("ipc write: %w", err)
	}
	n := w.staging.Len() - before
	w.uncompressed += n

	if w.staging.Len() >= w.opts.blockSize {
		if err := w.flushBlock(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (w *Writer) flushBlock() error {
	if w.ipcw == nil {
		return nil
	}
	if err := w.ipcw.Close(); err != nil {
		return fmt.Errorf("ipc close: %w", err)
	}
	w.ipcw = nil

	// The header is reserved up front so each block reaches the sink in a
	// single Write.
	var hdr [blockHeaderSize]byte
	w.compressed.Reset()
	w.compressed.Write(hdr[:])
	cw, err := w.opts.codec.NewWriter(&w.compressed, w.opts.level)
	if err != nil {
		return fmt.Errorf("%s writer: %w", w.opts.codec.Name(), err)
	}
	if _, err := cw.Write(w.staging.Bytes()); err != nil {
		_ = cw.Close()
		return fmt.Errorf("%s compress: %w", w.opts.codec.Name(), err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("%s compress: %w", w.opts.codec.Name(), err)
	}
	w.staging.Reset()

	block := w.compressed.Bytes()
	binary.LittleEndian.PutUint64(block[:blockHeaderSize], uint64(len(block)-blockHeaderSize))
	if _, err := w.out.Write(block); err != nil {
		return err
	}
	return nil
}

// Finish writes the pending block and returns the total number of bytes this
// Writer wrote to the underlying writer. The Writer cannot be used again.
func (w *Writer) Finish() (int64, error) {
	if w.finished {
		return w.out.Count(), nil
	}
	w.finished = true
	if err := w.flushBlock(); err != nil {
		return w.out.Count(), err
	}
	return w.out.Count(), nil
}

// Uncompressed returns the uncompressed bytes produced so far.
func (w *Writer) Uncompressed() int {
	return w.uncompressed
}

// CountingWriter counts the bytes written through it.
type CountingWriter struct {
	w io.Writer
	n int64
}

// NewCountingWriter wraps w.
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Count returns the number of bytes written so far.
func (c *CountingWriter) Count() int64 {
	return c.n
}
