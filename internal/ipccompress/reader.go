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
)

// ErrCorrupt is returned for streams that end inside a block.
var ErrCorrupt = errors.New("ipccompress: corrupt stream")

// Reader decodes a stream written by Writer.
type Reader struct {
	r    io.Reader
	opts options
	cur  *ipc.Reader
}

// NewReader returns a Reader over r. The codec option must match the one the
// stream was written with.
func NewReader(r io.Reader, opts ...Option) *Reader {
	return &Reader{r: r, opts: newOptions(opts)}
}

// Next returns the next record batch, or io.EOF at the end of the stream.
// The caller owns the returned batch and must release it.
func (r *Reader) Next() (arrow.RecordBatch, error) {
	for {
		if r.cur != nil {
			if r.cur.Next() {
				rec := r.cur.Record()
				rec.Retain()
				return rec, nil
			}
			err := r.cur.Err()
			r.cur.Release()
			r.cur = nil
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("ipc read: %w", err)
			}
		}
		if err := r.nextBlock(); err != nil {
			return nil, err
		}
	}
}

func (r *Reader) nextBlock() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		return err
	}
	size := int64(binary.LittleEndian.Uint64(hdr[:]))

	body := io.LimitReader(r.r, size)
	dr, err := r.opts.codec.NewReader(body)
	if err != nil {
		return fmt.Errorf("%s reader: %w", r.opts.codec.Name(), err)
	}
	payload, err := io.ReadAll(dr)
	_ = dr.Close()
	if err != nil {
		return fmt.Errorf("%w: %s decompress: %v", ErrCorrupt, r.opts.codec.Name(), err)
	}
	if rest, err := io.Copy(io.Discard, body); err != nil {
		return err
	} else if rest > 0 {
		return fmt.Errorf("%w: %d trailing bytes in block", ErrCorrupt, rest)
	}

	ir, err := ipc.NewReader(bytes.NewReader(payload), ipc.WithAllocator(r.opts.mem))
	if err != nil {
		return fmt.Errorf("ipc reader: %w", err)
	}
	r.cur = ir
	return nil
}

// Close releases the block being decoded.
func (r *Reader) Close() {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
}

// ReadAll decodes every batch of a stream.
func ReadAll(r io.Reader, opts ...Option) ([]arrow.RecordBatch, error) {
	rd := NewReader(r, opts...)
	defer rd.Close()

	var out []arrow.RecordBatch
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			for _, b := range out {
				b.Release()
			}
			return nil, err
		}
		out = append(out, rec)
	}
}
