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
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec pools encoders by level. A fresh zstd encoder allocates large
// history buffers, and a shuffle write opens one stream per partition.
type zstdCodec struct {
	encoderPools sync.Map // map[zstd.EncoderLevel]*sync.Pool
}

func init() {
	register(&zstdCodec{})
}

func (*zstdCodec) Name() string { return "zstd" }

func (p *zstdCodec) getEncoderPool(level zstd.EncoderLevel) *sync.Pool {
	if pool, ok := p.encoderPools.Load(level); ok {
		return pool.(*sync.Pool)
	}

	newPool := &sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil,
				zstd.WithZeroFrames(true),
				zstd.WithEncoderLevel(level),
			)
			return enc
		},
	}

	actual, _ := p.encoderPools.LoadOrStore(level, newPool)
	return actual.(*sync.Pool)
}

func encoderLevel(level int) zstd.EncoderLevel {
	if level == DefaultLevel {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(level)
}

// NewWriter borrows a pooled encoder; Close returns it.
func (p *zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	lvl := encoderLevel(level)
	enc := p.getEncoderPool(lvl).Get().(*zstd.Encoder)
	enc.Reset(w)
	return &pooledZstdWriter{enc: enc, level: lvl, codec: p}, nil
}

func (p *zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{dec}, nil
}

type pooledZstdWriter struct {
	enc   *zstd.Encoder
	level zstd.EncoderLevel
	codec *zstdCodec
}

func (w *pooledZstdWriter) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

func (w *pooledZstdWriter) Close() error {
	err := w.enc.Close()
	w.enc.Reset(nil)
	w.codec.getEncoderPool(w.level).Put(w.enc)
	return err
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
