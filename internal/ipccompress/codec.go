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

// Package ipccompress writes and reads block-compressed Arrow IPC streams.
//
// A stream is a sequence of blocks. Each block is an 8 byte little-endian
// length followed by that many bytes of codec output; the decompressed
// payload is a complete Arrow IPC stream (schema, batches, end marker), so
// every block and every stream decodes on its own.
package ipccompress

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Codec compresses the payload of a block.
type Codec interface {
	Name() string
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// DefaultLevel asks a codec for its default compression level.
const DefaultLevel = 0

var codecs = map[string]Codec{}

func register(c Codec) {
	codecs[c.Name()] = c
}

// CodecByName returns a registered codec.
func CodecByName(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("ipccompress: unknown codec %q (known: %s)", name, strings.Join(CodecNames(), ", "))
	}
	return c, nil
}

// CodecNames lists registered codec names in sorted order.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type noneCodec struct{}

func init() {
	register(noneCodec{})
}

func (noneCodec) Name() string { return "none" }

func (noneCodec) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
