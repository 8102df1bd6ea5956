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
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cardinalhq/lakeshuffle/internal/ipccompress"
)

// ErrCorruptIndex is returned by ReadIndex for malformed index data.
var ErrCorruptIndex = errors.New("shuffle: corrupt index")

// WriteIndex writes offsets as big-endian int64 values, the layout of a
// Spark shuffle index file.
func WriteIndex(w io.Writer, offsets []uint64) error {
	buf := make([]byte, 8*len(offsets))
	for i, off := range offsets {
		binary.BigEndian.PutUint64(buf[8*i:], off)
	}
	_, err := w.Write(buf)
	return err
}

// ReadIndex reads an index written by WriteIndex.
func ReadIndex(r io.Reader) ([]uint64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 || len(data) < 16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptIndex, len(data))
	}
	offsets := make([]uint64, len(data)/8)
	for i := range offsets {
		offsets[i] = binary.BigEndian.Uint64(data[8*i:])
		if i > 0 && offsets[i] < offsets[i-1] {
			return nil, fmt.Errorf("%w: offset %d decreases", ErrCorruptIndex, i)
		}
	}
	if offsets[0] != 0 {
		return nil, fmt.Errorf("%w: first offset is %d", ErrCorruptIndex, offsets[0])
	}
	return offsets, nil
}

// ReadPartition decodes the batches of one partition from data written by
// Write. opts must select the codec the data was written with.
func ReadPartition(r io.ReaderAt, offsets []uint64, partitionID int, opts ...ipccompress.Option) ([]arrow.RecordBatch, error) {
	if partitionID < 0 || partitionID >= len(offsets)-1 {
		return nil, fmt.Errorf("shuffle: partition %d out of range [0, %d)", partitionID, len(offsets)-1)
	}
	start, end := offsets[partitionID], offsets[partitionID+1]
	if start == end {
		return nil, nil
	}
	section := io.NewSectionReader(r, int64(start), int64(end-start))
	batches, err := ipccompress.ReadAll(section, opts...)
	if err != nil {
		return nil, fmt.Errorf("read partition %d: %w", partitionID, err)
	}
	return batches, nil
}

// WriteFiles writes bd to a data file and its offsets to an index file. Each
// file is written to a temporary name and renamed into place, the data file
// first.
func WriteFiles(ctx context.Context, bd *BufferedData, dataPath, indexPath string) (int, []uint64, error) {
	var (
		uncompressed int
		offsets      []uint64
	)
	err := writeFileAtomic(dataPath, func(w io.Writer) error {
		var err error
		uncompressed, offsets, err = bd.Write(ctx, w)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	err = writeFileAtomic(indexPath, func(w io.Writer) error {
		return WriteIndex(w, offsets)
	})
	if err != nil {
		return 0, nil, err
	}
	return uncompressed, offsets, nil
}

func writeFileAtomic(path string, fn func(w io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 256<<10)
	if err = fn(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
