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

// Package columnar holds the Arrow record batch primitives the shuffle
// writer is built on: resident memory accounting and row gathering.
package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// MemSize returns the number of bytes held by the buffers of every column in
// the batch, including child and dictionary data. Sliced arrays report the
// full size of the buffers they share.
func MemSize(batch arrow.RecordBatch) int {
	if batch == nil {
		return 0
	}
	size := 0
	for _, col := range batch.Columns() {
		size += ArrayMemSize(col)
	}
	return size
}

// ArrayMemSize returns the number of bytes held by the buffers of arr.
func ArrayMemSize(arr arrow.Array) int {
	return dataMemSize(arr.Data())
}

func dataMemSize(data arrow.ArrayData) int {
	size := 0
	for _, buf := range data.Buffers() {
		if buf != nil {
			size += buf.Len()
		}
	}
	for _, child := range data.Children() {
		size += dataMemSize(child)
	}
	if data.DataType().ID() == arrow.DICTIONARY {
		if dict := data.Dictionary(); dict != nil {
			size += dataMemSize(dict)
		}
	}
	return size
}

// NumRows sums the row counts of batches.
func NumRows(batches []arrow.RecordBatch) int {
	n := 0
	for _, b := range batches {
		n += int(b.NumRows())
	}
	return n
}
