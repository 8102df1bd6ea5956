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

// Package kmerge selects the minimum-keyed cursor of a k-way merge whose
// keys are small non-negative integers.
package kmerge

// MaxRadixKeys is the largest key bound for which NewSelector builds a
// RadixQueue. Larger bounds use a HeapQueue.
var MaxRadixKeys = 1 << 20

// Keyed is a merge cursor. Key returns a value in [0, bound], where bound
// marks an exhausted cursor.
type Keyed interface {
	Key() int
}

// Selector tracks the cursor holding the smallest key.
//
// Peek returns that cursor. The caller may advance it, changing its key,
// and must then call Fix before the next Peek.
type Selector[C Keyed] interface {
	Peek() C
	Fix()
	Len() int
}

// NewSelector returns a RadixQueue when bound is small enough to bucket,
// and a HeapQueue otherwise. cursors must not be empty.
func NewSelector[C Keyed](cursors []C, bound int) Selector[C] {
	if bound <= MaxRadixKeys {
		return NewRadixQueue(cursors, bound)
	}
	return NewHeapQueue(cursors)
}
