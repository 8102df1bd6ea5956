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

package kmerge

// RadixQueue is a bucket queue over keys in [0, bound). Each bucket is an
// intrusive list of cursor indices and a minimum pointer sweeps upward, so a
// merge whose cursors only move forward costs O(bound + steps) in total.
//
// The peeked cursor is held outside the buckets until Fix re-files it.
type RadixQueue[C Keyed] struct {
	cursors []C
	bound   int
	head    []int32 // per key, first cursor index or -1
	next    []int32 // per cursor, next cursor index in the same bucket or -1
	min     int
	top     int
	topKey  int
}

// NewRadixQueue files every live cursor under its key and selects the first
// minimum.
func NewRadixQueue[C Keyed](cursors []C, bound int) *RadixQueue[C] {
	q := &RadixQueue[C]{
		cursors: cursors,
		bound:   bound,
		head:    make([]int32, bound),
		next:    make([]int32, len(cursors)),
		min:     bound,
	}
	for k := range q.head {
		q.head[k] = -1
	}
	for i := len(cursors) - 1; i >= 0; i-- {
		q.push(i)
	}
	q.top = 0
	q.topKey = q.keyOf(0)
	q.pop()
	return q
}

func (q *RadixQueue[C]) keyOf(i int) int {
	k := q.cursors[i].Key()
	if k < 0 || k > q.bound {
		return q.bound
	}
	return k
}

func (q *RadixQueue[C]) push(i int) {
	k := q.keyOf(i)
	if k >= q.bound {
		return
	}
	q.next[i] = q.head[k]
	q.head[k] = int32(i)
	if k < q.min {
		q.min = k
	}
}

// pop moves the first cursor of the lowest non-empty bucket to top. When
// every bucket is empty the current top stays selected.
func (q *RadixQueue[C]) pop() {
	for q.min < q.bound && q.head[q.min] < 0 {
		q.min++
	}
	if q.min >= q.bound {
		return
	}
	i := int(q.head[q.min])
	q.head[q.min] = q.next[i]
	q.top = i
	q.topKey = q.min
}

// Peek returns the cursor with the smallest key. Once every cursor is
// exhausted it returns one whose key equals the bound.
func (q *RadixQueue[C]) Peek() C {
	return q.cursors[q.top]
}

// Fix re-files the peeked cursor after its key changed. A cursor whose key
// went down is handled by rewinding the minimum pointer.
func (q *RadixQueue[C]) Fix() {
	k := q.keyOf(q.top)
	if k == q.topKey && k < q.bound {
		return
	}
	q.push(q.top)
	q.topKey = k
	q.pop()
}

// Len returns the number of cursors, exhausted or not.
func (q *RadixQueue[C]) Len() int {
	return len(q.cursors)
}
