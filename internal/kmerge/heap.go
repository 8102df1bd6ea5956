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

import "container/heap"

// HeapQueue is a binary min-heap of cursors ordered by key. It serves key
// ranges too wide for a RadixQueue.
type HeapQueue[C Keyed] struct {
	h cursorHeap[C]
}

// NewHeapQueue heapifies cursors.
func NewHeapQueue[C Keyed](cursors []C) *HeapQueue[C] {
	q := &HeapQueue[C]{h: cursorHeap[C](cursors)}
	heap.Init(&q.h)
	return q
}

// Peek returns the cursor with the smallest key.
func (q *HeapQueue[C]) Peek() C {
	return q.h[0]
}

// Fix restores heap order after the peeked cursor's key changed.
func (q *HeapQueue[C]) Fix() {
	heap.Fix(&q.h, 0)
}

// Len returns the number of cursors, exhausted or not.
func (q *HeapQueue[C]) Len() int {
	return len(q.h)
}

type cursorHeap[C Keyed] []C

func (h cursorHeap[C]) Len() int           { return len(h) }
func (h cursorHeap[C]) Less(i, j int) bool { return h[i].Key() < h[j].Key() }
func (h cursorHeap[C]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push and Pop are required by heap.Interface; the cursor set is fixed.
func (h *cursorHeap[C]) Push(any) {}

func (h *cursorHeap[C]) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
