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

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceCursor struct {
	keys  []int
	pos   int
	bound int
}

func (c *sliceCursor) Key() int {
	if c.pos >= len(c.keys) {
		return c.bound
	}
	return c.keys[c.pos]
}

func makeCursors(rng *rand.Rand, runs, maxLen, bound int) ([]*sliceCursor, []int) {
	var all []int
	cursors := make([]*sliceCursor, runs)
	for i := range cursors {
		n := rng.IntN(maxLen + 1)
		keys := make([]int, n)
		for j := range keys {
			keys[j] = rng.IntN(bound)
		}
		slices.Sort(keys)
		all = append(all, keys...)
		cursors[i] = &sliceCursor{keys: keys, bound: bound}
	}
	slices.Sort(all)
	return cursors, all
}

func drain(s Selector[*sliceCursor], bound int) []int {
	var out []int
	for {
		c := s.Peek()
		k := c.Key()
		if k >= bound {
			return out
		}
		out = append(out, k)
		c.pos++
		s.Fix()
	}
}

func TestSelectors_ProduceSortedKeys(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, bound := range []int{1, 3, 64, 5000} {
		for _, runs := range []int{1, 2, 9, 40} {
			cursors, want := makeCursors(rng, runs, 50, bound)
			got := drain(NewRadixQueue(cursors, bound), bound)
			assert.Equal(t, want, got, "radix bound=%d runs=%d", bound, runs)

			cursors, want = makeCursors(rng, runs, 50, bound)
			got = drain(NewHeapQueue(cursors), bound)
			assert.Equal(t, want, got, "heap bound=%d runs=%d", bound, runs)
		}
	}
}

func TestRadixQueue_AllExhausted(t *testing.T) {
	cursors := []*sliceCursor{{bound: 4}, {bound: 4}}
	q := NewRadixQueue(cursors, 4)
	assert.Equal(t, 4, q.Peek().Key())
	assert.Equal(t, 2, q.Len())
}

func TestRadixQueue_KeyMovingBackwards(t *testing.T) {
	a := &sliceCursor{keys: []int{2, 0}, bound: 8}
	b := &sliceCursor{keys: []int{1}, bound: 8}
	q := NewRadixQueue([]*sliceCursor{a, b}, 8)

	require.Same(t, b, q.Peek())
	b.pos++
	q.Fix()

	require.Same(t, a, q.Peek())
	require.Equal(t, 2, a.Key())
	a.pos++
	q.Fix()

	// a now holds key 0, below the sweep position.
	require.Same(t, a, q.Peek())
	assert.Equal(t, 0, q.Peek().Key())
}

func TestRadixQueue_TiesStayOnCursor(t *testing.T) {
	a := &sliceCursor{keys: []int{1, 1, 1}, bound: 4}
	b := &sliceCursor{keys: []int{1, 3}, bound: 4}
	q := NewRadixQueue([]*sliceCursor{a, b}, 4)

	first := q.Peek()
	first.pos++
	q.Fix()
	assert.Same(t, first, q.Peek(), "cursor with an unchanged key stays selected")
}

func TestNewSelector_ChoosesByBound(t *testing.T) {
	old := MaxRadixKeys
	defer func() { MaxRadixKeys = old }()
	MaxRadixKeys = 16

	cursors := []*sliceCursor{{keys: []int{3}, bound: 100}}
	_, isHeap := NewSelector(cursors, 100).(*HeapQueue[*sliceCursor])
	assert.True(t, isHeap)

	_, isRadix := NewSelector(cursors, 16).(*RadixQueue[*sliceCursor])
	assert.True(t, isRadix)
}
