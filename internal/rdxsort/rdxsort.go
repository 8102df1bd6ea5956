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

// Package rdxsort sorts slices by small integer keys with an in-place
// bucket permutation.
package rdxsort

// SortU16RangedBy sorts items in place by key. Every key must be below
// numKeys, and numKeys must not exceed 65536. The sort is not stable.
func SortU16RangedBy[T any](items []T, numKeys int, key func(T) uint16) {
	if len(items) < 2 || numKeys <= 1 {
		return
	}

	// next[k] is the next unfilled slot of bucket k, end[k] is one past it.
	next := make([]int, numKeys)
	end := make([]int, numKeys)
	for _, it := range items {
		end[key(it)]++
	}
	pos := 0
	for k, n := range end {
		next[k] = pos
		pos += n
		end[k] = pos
	}

	// Swap misplaced items into their bucket until every bucket holds only
	// its own key. Each swap fixes at least one item.
	for k := range numKeys {
		for next[k] < end[k] {
			dst := int(key(items[next[k]]))
			if dst == k {
				next[k]++
				continue
			}
			items[next[k]], items[next[dst]] = items[next[dst]], items[next[k]]
			next[dst]++
		}
	}
}
