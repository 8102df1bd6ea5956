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

package partitioning

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// hashSeed is the initial running hash of every row.
const hashSeed uint32 = 42

// Algorithm names the hash function used by HashPartitioning.
type Algorithm string

const (
	Murmur3  Algorithm = "murmur3"
	XXHash64 Algorithm = "xxhash64"
	XXH3     Algorithm = "xxh3"
)

// ParseAlgorithm accepts the names used in configuration. An empty string
// selects Murmur3.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", Murmur3:
		return Murmur3, nil
	case XXHash64, XXH3:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("partitioning: unknown hash algorithm %q", s)
}

func (a Algorithm) String() string {
	if a == "" {
		return string(Murmur3)
	}
	return string(a)
}

// hashFunc folds data into the running hash seed of a row.
type hashFunc func(data []byte, seed uint32) uint32

func (a Algorithm) hasher() (hashFunc, error) {
	switch a {
	case "", Murmur3:
		return murmur3.Sum32WithSeed, nil
	case XXHash64:
		return xxhash64Seeded, nil
	case XXH3:
		return xxh3Seeded, nil
	}
	return nil, fmt.Errorf("partitioning: unknown hash algorithm %q", string(a))
}

func xxhash64Seeded(data []byte, seed uint32) uint32 {
	h := xxhash.Sum64(data) ^ (uint64(seed) * 0x9e3779b97f4a7c15)
	h ^= h >> 29
	return uint32(h ^ h>>32)
}

func xxh3Seeded(data []byte, seed uint32) uint32 {
	h := xxh3.HashSeed(data, uint64(seed))
	return uint32(h ^ h>>32)
}

// hashColumn folds every non-null value of col into hashes. Integers
// narrower than 32 bits hash as 32-bit values so that a column keeps its
// partitioning when widened.
func hashColumn(hash hashFunc, col arrow.Array, hashes []uint32) error {
	var scratch [8]byte
	hash32 := func(i int, v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		hashes[i] = hash(scratch[:4], hashes[i])
	}
	hash64 := func(i int, v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		hashes[i] = hash(scratch[:], hashes[i])
	}

	switch c := col.(type) {
	case *array.Boolean:
		for i := range hashes {
			if c.IsValid(i) {
				var v uint32
				if c.Value(i) {
					v = 1
				}
				hash32(i, v)
			}
		}
	case *array.Int8:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, uint32(int32(c.Value(i))))
			}
		}
	case *array.Int16:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, uint32(int32(c.Value(i))))
			}
		}
	case *array.Int32:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, uint32(c.Value(i)))
			}
		}
	case *array.Int64:
		for i := range hashes {
			if c.IsValid(i) {
				hash64(i, uint64(c.Value(i)))
			}
		}
	case *array.Uint8:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, uint32(c.Value(i)))
			}
		}
	case *array.Uint16:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, uint32(c.Value(i)))
			}
		}
	case *array.Uint32:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, c.Value(i))
			}
		}
	case *array.Uint64:
		for i := range hashes {
			if c.IsValid(i) {
				hash64(i, c.Value(i))
			}
		}
	case *array.Float32:
		for i := range hashes {
			if c.IsValid(i) {
				v := c.Value(i)
				if v == 0 {
					v = 0 // -0.0 hashes like 0.0
				}
				hash32(i, math.Float32bits(v))
			}
		}
	case *array.Float64:
		for i := range hashes {
			if c.IsValid(i) {
				v := c.Value(i)
				if v == 0 {
					v = 0
				}
				hash64(i, math.Float64bits(v))
			}
		}
	case *array.Date32:
		for i := range hashes {
			if c.IsValid(i) {
				hash32(i, uint32(c.Value(i)))
			}
		}
	case *array.Date64:
		for i := range hashes {
			if c.IsValid(i) {
				hash64(i, uint64(c.Value(i)))
			}
		}
	case *array.Timestamp:
		for i := range hashes {
			if c.IsValid(i) {
				hash64(i, uint64(c.Value(i)))
			}
		}
	case *array.String:
		for i := range hashes {
			if c.IsValid(i) {
				hashes[i] = hash([]byte(c.Value(i)), hashes[i])
			}
		}
	case *array.LargeString:
		for i := range hashes {
			if c.IsValid(i) {
				hashes[i] = hash([]byte(c.Value(i)), hashes[i])
			}
		}
	case *array.Binary:
		for i := range hashes {
			if c.IsValid(i) {
				hashes[i] = hash(c.Value(i), hashes[i])
			}
		}
	case *array.LargeBinary:
		for i := range hashes {
			if c.IsValid(i) {
				hashes[i] = hash(c.Value(i), hashes[i])
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, col.DataType())
	}
	return nil
}
