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

// Package partitioning assigns shuffle partition ids to the rows of a
// record batch.
package partitioning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// MaxPartitions is the largest partition count any scheme accepts.
const MaxPartitions = 1 << 24

var (
	// ErrUnsupportedType is returned when a partitioning column has a type
	// that cannot be hashed.
	ErrUnsupportedType = errors.New("partitioning: unsupported column type")

	// ErrColumnNotFound is returned when a partitioning column is missing
	// from the batch schema.
	ErrColumnNotFound = errors.New("partitioning: column not found")
)

// Partitioning describes how rows map onto PartitionCount() partitions.
type Partitioning interface {
	PartitionCount() int
	String() string
}

// HashPartitioning hashes the named columns of every row.
type HashPartitioning struct {
	Columns       []string
	NumPartitions int
	Algorithm     Algorithm
}

func (p *HashPartitioning) PartitionCount() int { return p.NumPartitions }

func (p *HashPartitioning) String() string {
	return fmt.Sprintf("HashPartitioning(%s, %d, %s)", strings.Join(p.Columns, ", "), p.NumPartitions, p.Algorithm)
}

// RoundRobinPartitioning deals rows out to partitions in turn. The counter
// carries across batches.
type RoundRobinPartitioning struct {
	NumPartitions int
	next          uint32
}

// NewRoundRobinPartitioning starts dealing at partition start.
func NewRoundRobinPartitioning(numPartitions int, start int) *RoundRobinPartitioning {
	return &RoundRobinPartitioning{NumPartitions: numPartitions, next: uint32(start)}
}

func (p *RoundRobinPartitioning) PartitionCount() int { return p.NumPartitions }

func (p *RoundRobinPartitioning) String() string {
	return fmt.Sprintf("RoundRobinPartitioning(%d)", p.NumPartitions)
}

// SinglePartitioning sends every row to partition 0.
type SinglePartitioning struct{}

func (SinglePartitioning) PartitionCount() int { return 1 }

func (SinglePartitioning) String() string { return "SinglePartitioning" }

// PassthroughPartitioning reads the partition id of each row from an integer
// column that an upstream operator already computed.
type PassthroughPartitioning struct {
	Column        string
	NumPartitions int
}

func (p *PassthroughPartitioning) PartitionCount() int { return p.NumPartitions }

func (p *PassthroughPartitioning) String() string {
	return fmt.Sprintf("PassthroughPartitioning(%s, %d)", p.Column, p.NumPartitions)
}

// Validate checks that a scheme can be used for a shuffle write.
func Validate(p Partitioning) error {
	if p == nil {
		return errors.New("partitioning: nil partitioning")
	}
	n := p.PartitionCount()
	if n <= 0 || n > MaxPartitions {
		return fmt.Errorf("partitioning: %s: partition count %d out of range [1, %d]", p, n, MaxPartitions)
	}
	if hp, ok := p.(*HashPartitioning); ok && len(hp.Columns) == 0 {
		return fmt.Errorf("partitioning: %s: no hash columns", p)
	}
	return nil
}

// EvaluateHashes returns one hash per row of batch.
func EvaluateHashes(p Partitioning, batch arrow.RecordBatch) ([]uint32, error) {
	numRows := int(batch.NumRows())
	hashes := make([]uint32, numRows)

	switch p := p.(type) {
	case *HashPartitioning:
		hasher, err := p.Algorithm.hasher()
		if err != nil {
			return nil, err
		}
		for i := range hashes {
			hashes[i] = hashSeed
		}
		for _, name := range p.Columns {
			col, err := column(batch, name)
			if err != nil {
				return nil, err
			}
			if err := hashColumn(hasher, col, hashes); err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
		}
	case *RoundRobinPartitioning:
		for i := range hashes {
			hashes[i] = p.next
			p.next++
		}
	case SinglePartitioning, *SinglePartitioning:
	case *PassthroughPartitioning:
		col, err := column(batch, p.Column)
		if err != nil {
			return nil, err
		}
		if err := passthroughIDs(col, hashes); err != nil {
			return nil, fmt.Errorf("column %s: %w", p.Column, err)
		}
	default:
		return nil, fmt.Errorf("partitioning: unsupported scheme %T", p)
	}
	return hashes, nil
}

// EvaluatePartitionIDs maps hashes onto [0, numPartitions) with a positive
// modulus of the signed hash value.
func EvaluatePartitionIDs(hashes []uint32, numPartitions int) []uint32 {
	ids := make([]uint32, len(hashes))
	n := int64(numPartitions)
	for i, h := range hashes {
		ids[i] = uint32(((int64(int32(h)) % n) + n) % n)
	}
	return ids
}

func column(batch arrow.RecordBatch, name string) (arrow.Array, error) {
	idx := batch.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return batch.Column(idx[0]), nil
}

func passthroughIDs(col arrow.Array, out []uint32) error {
	for i := range out {
		if col.IsNull(i) {
			continue
		}
		switch c := col.(type) {
		case *array.Int8:
			out[i] = uint32(c.Value(i))
		case *array.Int16:
			out[i] = uint32(c.Value(i))
		case *array.Int32:
			out[i] = uint32(c.Value(i))
		case *array.Int64:
			out[i] = uint32(c.Value(i))
		case *array.Uint8:
			out[i] = uint32(c.Value(i))
		case *array.Uint16:
			out[i] = uint32(c.Value(i))
		case *array.Uint32:
			out[i] = c.Value(i)
		case *array.Uint64:
			out[i] = uint32(c.Value(i))
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedType, col.DataType())
		}
	}
	return nil
}
