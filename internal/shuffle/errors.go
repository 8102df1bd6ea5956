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
	"errors"
	"fmt"
)

// ErrConsumed is returned by every method of a BufferedData that was
// already written or released.
var ErrConsumed = errors.New("shuffle: buffered data already consumed")

// EvaluationError reports a partitioning scheme that could not assign
// partition ids to a batch.
type EvaluationError struct {
	Partitioning string
	Err          error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("shuffle: evaluate partition ids with %s: %v", e.Partitioning, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// InvariantError reports an internal failure that should be impossible for
// well formed input, such as a row gather across mismatched schemas.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("shuffle: invariant violated during %s: %v", e.Op, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }
