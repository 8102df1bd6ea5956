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
	"fmt"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	rowsAddedCounter       otelmetric.Int64Counter
	partialSortsCounter    otelmetric.Int64Counter
	sortedRowsCounter      otelmetric.Int64Counter
	mergedBatchesCounter   otelmetric.Int64Counter
	partitionsOutCounter   otelmetric.Int64Counter
	compressedBytesCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakeshuffle/internal/shuffle")

	var err error
	rowsAddedCounter, err = meter.Int64Counter(
		"lakeshuffle.buffer.rows.added",
		otelmetric.WithDescription("Number of rows added to shuffle write buffers"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.added counter: %w", err))
	}

	partialSortsCounter, err = meter.Int64Counter(
		"lakeshuffle.buffer.partial_sorts",
		otelmetric.WithDescription("Number of staging flushes that produced a sorted run"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create partial_sorts counter: %w", err))
	}

	sortedRowsCounter, err = meter.Int64Counter(
		"lakeshuffle.buffer.rows.sorted",
		otelmetric.WithDescription("Number of rows sorted into runs"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.sorted counter: %w", err))
	}

	mergedBatchesCounter, err = meter.Int64Counter(
		"lakeshuffle.merge.batches",
		otelmetric.WithDescription("Number of batches emitted by the partition merge"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create merge.batches counter: %w", err))
	}

	partitionsOutCounter, err = meter.Int64Counter(
		"lakeshuffle.write.partitions",
		otelmetric.WithDescription("Number of non-empty partitions written"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create write.partitions counter: %w", err))
	}

	compressedBytesCounter, err = meter.Int64Counter(
		"lakeshuffle.write.bytes",
		otelmetric.WithDescription("Number of compressed bytes written"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create write.bytes counter: %w", err))
	}
}
