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

package rss

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	writeBytes   metric.Int64Counter
	uploadCount  metric.Int64Counter
	uploadBytes  metric.Int64Counter
	uploadErrors metric.Int64Counter
	nackCount    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakeshuffle/internal/rss")

	var err error
	writeBytes, err = meter.Int64Counter(
		"lakeshuffle.rss.write.bytes",
		metric.WithDescription("Bytes handed to remote shuffle writers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create write.bytes counter: %w", err))
	}

	uploadCount, err = meter.Int64Counter(
		"lakeshuffle.rss.upload.count",
		metric.WithDescription("Number of partition objects uploaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"lakeshuffle.rss.upload.bytes",
		metric.WithDescription("Bytes uploaded as partition objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	uploadErrors, err = meter.Int64Counter(
		"lakeshuffle.rss.upload.errors",
		metric.WithDescription("Number of failed partition uploads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.errors counter: %w", err))
	}

	nackCount, err = meter.Int64Counter(
		"lakeshuffle.rss.amqp.nacks",
		metric.WithDescription("Number of AMQP publishes rejected by the broker"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create amqp.nacks counter: %w", err))
	}
}
