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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/lakeshuffle/config"
	"github.com/cardinalhq/lakeshuffle/internal/ipccompress"
	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

type readOptions struct {
	dataPath  string
	indexPath string
	partition int
	stream    string
}

func init() {
	var opts readOptions
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the rows of one shuffle partition as JSON lines",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.stream == "" && (opts.dataPath == "" || opts.indexPath == "") {
				return errors.New("either --stream or both --data and --index are required")
			}

			ctx, shutdown, err := setupTelemetry("lakeshuffle-read", attribute.String("command", "read"))
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			start := time.Now()
			err = runRead(ctx, cfg, opts, c.OutOrStdout())
			recordDuration(ctx, "read", start, err)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.dataPath, "data", "", "Shuffle data file")
	cmd.Flags().StringVar(&opts.indexPath, "index", "", "Shuffle index file")
	cmd.Flags().IntVar(&opts.partition, "partition", 0, "Partition id to print")
	cmd.Flags().StringVar(&opts.stream, "stream", "", "Single partition stream written by the local remote backend")

	rootCmd.AddCommand(cmd)
}

func runRead(_ context.Context, cfg *config.Config, opts readOptions, out io.Writer) error {
	streamOpts, err := cfg.Shuffle.StreamOptions()
	if err != nil {
		return err
	}

	var batches []arrow.RecordBatch
	if opts.stream != "" {
		f, err := os.Open(opts.stream)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		batches, err = ipccompress.ReadAll(f, streamOpts...)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.stream, err)
		}
	} else {
		idx, err := os.Open(opts.indexPath)
		if err != nil {
			return err
		}
		offsets, err := shuffle.ReadIndex(idx)
		_ = idx.Close()
		if err != nil {
			return fmt.Errorf("read index %s: %w", opts.indexPath, err)
		}

		data, err := os.Open(opts.dataPath)
		if err != nil {
			return err
		}
		defer func() { _ = data.Close() }()
		batches, err = shuffle.ReadPartition(data, offsets, opts.partition, streamOpts...)
		if err != nil {
			return err
		}
	}
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	for _, b := range batches {
		if err := array.RecordToJSON(b, out); err != nil {
			return fmt.Errorf("encode rows: %w", err)
		}
	}
	return nil
}
