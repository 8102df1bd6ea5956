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

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/lakeshuffle/config"
	"github.com/cardinalhq/lakeshuffle/internal/logctx"
	"github.com/cardinalhq/lakeshuffle/internal/partitioning"
	"github.com/cardinalhq/lakeshuffle/internal/rss"
	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

type writeOptions struct {
	inputs       []string
	dataPath     string
	indexPath    string
	useRSS       bool
	shuffleID    string
	mapID        int64
	scheme       string
	partitions   int
	columns      []string
	algorithm    string
	readBatchLen int
}

func init() {
	var opts writeOptions
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Partition Parquet files into shuffle output",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.Flags().Changed("partitions") {
				cfg.Partitioning.NumPartitions = opts.partitions
			}
			if c.Flags().Changed("columns") {
				cfg.Partitioning.Columns = opts.columns
			}
			if c.Flags().Changed("algorithm") {
				cfg.Partitioning.Algorithm = opts.algorithm
			}
			if opts.shuffleID != "" {
				cfg.RSS.ShuffleID = opts.shuffleID
			}
			if !opts.useRSS && (opts.dataPath == "" || opts.indexPath == "") {
				return errors.New("--data and --index are required unless --rss is set")
			}

			ctx, shutdown, err := setupTelemetry("lakeshuffle-write", attribute.String("command", "write"))
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			start := time.Now()
			err = runWrite(ctx, cfg, opts)
			recordDuration(ctx, "write", start, err)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&opts.inputs, "input", nil, "Parquet file to read, may be repeated")
	cmd.Flags().StringVar(&opts.dataPath, "data", "", "Shuffle data file to write")
	cmd.Flags().StringVar(&opts.indexPath, "index", "", "Shuffle index file to write")
	cmd.Flags().BoolVar(&opts.useRSS, "rss", false, "Write to the configured remote shuffle backend instead of files")
	cmd.Flags().StringVar(&opts.shuffleID, "shuffle-id", "", "Shuffle id used by remote backends (default: random)")
	cmd.Flags().Int64Var(&opts.mapID, "map-id", 0, "Map task id, for logging")
	cmd.Flags().StringVar(&opts.scheme, "scheme", "hash", "Partitioning scheme: hash, roundrobin, single or passthrough")
	cmd.Flags().IntVar(&opts.partitions, "partitions", 0, "Number of partitions")
	cmd.Flags().StringSliceVar(&opts.columns, "columns", nil, "Columns to hash, or the partition id column for passthrough")
	cmd.Flags().StringVar(&opts.algorithm, "algorithm", "", "Hash algorithm: murmur3, xxhash64 or xxh3")
	cmd.Flags().IntVar(&opts.readBatchLen, "read-batch-rows", 8192, "Rows per batch read from Parquet")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(fmt.Errorf("failed to mark input flag as required: %w", err))
	}

	rootCmd.AddCommand(cmd)
}

func buildPartitioning(scheme string, pc config.PartitioningConfig) (partitioning.Partitioning, error) {
	var p partitioning.Partitioning
	switch scheme {
	case "hash":
		algo, err := partitioning.ParseAlgorithm(pc.Algorithm)
		if err != nil {
			return nil, err
		}
		p = &partitioning.HashPartitioning{Columns: pc.Columns, NumPartitions: pc.NumPartitions, Algorithm: algo}
	case "roundrobin":
		p = partitioning.NewRoundRobinPartitioning(pc.NumPartitions, 0)
	case "single":
		p = partitioning.SinglePartitioning{}
	case "passthrough":
		if len(pc.Columns) != 1 {
			return nil, errors.New("passthrough partitioning needs exactly one column")
		}
		p = &partitioning.PassthroughPartitioning{Column: pc.Columns[0], NumPartitions: pc.NumPartitions}
	default:
		return nil, fmt.Errorf("unknown partitioning scheme %q", scheme)
	}
	return p, partitioning.Validate(p)
}

func runWrite(ctx context.Context, cfg *config.Config, opts writeOptions) error {
	p, err := buildPartitioning(opts.scheme, cfg.Partitioning)
	if err != nil {
		return err
	}
	ctx = logctx.WithShuffle(ctx, cfg.RSS.ShuffleID, opts.mapID)
	ll := logctx.FromContext(ctx)

	bd, err := shuffle.NewBufferedData(p, shuffle.WithConfig(cfg.Shuffle))
	if err != nil {
		return err
	}
	defer bd.Release()

	for _, input := range opts.inputs {
		if err := addParquetFile(ctx, bd, input, opts.readBatchLen); err != nil {
			return err
		}
	}
	ll.Info("Buffered input",
		slog.Int("rows", bd.NumRows()),
		slog.Int("runs", bd.NumRuns()),
		slog.String("memUsed", humanize.IBytes(uint64(bd.MemUsed()))),
		slog.String("partitioning", p.String()))

	if opts.useRSS {
		w, err := rss.Open(ctx, cfg.RSS)
		if err != nil {
			return err
		}
		uncompressed, err := bd.WriteRSS(ctx, w)
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		ll.Info("Wrote shuffle output to remote backend",
			slog.String("backend", cfg.RSS.Backend),
			slog.String("uncompressed", humanize.IBytes(uint64(uncompressed))))
		return nil
	}

	uncompressed, offsets, err := shuffle.WriteFiles(ctx, bd, opts.dataPath, opts.indexPath)
	if err != nil {
		return err
	}
	ll.Info("Wrote shuffle files",
		slog.String("data", opts.dataPath),
		slog.String("index", opts.indexPath),
		slog.String("uncompressed", humanize.IBytes(uint64(uncompressed))),
		slog.String("compressed", humanize.IBytes(offsets[len(offsets)-1])))
	return nil
}

func addParquetFile(ctx context.Context, bd *shuffle.BufferedData, filename string, batchLen int) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer func() { _ = f.Close() }()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return fmt.Errorf("failed to open parquet file %s: %w", filename, err)
	}
	defer func() { _ = pf.Close() }()

	props := pqarrow.ArrowReadProperties{BatchSize: int64(batchLen)}
	fr, err := pqarrow.NewFileReader(pf, props, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("failed to create arrow file reader: %w", err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create record reader: %w", err)
	}
	defer rr.Release()

	for {
		rec, err := rr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("arrow read error in %s: %w", filename, err)
		}
		if rec == nil {
			return nil
		}
		if err := bd.AddBatch(ctx, rec); err != nil {
			return err
		}
	}
}
