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
	"github.com/cardinalhq/lakeshuffle/internal/ipccompress"
)

const (
	// DefaultStagingFlushThresholdBytes is the staging memory at which
	// AddBatch sorts and compacts the staged batches into a run.
	DefaultStagingFlushThresholdBytes = 64 << 20

	// DefaultTargetBatchBytes is the approximate footprint of one merged
	// output batch.
	DefaultTargetBatchBytes = 4 << 20

	DefaultMinBatchRows = 1024
	DefaultMaxBatchRows = 64 * 1024

	// DefaultRadixSortMaxPartitions is the partition count bound below which
	// runs are sorted with the 16 bit radix sort.
	DefaultRadixSortMaxPartitions = 1 << 16

	DefaultCodec = "zstd"
)

// Sizer supplies the memory thresholds that drive a BufferedData.
type Sizer interface {
	// StagingFlushThreshold is the staging memory, in bytes, at which a
	// flush is triggered.
	StagingFlushThreshold() int
	// SuggestedBatchSize returns the number of rows per merged output batch
	// given the total buffered memory and row count.
	SuggestedBatchSize(memUsed, numRows int) int
}

// Config controls buffering, sorting and output encoding of a shuffle write.
type Config struct {
	StagingFlushThresholdBytes int    `mapstructure:"staging_flush_threshold_bytes"`
	TargetBatchBytes           int    `mapstructure:"target_batch_bytes"`
	MinBatchRows               int    `mapstructure:"min_batch_rows"`
	MaxBatchRows               int    `mapstructure:"max_batch_rows"`
	RadixSortMaxPartitions     int    `mapstructure:"radix_sort_max_partitions"`
	Codec                      string `mapstructure:"codec"`
	CompressionLevel           int    `mapstructure:"compression_level"`
	BlockSize                  int    `mapstructure:"block_size"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		StagingFlushThresholdBytes: DefaultStagingFlushThresholdBytes,
		TargetBatchBytes:           DefaultTargetBatchBytes,
		MinBatchRows:               DefaultMinBatchRows,
		MaxBatchRows:               DefaultMaxBatchRows,
		RadixSortMaxPartitions:     DefaultRadixSortMaxPartitions,
		Codec:                      DefaultCodec,
		CompressionLevel:           ipccompress.DefaultLevel,
		BlockSize:                  ipccompress.DefaultBlockSize,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.StagingFlushThresholdBytes <= 0 {
		return &ConfigError{Field: "StagingFlushThresholdBytes", Message: "must be positive"}
	}
	if c.TargetBatchBytes <= 0 {
		return &ConfigError{Field: "TargetBatchBytes", Message: "must be positive"}
	}
	if c.MinBatchRows <= 0 {
		return &ConfigError{Field: "MinBatchRows", Message: "must be positive"}
	}
	if c.MaxBatchRows < c.MinBatchRows {
		return &ConfigError{Field: "MaxBatchRows", Message: "must not be below MinBatchRows"}
	}
	if c.RadixSortMaxPartitions < 0 || c.RadixSortMaxPartitions > DefaultRadixSortMaxPartitions {
		return &ConfigError{Field: "RadixSortMaxPartitions", Message: "must be within [0, 65536]"}
	}
	if _, err := ipccompress.CodecByName(c.Codec); err != nil {
		return &ConfigError{Field: "Codec", Message: err.Error()}
	}
	if c.BlockSize <= 0 {
		return &ConfigError{Field: "BlockSize", Message: "must be positive"}
	}
	return nil
}

// StagingFlushThreshold implements Sizer.
func (c Config) StagingFlushThreshold() int {
	return c.StagingFlushThresholdBytes
}

// SuggestedBatchSize implements Sizer. It aims for TargetBatchBytes per
// batch using the average row size, clamped to [MinBatchRows, MaxBatchRows].
func (c Config) SuggestedBatchSize(memUsed, numRows int) int {
	rowSize := 1
	if numRows > 0 {
		rowSize = max(1, memUsed/numRows)
	}
	return min(max(c.TargetBatchBytes/rowSize, c.MinBatchRows), c.MaxBatchRows)
}

// StreamOptions returns the compressed stream options for this configuration.
func (c Config) StreamOptions() ([]ipccompress.Option, error) {
	codec, err := ipccompress.CodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return []ipccompress.Option{
		ipccompress.WithCodec(codec),
		ipccompress.WithLevel(c.CompressionLevel),
		ipccompress.WithBlockSize(c.BlockSize),
	}, nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "shuffle config: " + e.Field + " " + e.Message
}
