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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakeshuffle/internal/shuffle"
)

var _ shuffle.RemoteWriter = (*LocalWriter)(nil)

// LocalWriter writes each partition to its own file in a directory.
type LocalWriter struct {
	dir   string
	files map[int]*os.File
}

// NewLocalWriter creates dir if needed.
func NewLocalWriter(dir string) (*LocalWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shuffle dir %s: %w", dir, err)
	}
	return &LocalWriter{dir: dir, files: map[int]*os.File{}}, nil
}

// Path returns the file holding a partition.
func (w *LocalWriter) Path(partitionID int) string {
	return filepath.Join(w.dir, PartitionObjectName(partitionID))
}

func (w *LocalWriter) Write(ctx context.Context, partitionID int, p []byte) error {
	f, ok := w.files[partitionID]
	if !ok {
		var err error
		f, err = os.OpenFile(w.Path(partitionID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open partition %d: %w", partitionID, err)
		}
		w.files[partitionID] = f
	}
	if _, err := f.Write(p); err != nil {
		return fmt.Errorf("write partition %d: %w", partitionID, err)
	}
	writeBytes.Add(ctx, int64(len(p)), metric.WithAttributes(attribute.String("backend", BackendLocal)))
	return nil
}

// Flush syncs and closes every partition file.
func (w *LocalWriter) Flush(context.Context) error {
	var result *multierror.Error
	ids := make([]int, 0, len(w.files))
	for id := range w.files {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		f := w.files[id]
		if err := f.Sync(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sync partition %d: %w", id, err))
		}
		if err := f.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close partition %d: %w", id, err))
		}
	}
	w.files = map[int]*os.File{}
	return result.ErrorOrNil()
}

// Close closes files left open by an unflushed write.
func (w *LocalWriter) Close() error {
	var result *multierror.Error
	for id, f := range w.files {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close partition %d: %w", id, err))
		}
	}
	w.files = map[int]*os.File{}
	return result.ErrorOrNil()
}
