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
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AzureUploader uploads partition objects to an Azure Blob Storage
// container. ObjectStoreConfig.Bucket names the container.
type AzureUploader struct {
	client    *azblob.Client
	container string
	tracer    trace.Tracer
}

// NewAzureUploader authenticates with the default Azure credential chain.
func NewAzureUploader(cfg ObjectStoreConfig) (*AzureUploader, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}
	client, err := azblob.NewClient(cfg.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureUploader{
		client:    client,
		container: cfg.Bucket,
		tracer:    otel.Tracer("github.com/cardinalhq/lakeshuffle/internal/rss"),
	}, nil
}

func (u *AzureUploader) Backend() string { return BackendAzure }

func (u *AzureUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, span := u.tracer.Start(ctx, "rss.azureUpload",
		trace.WithAttributes(
			attribute.String("bucket", u.container),
			attribute.String("key", key),
			attribute.Int64("size", size),
		),
	)
	defer span.End()

	_, err := u.client.UploadStream(ctx, u.container, key, body, &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr("lakeshuffle-go"),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(objectContentType),
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload blob %s/%s: %w", u.container, key, err)
	}
	return nil
}
