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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const objectContentType = "application/octet-stream"

// S3Uploader uploads partition objects to an S3 compatible store.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	tracer   trace.Tracer
}

// NewS3Uploader loads the default AWS configuration, overridden by cfg.
func NewS3Uploader(ctx context.Context, cfg ObjectStoreConfig) (*S3Uploader, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Uploader{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		tracer:   otel.Tracer("github.com/cardinalhq/lakeshuffle/internal/rss"),
	}, nil
}

func (u *S3Uploader) Backend() string { return BackendS3 }

func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, span := u.tracer.Start(ctx, "rss.s3Upload",
		trace.WithAttributes(
			attribute.String("bucket", u.bucket),
			attribute.String("key", key),
			attribute.Int64("size", size),
		),
	)
	defer span.End()

	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(objectContentType),
		Metadata: map[string]string{
			"writer": "lakeshuffle-go",
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload S3 object: %w", err)
	}
	return nil
}
