// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package postprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Uploader is the default Uploader: an S3-compatible object store client
// built from the harvester's bucket_name config key and the opaque
// object-store extras (access_key, secret_key, region, endpoint) it
// passes through without interpreting them directly
// (pkg/types.HarvestConfig.Extra).
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// S3Options carries the object-store connection parameters read out of
// HarvestConfig.Extra by the caller at wiring time.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Uploader builds an S3Uploader. When AccessKey/SecretKey are empty,
// the default AWS credential chain (environment, shared config, instance
// role) is used instead.
func NewS3Uploader(ctx context.Context, opts S3Options) (*S3Uploader, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = &opts.Endpoint
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, bucket: opts.Bucket}, nil
}

// storageClass maps the post-processor's generic storage tier name to the
// S3 storage class. Only the single tier the harvester ever requests is
// recognized; anything else falls back to S3 Standard.
func storageClass(tier string) types.StorageClass {
	if tier == StorageTierInfrequentAccessSingleZone {
		return types.StorageClassOnezoneIa
	}
	return types.StorageClassStandard
}

// Upload implements Uploader by streaming localPath to
// s3://bucket/remotePrefix/<basename> under the requested storage class.
func (u *S3Uploader) Upload(ctx context.Context, localPath, remotePrefix, storageTier string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(remotePrefix, filepath.Base(localPath)))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       &u.bucket,
		Key:          &key,
		Body:         f,
		StorageClass: storageClass(storageTier),
	})
	if err != nil {
		return fmt.Errorf("putting object %s: %w", key, err)
	}
	return nil
}
