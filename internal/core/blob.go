package core

import (
	"context"
	"fmt"

	"labcore/internal/blob"
	"labcore/internal/config"
	blobfs "labcore/internal/infra/blob/fs"
	blobmem "labcore/internal/infra/blob/memory"
	blobs3 "labcore/internal/infra/blob/s3"
)

// OpenBlobStore selects the blob backend holding the index outbox. An empty
// driver defaults to the filesystem.
func OpenBlobStore(ctx context.Context, cfg config.Blob) (blob.Store, error) {
	driver := blob.Driver(cfg.Driver)
	if driver == "" {
		driver = blob.DriverFilesystem
	}
	switch driver {
	case blob.DriverMemory:
		return blobmem.New(), nil
	case blob.DriverFilesystem:
		return blobfs.New(cfg.FSRoot)
	case blob.DriverS3:
		return blobs3.New(ctx, blobs3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
