// Package storage removes activity image objects from the image bucket.
package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultImageBucket = "activity-images"

type Images struct {
	client *minio.Client
	bucket string
}

func NewImages(endpoint, accessKeyID, secretAccessKey string, useSSL bool, bucket string) (*Images, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if bucket == "" {
		bucket = DefaultImageBucket
	}
	return &Images{client: client, bucket: bucket}, nil
}

func (s *Images) Bucket() string { return s.bucket }

// Ping checks that the bucket is reachable.
func (s *Images) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// RemoveObjects deletes keys from the bucket. Keys that are already gone are
// not an error.
func (s *Images) RemoveObjects(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo)

	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var firstErr error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err == nil || isNoSuchKey(rerr.Err) {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("remove object %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	if firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
