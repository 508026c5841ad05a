// Package minio provides a backup target for MinIO and other S3-compatible
// object stores reachable through the MinIO client.
package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/strataio/strata/backup"
)

// Target stores backups in a MinIO bucket under a key prefix.
type Target struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewTarget creates a MinIO target. prefix is prepended to all keys.
func NewTarget(client *minio.Client, bucket, prefix string) *Target {
	return &Target{client: client, bucket: bucket, prefix: prefix}
}

func (t *Target) key(name string) string {
	return path.Join(t.prefix, name)
}

func (t *Target) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := t.client.PutObject(ctx, t.bucket, t.key(key), r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (t *Target) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	// Stat first: GetObject defers the existence check to the first read.
	_, err := t.client.StatObject(ctx, t.bucket, t.key(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, backup.ErrNotFound)
		}
		return nil, err
	}
	obj, err := t.client.GetObject(ctx, t.bucket, t.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (t *Target) List(ctx context.Context, prefix string) ([]string, error) {
	full := t.key(prefix)

	var keys []string
	for obj := range t.client.ListObjects(ctx, t.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		key := strings.TrimPrefix(obj.Key, t.prefix)
		key = strings.TrimPrefix(key, "/")
		if key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *Target) Delete(ctx context.Context, key string) error {
	err := t.client.RemoveObject(ctx, t.bucket, t.key(key), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
