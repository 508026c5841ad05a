// Package s3 provides an S3 backup target plus a DynamoDB ledger of
// completed backups, so operators can find the latest backup of a database
// without listing the bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/strataio/strata/backup"
)

// Target stores backups in an S3 bucket under a key prefix.
type Target struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewTarget creates an S3 target. prefix is prepended to all keys.
func NewTarget(client *s3.Client, bucket, prefix string) *Target {
	return &Target{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (t *Target) key(name string) string {
	return path.Join(t.prefix, name)
}

// Put streams the file through the multipart uploader, which handles
// unknown sizes and retries per part.
func (t *Target) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (t *Target) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, backup.ErrNotFound)
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%s: %w", key, backup.ErrNotFound)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (t *Target) List(ctx context.Context, prefix string) ([]string, error) {
	full := t.key(prefix)
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if t.prefix != "" {
				key = strings.TrimPrefix(key, t.prefix)
				key = strings.TrimPrefix(key, "/")
			}
			if key != "" {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *Target) Delete(ctx context.Context, key string) error {
	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(key)),
	})
	return err
}
