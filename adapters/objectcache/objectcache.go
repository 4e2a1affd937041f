// Package objectcache stores compiled templates in an S3-compatible bucket.
package objectcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rsesek/hoplite/ports"
)

// MetaSourceTime is the user metadata key holding the source's modification
// time in Unix nanoseconds.
const MetaSourceTime = "Source-Mtime"

// Config configures the bucket connection.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // Prepended to object keys
	Ext       string // Appended to object keys
	UseSSL    bool
}

// Backend keeps each compiled template in one object.
type Backend struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	ext    string

	mu    sync.Mutex
	ready bool
	// prepare makes sure the bucket exists. Swapped out in tests.
	prepare func(ctx context.Context) error
}

// New connects to the bucket described by cfg.
func New(cfg Config) (*Backend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object cache endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object cache access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object cache bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object cache client: %w", err)
	}

	b := &Backend{
		client: client,
		bucket: bucket,
		region: region,
		prefix: cfg.Prefix,
		ext:    cfg.Ext,
	}
	b.prepare = b.createBucket
	return b, nil
}

// Key returns the object key used for name.
func (b *Backend) Key(name string) string {
	return ObjectKey(b.prefix, name, b.ext)
}

// ObjectKey joins prefix, name and ext into an object key.
func ObjectKey(prefix, name, ext string) string {
	return strings.TrimLeft(prefix+name+ext, "/")
}

// ensureBucket prepares the bucket once it succeeds; failed attempts are
// retried on the next call.
func (b *Backend) ensureBucket(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	if err := b.prepare(ctx); err != nil {
		return err
	}
	b.ready = true
	return nil
}

func (b *Backend) createBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region})
}

// Get returns the cached data for name unless it is missing or was stored for
// an older source.
func (b *Backend) Get(ctx context.Context, name string, modTime time.Time) ([]byte, bool, error) {
	if err := b.ensureBucket(ctx); err != nil {
		return nil, false, fmt.Errorf("ensure bucket: %w", err)
	}

	key := b.Key(name)
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", key, err)
	}

	if !Fresh(info.UserMetadata, modTime) {
		return nil, false, nil
	}

	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

// Put stores data for name stamped with modTime.
func (b *Backend) Put(ctx context.Context, name string, modTime time.Time, data []byte) error {
	if err := b.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	key := b.Key(name)
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: Metadata(modTime),
	})
	if err != nil {
		return fmt.Errorf("cache %s to %s/%s: %w", name, b.bucket, key, err)
	}
	return nil
}

// Metadata returns the user metadata stamping an object with modTime.
func Metadata(modTime time.Time) map[string]string {
	return map[string]string{MetaSourceTime: strconv.FormatInt(modTime.UnixNano(), 10)}
}

// SourceTime reads the stored source time from object metadata. Lookup
// ignores case and an X-Amz-Meta- prefix.
func SourceTime(meta map[string]string) (time.Time, bool) {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k != strings.ToLower(MetaSourceTime) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(0, n), true
	}
	return time.Time{}, false
}

// Fresh reports whether an object stamped with meta may serve a source last
// modified at modTime.
func Fresh(meta map[string]string, modTime time.Time) bool {
	stored, ok := SourceTime(meta)
	return ok && !stored.Before(modTime)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

var _ ports.CacheBackend = (*Backend)(nil)
