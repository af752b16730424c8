// minio.go — MinIO-backed implementation of the Store interface.
//
// The client is constructed explicitly and passed into each component's
// constructor; there is no package-level singleton. The bucket is created at
// startup if it does not exist, so local dev against a fresh MinIO container
// works without setup.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the connection parameters for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client implements Store against an S3-compatible object store.
type Client struct {
	mc     *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: create client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blobstore: check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("blobstore: create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// Get returns the object bytes and content type at key.
// The whole body is read into memory: watermarking needs the full buffer
// anyway, and pack media is size-capped at intake.
func (c *Client) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: get %q: %w", key, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", mapErr("get", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: read %q: %w", key, err)
	}
	return data, stat.ContentType, nil
}

// Put writes data at key, overwriting any existing object.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("blobstore: put %q: %w", key, err)
	}
	return nil
}

// Head returns object metadata without fetching the body.
func (c *Client) Head(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapErr("head", key, err)
	}
	return ObjectInfo{Key: key, Size: stat.Size, ContentType: stat.ContentType}, nil
}

// PresignGet returns a time-limited read URL for key.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := c.mc.PresignedGetObject(ctx, c.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("blobstore: presign get %q: %w", key, err)
	}
	return u.String(), nil
}

// PresignPut returns a time-limited write URL for key. metadata entries are
// signed as x-amz-meta-* headers, so the uploader must send them verbatim.
func (c *Client) PresignPut(ctx context.Context, key, contentType string, metadata map[string]string, ttl time.Duration) (string, error) {
	extra := http.Header{}
	if contentType != "" {
		extra.Set("Content-Type", contentType)
	}
	for k, v := range metadata {
		extra.Set("x-amz-meta-"+k, v)
	}

	u, err := c.mc.PresignHeader(ctx, http.MethodPut, c.bucket, key, ttl, url.Values{}, extra)
	if err != nil {
		return "", fmt.Errorf("blobstore: presign put %q: %w", key, err)
	}
	return u.String(), nil
}

// mapErr converts MinIO's NoSuchKey responses to ErrNotFound so callers can
// answer 404 without string matching.
func mapErr(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("blobstore: %s %q: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("blobstore: %s %q: %w", op, key, err)
}
