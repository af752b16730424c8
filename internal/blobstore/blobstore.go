// Package blobstore is the thin client over the S3-compatible object store
// (MinIO in development) that every other Packseal component reads and
// writes media through. The bucket is private: all external reads go through
// presigned URLs or the access gateway.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested key does not exist in the store.
var ErrNotFound = errors.New("blobstore: object not found")

// ObjectInfo is the metadata surface of a HEAD call.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the object-store surface the gateway, intake, and reprocessor
// depend on. *Client implements it against MinIO; tests inject a fake.
type Store interface {
	// Get returns the object bytes and content type at key.
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Put writes data at key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Head returns object metadata without fetching the body.
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// PresignGet returns a time-limited read URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// PresignPut returns a time-limited write URL for key. metadata is stored
	// on the object (uploader identity, original filename).
	PresignPut(ctx context.Context, key, contentType string, metadata map[string]string, ttl time.Duration) (string, error)
}
