// fake.go — in-memory Store used by package tests across the repo.
//
// Lives in the non-test tree so gateway, intake, and reprocess tests can all
// share it without an internal/testutil import cycle.
package blobstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Store. Safe for concurrent use.
type Fake struct {
	mu      sync.RWMutex
	objects map[string]fakeObject

	// FailPut, when set, makes Put return the given error. Lets tests
	// exercise upload-failure paths.
	FailPut error
}

type fakeObject struct {
	data        []byte
	contentType string
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{objects: make(map[string]fakeObject)}
}

func (f *Fake) Get(ctx context.Context, key string) ([]byte, string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("fake: get %q: %w", key, ErrNotFound)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, obj.contentType, nil
}

func (f *Fake) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPut != nil {
		return f.FailPut
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[key] = fakeObject{data: cp, contentType: contentType}
	return nil
}

func (f *Fake) Head(ctx context.Context, key string) (ObjectInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	obj, ok := f.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("fake: head %q: %w", key, ErrNotFound)
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (f *Fake) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.objects[key]; !ok {
		return "", fmt.Errorf("fake: presign get %q: %w", key, ErrNotFound)
	}
	return fmt.Sprintf("https://fake.store/%s?expires=%d", key, int64(ttl.Seconds())), nil
}

func (f *Fake) PresignPut(ctx context.Context, key, contentType string, metadata map[string]string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://fake.store/%s?upload=1&expires=%d", key, int64(ttl.Seconds())), nil
}
