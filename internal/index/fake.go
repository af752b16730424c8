// fake.go — in-memory Store and Publisher used by package tests.
package index

import (
	"context"
	"fmt"
	"sync"
)

// FakeStore is an in-memory content index. Safe for concurrent use.
type FakeStore struct {
	mu    sync.RWMutex
	packs map[string][]ContentItem
}

// NewFakeStore returns an empty in-memory index.
func NewFakeStore() *FakeStore {
	return &FakeStore{packs: make(map[string][]ContentItem)}
}

// Seed replaces a pack's content list. Test setup helper.
func (f *FakeStore) Seed(packID string, items ...ContentItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packs[packID] = append([]ContentItem(nil), items...)
}

func (f *FakeStore) Pack(ctx context.Context, packID string) ([]ContentItem, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	items, ok := f.packs[packID]
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("fake index: pack %q: %w", packID, ErrNotFound)
	}
	return append([]ContentItem(nil), items...), nil
}

func (f *FakeStore) Item(ctx context.Context, packID, key string) (ContentItem, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, it := range f.packs[packID] {
		if it.Key == key {
			return it, nil
		}
	}
	return ContentItem{}, fmt.Errorf("fake index: item %q/%q: %w", packID, key, ErrNotFound)
}

func (f *FakeStore) AppendItem(ctx context.Context, packID string, item ContentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.packs[packID] {
		if it.Key == item.Key {
			it.Name = item.Name
			it.MimeType = item.MimeType
			it.SizeBytes = item.SizeBytes
			f.packs[packID][i] = it
			return nil
		}
	}
	f.packs[packID] = append(f.packs[packID], item)
	return nil
}

func (f *FakeStore) MarkProcessed(ctx context.Context, packID, key string) error {
	return f.update(packID, key, func(it *ContentItem) {
		it.Processed = true
		it.ProcessingError = ""
	})
}

func (f *FakeStore) MarkFailed(ctx context.Context, packID, key, reason string) error {
	return f.update(packID, key, func(it *ContentItem) {
		it.Processed = false
		it.ProcessingError = reason
	})
}

func (f *FakeStore) update(packID, key string, fn func(*ContentItem)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.packs[packID] {
		if f.packs[packID][i].Key == key {
			fn(&f.packs[packID][i])
			return nil
		}
	}
	return fmt.Errorf("fake index: update %q/%q: %w", packID, key, ErrNotFound)
}

// FakePublisher records published change events.
type FakePublisher struct {
	mu     sync.Mutex
	Events []ChangeEvent
}

// NewFakePublisher returns an empty recorder.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (p *FakePublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return nil
}

// Count returns how many events have been published.
func (p *FakePublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Events)
}
