package service

import "sync"

// ringBuffer keeps the most recent maxSize entries.
type ringBuffer[T any] struct {
	mu        sync.Mutex
	maxSize   int
	records   []T
	nextIndex int
}

func newRingBuffer[T any](maxSize int) *ringBuffer[T] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ringBuffer[T]{
		maxSize: maxSize,
		records: make([]T, 0, maxSize),
	}
}

func (b *ringBuffer[T]) Add(entry T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List walks newest to oldest and returns up to limit entries accepted by keep.
func (b *ringBuffer[T]) List(keep func(T) bool, limit int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]T, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		// 未写满时 nextIndex 为 0，最新一条在末尾
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if keep != nil && !keep(entry) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
