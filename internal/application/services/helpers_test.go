package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
)

var errDiskFull = errors.New("disk full")

// fakeBlobs is an in-memory blob store with failure injection
type fakeBlobs struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   map[string]int
	failing bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: map[string][]byte{}, saves: map[string]int{}}
}

func (b *fakeBlobs) Load(_ context.Context, ns string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.data[ns]
	return blob, ok, nil
}

func (b *fakeBlobs) Save(_ context.Context, ns string, blob []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errDiskFull
	}
	b.data[ns] = append([]byte(nil), blob...)
	b.saves[ns]++
	return nil
}

func (b *fakeBlobs) setFailing(v bool) {
	b.mu.Lock()
	b.failing = v
	b.mu.Unlock()
}

func (b *fakeBlobs) saveCount(ns string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[ns]
}

var epoch = time.Date(2026, 10, 15, 9, 0, 0, 0, time.Local)

func newTestStore() (*TaskStore, *fakeBlobs, *FakeClock) {
	blobs := newFakeBlobs()
	clock := NewFakeClock(epoch)
	return NewTaskStore(blobs, clock, logger.NewNop(), nil), blobs, clock
}

// fakeLookup answers from a table; a location missing from the table fails.
// When gate is set each call blocks until a value is sent on it.
type fakeLookup struct {
	mu      sync.Mutex
	results map[string]*entities.Weather
	calls   []string
	gate    chan struct{}
}

func (f *fakeLookup) Lookup(ctx context.Context, location string) (*entities.Weather, error) {
	f.mu.Lock()
	f.calls = append(f.calls, location)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.results[location]
	if !ok {
		return nil, errors.New("city not found")
	}
	copied := *w
	return &copied, nil
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
