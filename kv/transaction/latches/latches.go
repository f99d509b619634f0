package latches

import (
	"context"
	"sync"
)

// Latches serialize in-process writers that are about to touch the same record. Every document mutation reads and
// rewrites its database record, so two concurrent writers to one database always conflict in the store and one of
// them is retried. Latching the database record key first makes the second writer wait instead of burning a
// retry. The store's conflict detection remains the source of correctness; latches only cut the retry traffic, and
// they do nothing for writers in other processes.
//
// A latch is a per-key lock. Only one goroutine can hold a latch at a time and all keys a writer needs must be
// latched at once.
type Latches struct {
	// latchMap maps each latched key to a channel which is closed when the latch is released.
	latchMap map[string]chan struct{}
	// Mutex to guard latchMap.
	latchGuard sync.Mutex
	// An optional validation function, only used for testing.
	Validation func(latched [][]byte)
}

// NewLatches creates a new Latches object. There should only be one such object per storage, shared between all
// writers.
func NewLatches() *Latches {
	l := new(Latches)
	l.latchMap = make(map[string]chan struct{})
	return l
}

// AcquireLatches tries to lock all latches specified by keys. If this succeeds, nil is returned. If any of the
// keys is locked, a channel is returned which is closed once that latch is free.
func (l *Latches) AcquireLatches(keysToLatch [][]byte) <-chan struct{} {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	for _, key := range keysToLatch {
		if ch, ok := l.latchMap[string(key)]; ok {
			return ch
		}
	}

	ch := make(chan struct{})
	for _, key := range keysToLatch {
		l.latchMap[string(key)] = ch
	}
	return nil
}

// ReleaseLatches releases the latches for all keys in keysToUnlatch and wakes every waiter. All keys must have been
// locked together in one call to AcquireLatches.
func (l *Latches) ReleaseLatches(keysToUnlatch [][]byte) {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	first := true
	for _, key := range keysToUnlatch {
		if ch, ok := l.latchMap[string(key)]; ok && first {
			close(ch)
			first = false
		}
		delete(l.latchMap, string(key))
	}
}

// WaitForLatches locks all keys in keysToLatch, waiting for held latches to be released. It gives up when ctx is
// done.
func (l *Latches) WaitForLatches(ctx context.Context, keysToLatch [][]byte) error {
	for {
		ch := l.AcquireLatches(keysToLatch)
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Validate calls the function in Validation, if it exists.
func (l *Latches) Validate(latched [][]byte) {
	if l.Validation != nil {
		l.Validation(latched)
	}
}
