// Package feed fans a stream of state values out to scoped observers.
package feed

import (
	"context"
	"sync"
)

// Feed delivers the latest value to every observer. Slow observers skip
// intermediate values rather than block the producer.
type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]chan T
	next    uint64
	last    T
	hasLast bool
}

func New[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[uint64]chan T)}
}

// Subscribe returns a channel carrying the current value (if any) and every
// later one. It is closed once ctx is done and receives nothing after that.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	if f.hasLast {
		ch <- f.last
	}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish replaces the current value and pushes it to observers.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last = v
	f.hasLast = true
	for _, ch := range f.subs {
		// drop the stale value, if the observer has not taken it yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Len returns the number of live observers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
