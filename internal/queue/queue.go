// Package queue provides an unbounded FIFO hand-off between goroutines with a
// blocking consumer side and an atomic bulk clear.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once the queue is
// closed.
var ErrClosed = errors.New("queue: closed")

// Queue is safe for concurrent Push, Pop, Clear and Close. It is intended
// for a single consumer; multiple consumers work but share one wake-up slot.
type Queue[T any] struct {
	notify chan struct{}

	mu     sync.Mutex
	closed bool
	items  []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends v. It never blocks on the consumer.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the oldest item, blocking until one is available,
// ctx is done, or the queue is closed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	q.mu.Lock()
	for len(q.items) == 0 {
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		}
		q.mu.Lock()
	}
	if q.closed {
		q.mu.Unlock()
		return zero, ErrClosed
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.mu.Unlock()
	return v, nil
}

// Clear drops every queued item and reports how many were removed.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes any blocked consumer. Queued items are discarded.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.notify)
}
