package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrQueueClosed is returned by Put after the consumer has gone away
	ErrQueueClosed = errors.New("segment queue closed")

	// ErrTimeout is returned by Get when nothing arrived in time
	ErrTimeout = errors.New("segment queue get timeout")
)

// Item is one queue element: either a segment of raw PCM or the end-of-stream
// marker.
type Item struct {
	Data []byte
	end  bool
}

// Segment wraps PCM bytes as a queue item. Ownership of data moves to the
// queue.
func Segment(data []byte) Item {
	return Item{Data: data}
}

// EndOfStream returns the marker meaning no more segments follow
func EndOfStream() Item {
	return Item{end: true}
}

// IsEndOfStream reports whether the item is the end-of-stream marker
func (it Item) IsEndOfStream() bool {
	return it.end
}

// OverflowPolicy decides what Put does on a full bounded queue
type OverflowPolicy string

const (
	// OverflowBlock makes the producer wait for space
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest evicts the oldest waiting segment
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// ParseOverflowPolicy validates a policy name
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case OverflowBlock, OverflowDropOldest:
		return p, nil
	case "":
		return OverflowBlock, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q (valid: block, drop_oldest)", s)
}

// Queue is a FIFO of segments with at most one end-of-stream marker. A
// capacity of zero means unbounded, in which case Put never blocks. The
// end-of-stream marker never counts against the capacity and is never
// evicted.
type Queue struct {
	capacity int
	policy   OverflowPolicy

	mu       sync.Mutex
	items    []Item
	segments int
	closed   bool
	evicted  int64

	// one-slot wakeup signals
	readable chan struct{}
	writable chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	if policy == "" {
		policy = OverflowBlock
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Put appends an item. On a full bounded queue it either waits for space
// (block) or evicts the oldest waiting segment (drop_oldest), returning the
// number of segments evicted. ctx only bounds the wait for space.
func (q *Queue) Put(ctx context.Context, it Item) (evicted int, err error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrQueueClosed
		}

		if it.end || q.capacity == 0 || q.segments < q.capacity {
			q.push(it)
			q.mu.Unlock()
			return evicted, nil
		}

		if q.policy == OverflowDropOldest {
			q.evictOldest()
			evicted++
			q.mu.Unlock()
			continue
		}
		q.mu.Unlock()

		select {
		case <-q.writable:
		case <-q.done:
		case <-ctx.Done():
			return evicted, ctx.Err()
		}
	}
}

// push appends it; q.mu must be held
func (q *Queue) push(it Item) {
	q.items = append(q.items, it)
	if !it.end {
		q.segments++
	}
	signal(q.readable)
}

// evictOldest removes the first segment, skipping the marker; q.mu must be
// held
func (q *Queue) evictOldest() {
	for i, it := range q.items {
		if !it.end {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.segments--
			q.evicted++
			return
		}
	}
}

// Get removes the oldest item, waiting up to timeout for one to arrive.
// It returns ErrTimeout when nothing arrived and ctx.Err() if ctx ends first.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (Item, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = Item{}
			q.items = q.items[1:]
			if !it.end {
				q.segments--
			}
			if len(q.items) > 0 {
				signal(q.readable)
			}
			q.mu.Unlock()
			signal(q.writable)
			return it, nil
		}
		q.mu.Unlock()

		select {
		case <-q.readable:
		case <-timer.C:
			return Item{}, ErrTimeout
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// Len is the number of waiting items, marker included
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Evicted is the number of segments dropped by the drop_oldest policy
func (q *Queue) Evicted() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Close refuses further Puts and releases producers waiting for space.
// Items already queued can still be read. Close may be called more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
