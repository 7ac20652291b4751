package writer

import (
	"math"
	"sync"
)

// Queue is a thread-safe FIFO that doubles its capacity when it reaches 70%
// full, up to a maximum. At the maximum, Push rejects new items.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	max      int
	closed   bool
	ready    chan struct{}

	// Stats
	totalIn     int64
	totalOut    int64
	dropped     int64
	resizeCount int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count       int
	Capacity    int
	TotalIn     int64
	TotalOut    int64
	Dropped     int64
	ResizeCount int
}

// NewQueue creates a queue. maxCapacity <= 0 means unbounded.
func NewQueue[T any](initialCapacity, maxCapacity int) *Queue[T] {
	if maxCapacity <= 0 {
		maxCapacity = math.MaxInt
	}
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if initialCapacity > maxCapacity {
		initialCapacity = maxCapacity
	}
	return &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		max:      maxCapacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends an item. It returns false if the queue is closed or full.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max((q.capacity*70)/100, 1)
	if q.count+1 >= threshold && q.capacity < q.max {
		q.grow()
	}
	if q.count == q.capacity {
		q.dropped++
		return false
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalIn++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after Push. One signal may stand for many items.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// DrainTo removes up to n items (all when n <= 0) in FIFO order.
func (q *Queue[T]) DrainTo(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero // Clear reference for GC
		q.head = (q.head + 1) % q.capacity
	}
	q.count -= n
	q.totalOut += int64(n)
	return out
}

// Close rejects further pushes. Queued items can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:       q.count,
		Capacity:    q.capacity,
		TotalIn:     q.totalIn,
		TotalOut:    q.totalOut,
		Dropped:     q.dropped,
		ResizeCount: q.resizeCount,
	}
}

// grow doubles the capacity, capped at max. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	if newCapacity > q.max || newCapacity < q.capacity {
		newCapacity = q.max
	}
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}
