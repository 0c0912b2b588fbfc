package meta

import (
	"errors"
	"sync"
	"time"
)

// Class labels an outbound frame: control lines before fallback data in
// accounting, never in transmission order. The queue is a single FIFO so the
// per-connection ordering guarantee holds; classes only drive admission and
// occupancy metrics.
type Class int

const (
	ClassControl Class = iota
	ClassData
	numClasses
)

var (
	// ErrQueueClosed is returned once the connection is being torn down.
	ErrQueueClosed = errors.New("meta: output queue closed")
	// ErrQueueFull rejects a data frame that would exceed the hard cap.
	// Control frames are always accepted.
	ErrQueueFull = errors.New("meta: output queue full")
)

type frame struct {
	b     []byte
	class Class
}

// OutQueue is the byte-accounted outbound buffer of one meta-channel. Its
// occupancy is the figure the congestion-gated fallback samples.
type OutQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	frames  []frame
	bytes   int
	byClass [numClasses]int
	max     int
	closed  bool
}

// NewOutQueue creates a queue with the given hard byte cap for data frames.
// max <= 0 means no cap.
func NewOutQueue(max int) *OutQueue {
	q := &OutQueue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends one frame. Data frames are rejected with ErrQueueFull above
// the cap; the early-drop gate normally prevents the queue from getting
// there, so hitting the cap means the caller bypassed it.
func (q *OutQueue) Push(class Class, b []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if class == ClassData && q.max > 0 && q.bytes+len(b) > q.max {
		return ErrQueueFull
	}
	q.frames = append(q.frames, frame{b: b, class: class})
	q.bytes += len(b)
	q.byClass[class] += len(b)
	q.cond.Signal()
	return nil
}

// Pop removes the next frame in FIFO order, blocking until one is available
// or the queue is closed.
func (q *OutQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	q.bytes -= len(f.b)
	q.byClass[f.class] -= len(f.b)
	return f.b, true
}

// TryPop removes the next frame without blocking.
func (q *OutQueue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	q.bytes -= len(f.b)
	q.byClass[f.class] -= len(f.b)
	return f.b, true
}

// Len is the current occupancy in bytes across all classes.
func (q *OutQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// ClassLen is the occupancy of a single class.
func (q *OutQueue) ClassLen(c Class) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byClass[c]
}

// Close rejects further pushes and unblocks Pop.
func (q *OutQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// TokenBucket rate-limits the writer's egress when a per-connection limit is
// configured.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64 // tokens per second
	last     time.Time
}

// NewTokenBucket builds a bucket refilled at ratePerSec, holding at most
// capacity tokens. capacity <= 0 defaults to one second's worth.
func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
	if capacity <= 0 {
		capacity = ratePerSec
	}
	return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, last: time.Now()}
}

// Allow tries to consume n tokens; when short, it returns how long to wait
// before the tokens will have accumulated.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if dt := now.Sub(b.last); dt > 0 {
		add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
		if add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	return false, time.Duration((need * int64(time.Second)) / b.rate)
}
