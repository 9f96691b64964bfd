package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Bucket is a window based rate limiter that queues thunks and runs at
// most capacity of them per interval. Priority submissions jump to the
// head of the queue and may consume reserved slots that non-priority
// submissions never see.
type Bucket struct {
	mu sync.Mutex

	capacity int
	reserved int
	interval time.Duration

	used        int
	windowStart time.Time

	queue []bucketEntry
	timer *time.Timer

	stopped bool

	log zerolog.Logger
}

type bucketEntry struct {
	fn       func()
	priority bool
}

// NewBucket creates a bucket dispatching at most capacity thunks per
// interval, with reserved slots only priority submissions may use.
func NewBucket(capacity int, interval time.Duration, reserved int, log zerolog.Logger) *Bucket {
	return &Bucket{
		capacity:    capacity,
		reserved:    reserved,
		interval:    interval,
		windowStart: time.Now(),
		log:         log,
	}
}

// Queue submits a thunk. Priority thunks are inserted at the head of the
// queue. The thunk runs at some point at the bucket's discretion; it is
// fire and forget.
func (b *Bucket) Queue(fn func(), priority bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	entry := bucketEntry{fn: fn, priority: priority}
	if priority {
		b.queue = append([]bucketEntry{entry}, b.queue...)
	} else {
		b.queue = append(b.queue, entry)
	}

	b.drain()
}

// limitFor returns the effective capacity for an entry. Non-priority
// entries cannot touch the reserved slots.
func (b *Bucket) limitFor(entry bucketEntry) int {
	if entry.priority {
		return b.capacity
	}

	return b.capacity - b.reserved
}

// drain runs queued thunks while the current window has tokens left.
// Callers must hold b.mu.
func (b *Bucket) drain() {
	now := time.Now()
	if now.Sub(b.windowStart) >= b.interval {
		b.used = 0
		b.windowStart = now
	}

	for len(b.queue) > 0 {
		head := b.queue[0]
		if b.used >= b.limitFor(head) {
			b.armTimer()

			return
		}

		b.queue = b.queue[1:]
		b.used++
		b.run(head.fn)
	}
}

// run executes a thunk, keeping panics from poisoning the bucket.
func (b *Bucket) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("Bucket thunk panicked")
		}
	}()

	fn()
}

// armTimer schedules a drain for when the current window rolls over.
// Callers must hold b.mu.
func (b *Bucket) armTimer() {
	if b.timer != nil {
		return
	}

	wait := b.interval - time.Since(b.windowStart)
	if wait < 0 {
		wait = 0
	}

	b.timer = time.AfterFunc(wait, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.timer = nil

		if !b.stopped {
			b.drain()
		}
	})
}

// Pending returns how many thunks are waiting for a slot.
func (b *Bucket) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.queue)
}

// Stop drops all queued thunks and stops the refill timer. The bucket
// accepts no further submissions.
func (b *Bucket) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	b.queue = nil

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
