package node

import (
	"context"
	"sync"

	"github.com/roach88/privlog/internal/channel"
)

// workKind distinguishes queued work.
type workKind int

const (
	// workTick runs the engine's scheduled tasks.
	workTick workKind = iota + 1
	// workPoll drains the durable mailbox.
	workPoll
	// workInbound hands a received bundle to the engine.
	workInbound
	// workCommand runs a caller-supplied function.
	workCommand
)

func (k workKind) String() string {
	switch k {
	case workTick:
		return "tick"
	case workPoll:
		return "poll"
	case workInbound:
		return "inbound"
	case workCommand:
		return "command"
	default:
		return "unknown"
	}
}

// work is one unit processed by the run loop.
type work struct {
	kind    workKind
	inbound channel.Inbound
	command func(ctx context.Context) error
	done    chan error
}

// workQueue is a thread-safe FIFO queue of work.
//
// The queue is unbounded so producers (subscription, ticker, callers of
// Do) never block on the run loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type workQueue struct {
	mu     sync.Mutex
	items  []work
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newWorkQueue() *workQueue {
	return &workQueue{
		items:  make([]work, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds w to the back of the queue.
// Returns false if the queue is closed.
func (q *workQueue) Enqueue(w work) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, w)

	// Non-blocking; a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// EnqueueUnique adds w unless work of the same kind is already waiting.
// Used for ticks and polls, which are idempotent.
func (q *workQueue) EnqueueUnique(w work) bool {
	q.mu.Lock()
	for _, existing := range q.items {
		if existing.kind == w.kind {
			q.mu.Unlock()
			return true
		}
	}
	q.mu.Unlock()
	return q.Enqueue(w)
}

// TryDequeue removes the front item without blocking.
func (q *workQueue) TryDequeue() (work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return work{}, false
	}
	w := q.items[0]

	// Clear the slot so the backing array does not pin command closures.
	q.items[0] = work{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return w, true
}

// Wait returns a channel that signals when work may be available. It is
// closed when the queue closes.
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of waiting items.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting work and wakes waiters. Items already queued can
// still be dequeued.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
