package dispatcher

import "github.com/google/uuid"

// queue is the bounded in-process dispatch queue (spec.md §4.4 "Scheduling
// model"). High-priority submissions are held on a separate channel that
// workers always drain first, which is what gives them queue-head priority
// over normal submissions without reordering a single FIFO.
type queue struct {
	high   chan uuid.UUID
	normal chan uuid.UUID
}

func newQueue(depth int) *queue {
	return &queue{
		high:   make(chan uuid.UUID, depth),
		normal: make(chan uuid.UUID, depth),
	}
}

// tryEnqueue attempts a non-blocking send; it reports false when the
// relevant channel is full, the caller's cue to respond busy (spec.md §6,
// HTTP 503).
func (q *queue) tryEnqueue(id uuid.UUID, high bool) bool {
	ch := q.normal
	if high {
		ch = q.high
	}
	select {
	case ch <- id:
		return true
	default:
		return false
	}
}

// capacity reports the queue's configured depth, used to bound how many
// pending rows a single sweep pass pulls from the store.
func (q *queue) capacity() int {
	return cap(q.normal)
}

// next blocks until a job id is available, preferring the high-priority
// channel, or until done fires.
func (q *queue) next(done <-chan struct{}) (uuid.UUID, bool) {
	select {
	case id := <-q.high:
		return id, true
	default:
	}

	select {
	case <-done:
		return uuid.UUID{}, false
	case id := <-q.high:
		return id, true
	case id := <-q.normal:
		return id, true
	}
}
