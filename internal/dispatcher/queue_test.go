package dispatcher

import (
	"testing"

	"github.com/google/uuid"
)

func TestTryEnqueueRejectsWhenFull(t *testing.T) {
	q := newQueue(1)
	id1, id2 := uuid.New(), uuid.New()

	if !q.tryEnqueue(id1, false) {
		t.Fatal("expected first enqueue to succeed")
	}
	if q.tryEnqueue(id2, false) {
		t.Fatal("expected second enqueue on a depth-1 queue to report full")
	}
}

func TestNextPrefersHighPriority(t *testing.T) {
	q := newQueue(4)
	normalID, highID := uuid.New(), uuid.New()

	q.tryEnqueue(normalID, false)
	q.tryEnqueue(highID, true)

	done := make(chan struct{})
	id, ok := q.next(done)
	if !ok {
		t.Fatal("expected next() to return a job")
	}
	if id != highID {
		t.Errorf("expected high-priority job to be dequeued first, got %v", id)
	}
}

func TestNextUnblocksOnDone(t *testing.T) {
	q := newQueue(1)
	done := make(chan struct{})
	close(done)

	if _, ok := q.next(done); ok {
		t.Fatal("expected next() to report no job when done is closed and queue is empty")
	}
}
