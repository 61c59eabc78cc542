package linklayer

import "github.com/signalsfoundry/blesim/internal/frame"

// Queue is a bounded FIFO that rejects new frames when full (drop tail).
// It is only touched from scheduler callbacks.
type Queue struct {
	items []frame.Frame
	limit int
	drops uint64
}

// NewQueue creates a queue holding at most limit frames.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{limit: limit}
}

// Enqueue appends f, or reports false when the queue is full.
func (q *Queue) Enqueue(f frame.Frame) bool {
	if len(q.items) >= q.limit {
		q.drops++
		return false
	}
	q.items = append(q.items, f)
	return true
}

// Dequeue removes the oldest frame.
func (q *Queue) Dequeue() (frame.Frame, bool) {
	if len(q.items) == 0 {
		return frame.Frame{}, false
	}
	f := q.items[0]
	q.items[0] = frame.Frame{}
	q.items = q.items[1:]
	return f, true
}

// Peek returns the oldest frame without removing it.
func (q *Queue) Peek() (frame.Frame, bool) {
	if len(q.items) == 0 {
		return frame.Frame{}, false
	}
	return q.items[0], true
}

func (q *Queue) Len() int      { return len(q.items) }
func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }
func (q *Queue) Limit() int    { return q.limit }
func (q *Queue) Drops() uint64 { return q.drops }
