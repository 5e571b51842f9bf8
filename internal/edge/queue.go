// Package edge provides the bounded queue that carries press/release edges
// from event sources (GPIO line events, input devices) to the run loop.
package edge

import (
	"sync"
	"time"

	"github.com/sweeney/button-handler/internal/logic"
)

// Batch is the result of draining a queue.
type Batch struct {
	Edges []logic.Edge
	// Now is the clock reading taken while draining. Every edge pushed later
	// is stamped at or after Now.
	Now time.Time
	// Dropped counts edges lost to overflow since the previous drain.
	Dropped int
}

// Queue is a bounded FIFO of edges, safe for concurrent use.
// When full, new edges are dropped and counted; the oldest are kept so the
// classifier sees a consistent prefix.
type Queue struct {
	mu       sync.Mutex
	now      func() time.Time
	edges    []logic.Edge
	capacity int
	dropped  int
	notify   chan struct{}
}

// NewQueue creates a queue holding at most capacity edges. Edges are stamped
// with now when pushed.
func NewQueue(capacity int, now func() time.Time) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{
		now:      now,
		edges:    make([]logic.Edge, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push records an edge for button. It reports false if the edge was dropped.
func (q *Queue) Push(button int, pressed bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.edges) == q.capacity {
		q.dropped++
		return false
	}
	q.edges = append(q.edges, logic.Edge{
		Button:  button,
		Pressed: pressed,
		Time:    q.now(),
	})

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every queued edge.
func (q *Queue) Drain() Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := Batch{Now: q.now(), Dropped: q.dropped}
	if len(q.edges) > 0 {
		b.Edges = make([]logic.Edge, len(q.edges))
		copy(b.Edges, q.edges)
		q.edges = q.edges[:0]
	}
	q.dropped = 0
	return b
}

// Len returns the number of queued edges.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.edges)
}

// C is signalled after a Push. Receivers should Drain on wake-up.
func (q *Queue) C() <-chan struct{} {
	return q.notify
}
