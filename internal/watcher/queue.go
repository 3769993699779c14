package watcher

import (
	"sync"
	"time"

	"devguard/internal/registry"
)

// FileEvent carries the check results for one settled file change
type FileEvent struct {
	ID      string                      `json:"id"`
	Path    string                      `json:"path"`
	Op      string                      `json:"op"`
	Time    time.Time                   `json:"time"`
	Results map[string]*registry.Result `json:"results"`
	Errors  map[string]string           `json:"errors,omitempty"`
	Diff    string                      `json:"diff,omitempty"`
}

// Queue is a bounded FIFO between the watcher and its consumers. Pushing to a
// full queue drops the oldest event instead of blocking.
type Queue struct {
	mu      sync.Mutex
	events  []FileEvent
	size    int
	dropped int
	notify  chan struct{}
}

// NewQueue creates a queue holding at most size events
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{size: size, notify: make(chan struct{}, 1)}
}

// Push appends ev, evicting the oldest event when full
func (q *Queue) Push(ev FileEvent) {
	q.mu.Lock()
	if len(q.events) >= q.size {
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every pending event, oldest first
func (q *Queue) Drain() []FileEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of pending events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events were evicted
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after a push. Several pushes may share one signal.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}
