// Package backup pushes changed contacts to the selected provider one at a
// time and fetches them back on restore.
package backup

import (
	"slices"
	"sync"
)

// Queue holds contact ids awaiting backup. An id is present at most once;
// re-enqueueing moves it to the tail.
type Queue struct {
	mu  sync.Mutex
	ids []string
}

// NewQueue returns a queue holding ids in order, deduplicated.
func NewQueue(ids ...string) *Queue {
	q := &Queue{}
	for _, id := range ids {
		q.Enqueue(id)
	}
	return q
}

// Enqueue appends id, removing any earlier occurrence first.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := slices.Index(q.ids, id); i >= 0 {
		q.ids = slices.Delete(q.ids, i, i+1)
	}
	q.ids = append(q.ids, id)
}

// Dequeue removes and returns the head id. ok is false when empty.
func (q *Queue) Dequeue() (id string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id = q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Snapshot returns the queued ids head first.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.ids)
}
