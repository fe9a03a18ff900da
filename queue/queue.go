package queue

import (
	"container/heap"
	"context"

	"sync"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/job"
)

// Queue is a bounded, priority-ordered, deduplicating in-memory work
// queue. Safe for concurrent push and pop.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    jobHeap
	tracked  map[string]struct{}

	// notify wakes one blocked Pop per buffered signal.
	notify chan struct{}
}

// New creates a queue bounded at capacity jobs.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		tracked:  make(map[string]struct{}, capacity),
		notify:   make(chan struct{}, 1),
	}
}

// Push offers a job to the queue without blocking.
//
// A job whose ID is already tracked (queued or being processed) is
// silently ignored — Push is the deduplication point shared by Enqueue
// and the store loader. A full queue returns herald.ErrQueueFull.
func (q *Queue) Push(j *job.Job) error {
	q.mu.Lock()

	key := j.ID.String()
	if _, dup := q.tracked[key]; dup {
		q.mu.Unlock()
		return nil
	}
	if q.items.Len() >= q.capacity {
		q.mu.Unlock()
		return herald.ErrQueueFull
	}

	q.tracked[key] = struct{}{}
	heap.Push(&q.items, j)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop blocks until a job is available or ctx is cancelled. The job's ID
// remains tracked until Done is called, which is what guarantees at
// most one concurrent execution per job.
func (q *Queue) Pop(ctx context.Context) (*job.Job, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			j := heap.Pop(&q.items).(*job.Job)
			remaining := q.items.Len()
			q.mu.Unlock()
			if remaining > 0 {
				// Re-arm so other waiters see the leftover work.
				q.signal()
			}
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Done releases a job ID from dedup tracking. Workers call it once the
// attempt's outcome has been persisted; a retry-scheduled job re-enters
// later through the store loader.
func (q *Queue) Done(jobID string) {
	q.mu.Lock()
	delete(q.tracked, jobID)
	q.mu.Unlock()
}

// Contains reports whether a job ID is currently tracked.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tracked[jobID]
	return ok
}

// Len returns the number of jobs waiting in the queue (not counting
// jobs popped but not yet Done).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// jobHeap orders jobs by priority (descending), breaking ties by
// creation time (ascending) so equal-priority work stays roughly FIFO.
type jobHeap []*job.Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job.Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
