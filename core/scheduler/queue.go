package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"model-orchestrator/core/models"
)

// ResourceClass partitions execution slots by the kind of capacity a
// job needs.
type ResourceClass string

const (
	ClassCPU ResourceClass = "cpu"
	ClassGPU ResourceClass = "gpu"
)

// Entry wraps a queued task with its admission ordering key.
type Entry struct {
	Task       *models.Task
	Class      ResourceClass
	EnqueuedAt time.Time
	seq        int64
	key        float64
}

// Queue is a class-partitioned priority queue. Ordering combines the
// declared priority with wait-time aging: effective priority grows
// while a job waits, so low-priority jobs are never starved. Because
// every job ages at the same rate, the pairwise ordering is fixed at
// enqueue time and can be captured in a static heap key.
type Queue struct {
	mu        sync.Mutex
	heaps     map[ResourceClass]*entryHeap
	agingRate float64 // priority points per second waited
	epoch     time.Time
	seq       int64
}

// NewQueue creates a job queue with the given aging rate.
func NewQueue(agingRate float64) *Queue {
	return &Queue{
		heaps: map[ResourceClass]*entryHeap{
			ClassCPU: {},
			ClassGPU: {},
		},
		agingRate: agingRate,
		epoch:     time.Now(),
	}
}

// Push adds a task to its class queue.
func (q *Queue) Push(task *models.Task, class ResourceClass) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	q.seq++
	e := &Entry{
		Task:       task,
		Class:      class,
		EnqueuedAt: now,
		seq:        q.seq,
		// Aging: effective priority at time t is
		// priority + agingRate*(t - enqueued). Subtracting the
		// enqueue offset gives a time-invariant ordering key.
		key: float64(task.Job.Priority) - q.agingRate*now.Sub(q.epoch).Seconds(),
	}
	heap.Push(q.heaps[class], e)
}

// Pop removes and returns the next admissible entry for a class, or
// nil if that class queue is empty.
func (q *Queue) Pop(class ResourceClass) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.heaps[class]
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Entry)
}

// Len returns the number of live queued entries for a class.
// Cancelled-while-queued entries stay in the heap until admission
// skips them; they are not live work and do not count.
func (q *Queue) Len(class ResourceClass) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heaps[class].live()
}

// Depth returns the total number of live queued entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, h := range q.heaps {
		total += h.live()
	}
	return total
}

// entryHeap orders entries by descending key, FIFO among equals.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) live() int {
	n := 0
	for _, e := range h {
		if e.Task.Cancel != nil && e.Task.Cancel.Cancelled() {
			continue
		}
		n++
	}
	return n
}

func (h entryHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key > h[j].key
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*Entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
