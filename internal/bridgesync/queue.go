package bridgesync

import (
	"container/heap"
	"sort"

	"bridgesync/internal/models"
)

// priorityHeap is a max-heap of the priorities that currently own a bucket.
type priorityHeap []int

func (h priorityHeap) Len() int           { return len(h) }
func (h priorityHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h priorityHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type queueEntry struct {
	accountID string
	priority  int
}

// taskQueue holds undispatched account ids bucketed by priority. Each bucket is
// FIFO. Heap entries whose bucket disappeared are discarded lazily on pop.
// Not safe for concurrent use.
type taskQueue struct {
	buckets map[int][]string
	prios   priorityHeap
	inHeap  map[int]bool
	size    int
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		buckets: make(map[int][]string),
		inHeap:  make(map[int]bool),
	}
}

func (q *taskQueue) len() int {
	return q.size
}

// replace drops every queued entry at priority and enqueues ids in its place.
// It returns the number of dropped entries.
func (q *taskQueue) replace(priority int, ids []string) int {
	evicted := q.remove(priority)
	if len(ids) == 0 {
		return evicted
	}

	q.buckets[priority] = append([]string(nil), ids...)
	q.size += len(ids)
	if !q.inHeap[priority] {
		heap.Push(&q.prios, priority)
		q.inHeap[priority] = true
	}
	return evicted
}

func (q *taskQueue) remove(priority int) int {
	n := len(q.buckets[priority])
	delete(q.buckets, priority)
	q.size -= n
	return n
}

// evictBelow drops every entry whose priority is strictly below threshold.
func (q *taskQueue) evictBelow(threshold int) int {
	evicted := 0
	for p := range q.buckets {
		if p < threshold {
			evicted += q.remove(p)
		}
	}
	return evicted
}

// pop returns the oldest entry of the highest priority bucket.
func (q *taskQueue) pop() (queueEntry, bool) {
	for q.prios.Len() > 0 {
		p := q.prios[0]
		ids := q.buckets[p]
		if len(ids) == 0 {
			heap.Pop(&q.prios)
			delete(q.inHeap, p)
			delete(q.buckets, p)
			continue
		}

		id := ids[0]
		q.size--
		if len(ids) == 1 {
			delete(q.buckets, p)
		} else {
			q.buckets[p] = ids[1:]
		}
		return queueEntry{accountID: id, priority: p}, true
	}
	return queueEntry{}, false
}

// snapshot lists queued batches in dispatch order.
func (q *taskQueue) snapshot() []models.SyncTask {
	prios := make([]int, 0, len(q.buckets))
	for p, ids := range q.buckets {
		if len(ids) > 0 {
			prios = append(prios, p)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(prios)))

	out := make([]models.SyncTask, 0, len(prios))
	for _, p := range prios {
		out = append(out, models.SyncTask{
			AccountIDs: append([]string(nil), q.buckets[p]...),
			Priority:   p,
		})
	}
	return out
}
