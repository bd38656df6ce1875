package engine

import (
	"sync"
	"time"

	"github.com/sells-group/leadscout/internal/model"
)

// stageQueue is the pending-item queue for one stage. Items carry their
// own eligibility time (NotBefore); Pop returns the oldest item whose
// backoff has elapsed, so retry_wait items never starve fresh ones and
// never run early.
type stageQueue struct {
	mu    sync.Mutex
	items []*model.WorkItem
}

func newStageQueue() *stageQueue {
	return &stageQueue{}
}

// Push appends an item. FIFO order among equally-eligible items.
func (q *stageQueue) Push(item *model.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Pop removes and returns the first eligible item, or nil when nothing
// is runnable yet.
func (q *stageQueue) Pop(now time.Time) *model.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.NotBefore.After(now) {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return item
	}
	return nil
}

// Remove pulls every item belonging to the mission out of the queue,
// eligibility notwithstanding. Used when a mission stops so retry_wait
// items do not hold the drain open for their backoff.
func (q *stageQueue) Remove(missionID string) []*model.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*model.WorkItem
	kept := q.items[:0]
	for _, item := range q.items {
		if item.MissionID == missionID {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

// Len returns the number of items waiting, eligible or not.
func (q *stageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
