package scheduler

import (
	"container/heap"
	"time"
)

// timer is one pending notification for a deed.
type timer struct {
	deedID int64
	at     time.Time
}

// timerQueue orders timers by fire time. Entries superseded by a newer
// ScheduleOnce or removed by Cancel are left in the heap and skipped when
// popped; the scheduler's pending map is the authority on what is armed.
type timerQueue struct {
	backingArray []*timer
}

func newTimerQueue() *timerQueue {
	q := &timerQueue{backingArray: []*timer{}}
	heap.Init(q)
	return q
}

func (q timerQueue) Len() int {
	return len(q.backingArray)
}

func (q timerQueue) Less(i, j int) bool {
	return q.backingArray[i].at.Before(q.backingArray[j].at)
}

func (q timerQueue) Swap(i, j int) {
	q.backingArray[j], q.backingArray[i] = q.backingArray[i], q.backingArray[j]
}

func (q *timerQueue) Push(t any) {
	entry, ok := t.(*timer)
	if !ok {
		return
	}

	q.backingArray = append(q.backingArray, entry)
}

func (q *timerQueue) Pop() any {
	if len(q.backingArray) == 0 {
		return nil
	}

	ba := q.backingArray
	n := len(ba)
	popped := ba[n-1]
	ba[n-1] = nil
	q.backingArray = ba[:n-1]

	return popped
}

func (q *timerQueue) Peek() *timer {
	if len(q.backingArray) == 0 {
		return nil
	}

	return q.backingArray[0]
}
