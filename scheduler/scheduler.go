// Package scheduler keeps at most one pending notification timer per deed
// and fires a delivery callback when a timer's target time is reached.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"github.com/messiah1349/notification-bot/db"
)

const schedulerTick = time.Second

// Notifier delivers a fired notification. It should re-fetch the deed by
// id: the content may have changed since the timer was armed.
type Notifier func(deedID int64)

type Scheduler struct {
	mu      sync.Mutex
	queue   *timerQueue
	pending map[int64]*timer

	notify Notifier
	logger *zap.SugaredLogger
	clk    clock.Clock
	tick   time.Duration
	stop   chan struct{}
}

func New(notify Notifier, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		queue:   newTimerQueue(),
		pending: make(map[int64]*timer),
		notify:  notify,
		logger:  logger,
		clk:     clock.New(),
		tick:    schedulerTick,
		stop:    make(chan struct{}),
	}
}

// ScheduleOnce arms a timer for the deed, replacing any pending one.
// Replacing a timer that does not exist is not an error.
func (s *Scheduler) ScheduleOnce(deedID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &timer{deedID: deedID, at: at}
	s.pending[deedID] = entry
	heap.Push(s.queue, entry)
}

// Cancel removes the pending timer for the deed and reports whether one
// existed. Canceling an absent key is a no-op.
func (s *Scheduler) Cancel(deedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[deedID]
	delete(s.pending, deedID)

	return ok
}

// Pending reports whether a timer is armed for the deed.
func (s *Scheduler) Pending(deedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[deedID]
	return ok
}

// Rearm restores timers from persisted deeds after a restart and returns
// how many were armed. Deeds whose notify time has already elapsed are
// dropped: reminders missed while the process was down are not fired late.
func (s *Scheduler) Rearm(deeds []db.Deed) int {
	now := s.clk.Now()

	armed := 0
	for _, deed := range deeds {
		if deed.NotifyTime == nil {
			continue
		}

		if !deed.NotifyTime.After(now) {
			s.logger.Infow("dropping overdue reminder", "deed", deed.ID, "at", deed.NotifyTime)
			continue
		}

		s.ScheduleOnce(deed.ID, *deed.NotifyTime)
		armed++
	}

	s.logger.Infof("rearmed %d of %d active deeds", armed, len(deeds))
	return armed
}

// Run starts the firing loop in its own goroutine.
func (s *Scheduler) Run() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.fireDue(s.clk.Now())
		}
	}
}

// fireDue pops every timer due at now and delivers it. Heap entries whose
// pending-map slot was canceled or replaced are discarded without firing.
func (s *Scheduler) fireDue(now time.Time) {
	var due []int64

	s.mu.Lock()
	for {
		head := s.queue.Peek()
		if head == nil || now.Before(head.at) {
			break
		}

		popped := heap.Pop(s.queue).(*timer)
		current, ok := s.pending[popped.deedID]
		if !ok || current != popped {
			// canceled or rescheduled, stale entry
			continue
		}

		delete(s.pending, popped.deedID)
		due = append(due, popped.deedID)
	}
	s.mu.Unlock()

	for _, deedID := range due {
		s.logger.Infow("notification is being sent", "deed", deedID)
		s.notify(deedID)
	}
}
