package scheduler

import (
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/messiah1349/notification-bot/db"
)

type notifyRecorder struct {
	fired []int64
}

func (r *notifyRecorder) notify(deedID int64) {
	r.fired = append(r.fired, deedID)
}

func newTestScheduler(t *testing.T) (*Scheduler, *notifyRecorder, clock.FakeClock) {
	t.Helper()

	rec := &notifyRecorder{}
	fc := clock.NewFake()
	fc.Set(time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC))

	s := New(rec.notify, zap.NewNop().Sugar())
	s.clk = fc

	return s, rec, fc
}

func TestScheduleOnceReplacesPendingTimer(t *testing.T) {
	s, rec, fc := newTestScheduler(t)
	now := fc.Now()

	s.ScheduleOnce(5, now.Add(time.Minute))
	s.ScheduleOnce(5, now.Add(2*time.Minute))

	// first target time passes, the replaced timer must stay silent
	s.fireDue(now.Add(time.Minute))
	assert.Empty(t, rec.fired)
	assert.True(t, s.Pending(5))

	s.fireDue(now.Add(2 * time.Minute))
	assert.Equal(t, []int64{5}, rec.fired)
	assert.False(t, s.Pending(5))

	// nothing left to fire
	s.fireDue(now.Add(time.Hour))
	assert.Equal(t, []int64{5}, rec.fired)
}

func TestRescheduleToEarlierTimeFiresEarlier(t *testing.T) {
	s, rec, fc := newTestScheduler(t)
	now := fc.Now()

	s.ScheduleOnce(5, now.Add(time.Hour))
	s.ScheduleOnce(5, now.Add(time.Minute))

	s.fireDue(now.Add(time.Minute))
	assert.Equal(t, []int64{5}, rec.fired)

	s.fireDue(now.Add(2 * time.Hour))
	assert.Equal(t, []int64{5}, rec.fired)
}

func TestCancelAbsentKeyIsNoOp(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	assert.False(t, s.Cancel(42))
}

func TestCancelPreventsFiring(t *testing.T) {
	s, rec, fc := newTestScheduler(t)
	now := fc.Now()

	s.ScheduleOnce(5, now.Add(time.Minute))
	assert.True(t, s.Cancel(5))
	assert.False(t, s.Pending(5))

	s.fireDue(now.Add(time.Hour))
	assert.Empty(t, rec.fired)
}

func TestFireIsOrderedAndOncePerKey(t *testing.T) {
	s, rec, fc := newTestScheduler(t)
	now := fc.Now()

	s.ScheduleOnce(2, now.Add(2*time.Minute))
	s.ScheduleOnce(1, now.Add(time.Minute))
	s.ScheduleOnce(3, now.Add(3*time.Minute))

	s.fireDue(now.Add(5 * time.Minute))
	assert.Equal(t, []int64{1, 2, 3}, rec.fired)
}

func TestRearmDropsOverdueDeeds(t *testing.T) {
	s, rec, fc := newTestScheduler(t)
	now := fc.Now()

	past := now.Add(-5 * time.Minute)
	future := now.Add(30 * time.Minute)

	deeds := []db.Deed{
		{ID: 1, OwnerID: 7, Name: "missed while down", NotifyTime: &past},
		{ID: 2, OwnerID: 7, Name: "still ahead", NotifyTime: &future},
		{ID: 3, OwnerID: 7, Name: "never scheduled"},
	}

	armed := s.Rearm(deeds)
	require.Equal(t, 1, armed)
	assert.False(t, s.Pending(1))
	assert.True(t, s.Pending(2))

	s.fireDue(future)
	assert.Equal(t, []int64{2}, rec.fired)
}
