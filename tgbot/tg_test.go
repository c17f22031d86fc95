package tgbot

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/messiah1349/notification-bot/backend"
	"github.com/messiah1349/notification-bot/db"
)

type fakeAPI struct {
	sent []tg.Chattable
}

func (f *fakeAPI) Request(c tg.Chattable) (*tg.APIResponse, error) {
	f.sent = append(f.sent, c)
	return &tg.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) sentTexts() []string {
	var texts []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tg.MessageConfig:
			texts = append(texts, m.Text)
		case tg.EditMessageTextConfig:
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func (f *fakeAPI) lastText() string {
	texts := f.sentTexts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeBackend struct {
	deeds  map[int64]*db.Deed
	nextID int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{deeds: make(map[int64]*db.Deed)}
}

func (f *fakeBackend) AddDeed(_ context.Context, name string, ownerID int64) (int64, error) {
	f.nextID++
	f.deeds[f.nextID] = &db.Deed{ID: f.nextID, OwnerID: ownerID, Name: name, CreateTime: time.Now()}
	return f.nextID, nil
}

func (f *fakeBackend) GetDeed(_ context.Context, deedID int64) (db.Deed, error) {
	deed, ok := f.deeds[deedID]
	if !ok {
		return db.Deed{}, errors.Wrapf(backend.ErrDeedNotFound, "id %d", deedID)
	}
	return *deed, nil
}

func (f *fakeBackend) GetDeedsForOwner(_ context.Context, ownerID int64) ([]db.Deed, error) {
	var deeds []db.Deed
	for _, deed := range f.deeds {
		if deed.OwnerID == ownerID && !deed.DoneFlag {
			deeds = append(deeds, *deed)
		}
	}
	sort.Slice(deeds, func(i, j int) bool { return deeds[i].ID < deeds[j].ID })
	return deeds, nil
}

func (f *fakeBackend) AddNotification(_ context.Context, deedID int64, at time.Time) error {
	if deed, ok := f.deeds[deedID]; ok {
		deed.NotifyTime = &at
	}
	return nil
}

func (f *fakeBackend) MarkDeedDone(_ context.Context, deedID int64) error {
	if deed, ok := f.deeds[deedID]; ok {
		deed.DoneFlag = true
	}
	return nil
}

func (f *fakeBackend) RenameDeed(_ context.Context, deedID int64, name string) error {
	if deed, ok := f.deeds[deedID]; ok {
		deed.Name = name
	}
	return nil
}

type fakeTimers struct {
	pending map[int64]time.Time
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{pending: make(map[int64]time.Time)}
}

func (f *fakeTimers) ScheduleOnce(deedID int64, at time.Time) {
	f.pending[deedID] = at
}

func (f *fakeTimers) Cancel(deedID int64) bool {
	_, ok := f.pending[deedID]
	delete(f.pending, deedID)
	return ok
}

var testNow = time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestBot(t *testing.T) (*TBot, *fakeAPI, *fakeBackend, *fakeTimers) {
	t.Helper()

	api := &fakeAPI{}
	fb := newFakeBackend()
	ft := newFakeTimers()
	fc := clock.NewFake()
	fc.Set(testNow)

	b := NewTBot(api, fb, time.UTC, zap.NewNop().Sugar())
	b.clk = fc
	b.Scheduler = ft
	b.RetryAttempts = 1
	b.RetryDelay = 0

	return b, api, fb, ft
}

func textMessage(usr int64, text string) *tg.Message {
	return &tg.Message{
		MessageID: 1,
		From:      &tg.User{ID: usr},
		Chat:      &tg.Chat{ID: usr},
		Text:      text,
	}
}

func callback(usr int64, data string) *tg.CallbackQuery {
	return &tg.CallbackQuery{
		ID:      "cbq",
		From:    &tg.User{ID: usr},
		Message: textMessage(usr, "keyboard carrier"),
		Data:    data,
	}
}

const usr = int64(7)

// runs the add-deed flow up to the yes/no prompt
func addDeed(t *testing.T, b *TBot, name string) {
	t.Helper()
	b.HandleMessage(textMessage(usr, btnAddDeed))
	b.HandleMessage(textMessage(usr, name))
}

func TestAddDeedFlow(t *testing.T) {
	b, _, fb, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")

	require.Len(t, fb.deeds, 1)
	deed := fb.deeds[1]
	assert.Equal(t, "Buy milk", deed.Name)
	assert.Equal(t, usr, deed.OwnerID)
	assert.False(t, deed.DoneFlag)
	assert.Nil(t, deed.NotifyTime)

	assert.Equal(t, stageAwaitNotifyDecision, b.states[usr].stage)
	assert.Equal(t, int64(1), b.states[usr].pendingDeedID)
}

func TestDeclineNotificationReturnsToMenu(t *testing.T) {
	b, _, _, ft := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))

	s := b.states[usr]
	assert.Equal(t, stageMainMenu, s.stage)
	assert.Zero(t, s.pendingDeedID)
	assert.Empty(t, ft.pending)
}

func TestUnrecognizedNotifyAnswerIsIgnored(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	before := len(api.sent)

	b.HandleMessage(textMessage(usr, "maybe tomorrow"))

	assert.Equal(t, stageAwaitNotifyDecision, b.states[usr].stage)
	assert.Equal(t, before, len(api.sent), "no re-prompt is issued")
}

func TestScheduleNotificationFlow(t *testing.T) {
	b, _, fb, ft := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnYes))
	b.HandleCallback(callback(usr, "day=1"))
	b.HandleCallback(callback(usr, "hour=9"))
	b.HandleCallback(callback(usr, "minute=30"))

	want := time.Date(2023, 10, 2, 9, 30, 0, 0, time.UTC) // tomorrow 09:30

	deed := fb.deeds[1]
	require.NotNil(t, deed.NotifyTime)
	assert.Equal(t, want, *deed.NotifyTime)

	require.Len(t, ft.pending, 1)
	assert.Equal(t, want, ft.pending[1])

	s := b.states[usr]
	assert.Equal(t, stageMainMenu, s.stage)
	assert.Zero(t, s.pendingDeedID)
	assert.True(t, s.pendingDate.IsZero())
	assert.Equal(t, -1, s.pendingHour)
}

func TestPastTimeSelectionReshowsDays(t *testing.T) {
	b, api, fb, ft := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnYes))
	b.HandleCallback(callback(usr, "day=0"))
	b.HandleCallback(callback(usr, "hour=9")) // test clock says 12:00
	b.HandleCallback(callback(usr, "minute=30"))

	assert.Nil(t, fb.deeds[1].NotifyTime)
	assert.Empty(t, ft.pending)
	assert.Contains(t, api.lastText(), txtTimePassed)

	// the sub-flow is still open, a valid pick goes through
	b.HandleCallback(callback(usr, "day=1"))
	b.HandleCallback(callback(usr, "hour=9"))
	b.HandleCallback(callback(usr, "minute=30"))
	assert.NotNil(t, fb.deeds[1].NotifyTime)
}

func TestPostponeFromNotification(t *testing.T) {
	b, _, fb, ft := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))

	// reminder fires later; the user asks to be reminded again
	b.HandleCallback(callback(usr, "notify_timer_deed_id=1"))
	b.HandleCallback(callback(usr, "postpone=10"))

	want := testNow.Add(10 * time.Minute)
	require.NotNil(t, fb.deeds[1].NotifyTime)
	assert.Equal(t, want, fb.deeds[1].NotifyTime.UTC())
	assert.Equal(t, want, ft.pending[1].UTC())
}

func TestStaleDayButtonFailsGracefully(t *testing.T) {
	b, api, _, ft := newTestBot(t)

	b.HandleCallback(callback(usr, "day=1"))
	b.HandleCallback(callback(usr, "minute=30"))

	assert.Empty(t, ft.pending)
	assert.Contains(t, api.sentTexts(), txtStaleButton)
}

func TestMarkDoneCancelsTimer(t *testing.T) {
	b, api, fb, ft := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnYes))
	b.HandleCallback(callback(usr, "day=1"))
	b.HandleCallback(callback(usr, "hour=9"))
	b.HandleCallback(callback(usr, "minute=30"))

	b.HandleCallback(callback(usr, "done_deed_id=1"))

	assert.True(t, fb.deeds[1].DoneFlag)
	assert.Empty(t, ft.pending)
	assert.Contains(t, api.lastText(), txtNotificationCanceled)
}

func TestMarkDoneWithoutTimerSkipsCancelNotice(t *testing.T) {
	b, api, fb, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))

	b.HandleCallback(callback(usr, "done_deed_id=1"))

	assert.True(t, fb.deeds[1].DoneFlag)
	assert.NotContains(t, api.lastText(), txtNotificationCanceled)
}

func TestRenameFlow(t *testing.T) {
	b, _, fb, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))

	b.HandleCallback(callback(usr, "rename_deed_id=1"))
	assert.Equal(t, stageAwaitRenameText, b.states[usr].stage)

	b.HandleMessage(textMessage(usr, "Buy oat milk"))

	assert.Equal(t, "Buy oat milk", fb.deeds[1].Name)
	assert.Equal(t, stageMainMenu, b.states[usr].stage)
}

func TestNotificationSkippedForDoneDeed(t *testing.T) {
	b, api, fb, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))
	fb.deeds[1].DoneFlag = true

	before := len(api.sent)
	b.SendNotification(1)

	assert.Equal(t, before, len(api.sent))
}

func TestNotificationSkippedForVanishedDeed(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	b.SendNotification(42)

	assert.Empty(t, api.sent)
}

func TestNotificationCarriesDeedName(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))

	b.SendNotification(1)

	assert.True(t, strings.HasSuffix(api.lastText(), "Buy milk"))
	assert.Contains(t, api.lastText(), "🔔")
}

func TestShowDeedsListsOnlyActiveOnes(t *testing.T) {
	b, api, fb, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, btnNo))
	addDeed(t, b, "Call mom")
	b.HandleMessage(textMessage(usr, btnNo))
	fb.deeds[1].DoneFlag = true

	b.HandleMessage(textMessage(usr, btnShowDeeds))

	last := api.sent[len(api.sent)-1].(tg.MessageConfig)
	kb, ok := last.ReplyMarkup.(tg.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	assert.Equal(t, "Call mom", kb.InlineKeyboard[0][0].Text)
}

func TestEndSessionClearsState(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	addDeed(t, b, "Buy milk")
	b.HandleMessage(textMessage(usr, textEndSession))

	assert.NotContains(t, b.states, usr)
	assert.Equal(t, txtSessionOver, api.lastText())
}

func TestSessionsAreIndependentPerUser(t *testing.T) {
	b, _, fb, _ := newTestBot(t)
	other := int64(8)

	b.HandleMessage(textMessage(usr, btnAddDeed))
	b.HandleMessage(textMessage(other, btnAddDeed))
	b.HandleMessage(textMessage(usr, "Buy milk"))
	b.HandleMessage(textMessage(other, "Walk the dog"))

	assert.Equal(t, usr, fb.deeds[1].OwnerID)
	assert.Equal(t, other, fb.deeds[2].OwnerID)
}
