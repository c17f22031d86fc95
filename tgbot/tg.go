// Package tgbot drives the per-user conversation: a small state machine
// over Telegram messages, commands and inline-keyboard callbacks.
package tgbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/messiah1349/notification-bot/backend"
	"github.com/messiah1349/notification-bot/bot"
	"github.com/messiah1349/notification-bot/db"
)

type Stage int

const (
	stageMainMenu Stage = iota
	stageAwaitDeedName
	stageAwaitNotifyDecision
	stageAwaitRenameText
)

const (
	txtWelcomeMessage = "Hello! I keep your deeds and ring a bell when it's time. Choose a move"
	txtHelpMessage    = `I keep track of your deeds and remind about them once, at the time you pick. Use the menu buttons or these commands:
/start - show the main menu
/help - this message
/done - end the conversation`
	txtUnknownCommand         = "I don't know this command. Use /help to list commands I know"
	txtYourDeeds              = "Your deeds:"
	txtNoDeeds                = "You have no deeds yet. Add one!"
	txtDeedNameQuestion       = "What should I call the deed?"
	txtDeedAdded              = "Deed saved"
	txtNotifyQuestion         = "Should I remind you about it?"
	txtOk                     = "Ok!"
	txtChooseDay              = "Choose a day"
	txtChooseHour             = "Choose an hour"
	txtChooseMinute           = "Choose a minute"
	txtTimePassed             = "That time has already passed. Choose another day"
	txtNewNameQuestion        = "Send me the new name"
	txtDeedRenamed            = "Renamed!"
	txtDeedDone               = "Deed is done, well done"
	txtNotificationCanceled   = "The reminder is off"
	txtSessionOver            = "See you!"
	txtWow                    = "Wow!"
	txtDzyn                   = "Dzyn-dzyn!"
	txtStaleButton            = "I lost track of that deed, open it again please"
	txtErrorAccessingDatabase = "Oops, something went wrong on my side. Try again"

	fmtNotifyAdded = "I'll ring on %s"
	fmtDeedBell    = "%s\n🔔 %s"
)

// textEndSession ends the dialog from any stage.
const textEndSession = "Done"

// Requester is the slice of the Telegram API the engine sends through.
// *tg.BotAPI satisfies it.
type Requester interface {
	Request(c tg.Chattable) (*tg.APIResponse, error)
}

// Backender is the facade the engine drives.
type Backender interface {
	AddDeed(ctx context.Context, name string, ownerID int64) (int64, error)
	GetDeed(ctx context.Context, deedID int64) (db.Deed, error)
	GetDeedsForOwner(ctx context.Context, ownerID int64) ([]db.Deed, error)
	AddNotification(ctx context.Context, deedID int64, at time.Time) error
	MarkDeedDone(ctx context.Context, deedID int64) error
	RenameDeed(ctx context.Context, deedID int64, name string) error
}

// Timers is the scheduler surface the engine needs.
type Timers interface {
	ScheduleOnce(deedID int64, at time.Time)
	Cancel(deedID int64) bool
}

// session holds one user's dialog context. pendingDeedID of 0 means no
// deed is being worked on.
type session struct {
	stage         Stage
	pendingDeedID int64
	pendingDate   time.Time
	pendingHour   int
}

func newSession() *session {
	return &session{stage: stageMainMenu, pendingHour: -1}
}

func (s *session) clearPending() {
	s.pendingDeedID = 0
	s.pendingDate = time.Time{}
	s.pendingHour = -1
}

type TBot struct {
	api     Requester
	backend Backender
	logger  *zap.SugaredLogger
	loc     *time.Location
	clk     clock.Clock

	// Scheduler is wired by main after construction: the scheduler's
	// delivery callback points back at SendNotification.
	Scheduler Timers

	RetryAttempts int
	RetryDelay    time.Duration

	states map[int64]*session
}

func NewTBot(api Requester, bk Backender, loc *time.Location, logger *zap.SugaredLogger) *TBot {
	return &TBot{
		api:           api,
		backend:       bk,
		logger:        logger,
		loc:           loc,
		clk:           clock.New(),
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
		states:        make(map[int64]*session),
	}
}

// Run consumes updates until the channel closes. Updates are handled
// sequentially, so session state needs no locking.
func (b *TBot) Run(updates tg.UpdatesChannel) {
	for u := range updates {
		switch {
		case u.CallbackQuery != nil:
			b.HandleCallback(u.CallbackQuery)
		case u.Message != nil && u.Message.IsCommand():
			b.HandleCommand(u.Message)
		case u.Message != nil:
			b.HandleMessage(u.Message)
		}
	}
}

func (b *TBot) session(usr int64) *session {
	s := b.states[usr]
	if s == nil {
		s = newSession()
		b.states[usr] = s
	}
	return s
}

func (b *TBot) HandleCommand(msg *tg.Message) {
	usr := msg.From.ID
	s := b.session(usr)

	switch msg.Command() {
	case "start":
		// entering the menu abandons any open sub-flow
		s.stage = stageMainMenu
		s.clearPending()
		b.SendMessage(usr, txtWelcomeMessage, -1, mainKeyboard)

	case "help":
		b.SendMessage(usr, txtHelpMessage, -1, nil)

	case "done":
		b.endSession(usr)

	default:
		b.SendMessage(usr, txtUnknownCommand, msg.MessageID, nil)
	}
}

func (b *TBot) HandleMessage(msg *tg.Message) {
	usr := msg.From.ID
	s := b.session(usr)

	if msg.Text == textEndSession {
		b.endSession(usr)
		return
	}

	switch s.stage {
	case stageMainMenu:
		switch msg.Text {
		case btnShowDeeds:
			b.showDeeds(usr)
		case btnAddDeed:
			if b.SendMessage(usr, txtDeedNameQuestion, -1, tg.NewRemoveKeyboard(true)) != nil {
				return
			}
			s.stage = stageAwaitDeedName
		}

	case stageAwaitDeedName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			return
		}

		id, err := b.backend.AddDeed(context.Background(), name, usr)
		if err != nil {
			// session untouched so the user can retry
			b.SendMessage(usr, txtErrorAccessingDatabase, msg.MessageID, nil)
			return
		}

		s.pendingDeedID = id
		s.stage = stageAwaitNotifyDecision
		b.SendMessage(usr, txtDeedAdded+"\n\n"+txtNotifyQuestion, -1, yesNoKeyboard)

	case stageAwaitNotifyDecision:
		switch msg.Text {
		case btnNo:
			s.clearPending()
			s.stage = stageMainMenu
			b.SendMessage(usr, txtOk, -1, mainKeyboard)
		case btnYes:
			s.stage = stageMainMenu
			b.SendMessage(usr, txtChooseDay+":", -1, daysKeyboard)
		}
		// anything else is ignored, only the two labels are recognized

	case stageAwaitRenameText:
		if s.pendingDeedID == 0 {
			s.stage = stageMainMenu
			return
		}

		if err := b.backend.RenameDeed(context.Background(), s.pendingDeedID, msg.Text); err != nil {
			b.SendMessage(usr, txtErrorAccessingDatabase, msg.MessageID, nil)
			return
		}

		s.clearPending()
		s.stage = stageMainMenu
		b.SendMessage(usr, txtDeedRenamed, -1, mainKeyboard)
	}
}

func (b *TBot) HandleCallback(cbq *tg.CallbackQuery) {
	usr := cbq.From.ID
	s := b.session(usr)

	b.answerCallback(cbq.ID)

	tag, val, err := parseCallback(cbq.Data)
	if err != nil {
		b.logger.Warnw("malformed callback data", "data", cbq.Data, "err", err)
		return
	}

	msgID := -1
	if cbq.Message != nil {
		msgID = cbq.Message.MessageID
	}

	switch tag {
	case cbqDay:
		b.handleDay(usr, s, msgID, int(val))

	case cbqHour:
		b.handleHour(usr, s, msgID, int(val))

	case cbqMinute:
		b.handleMinute(usr, s, msgID, int(val))

	case cbqPostpone:
		b.handlePostpone(usr, s, msgID, int(val))

	case cbqDeed:
		b.showDeedDetail(usr, val)

	case cbqDoneDeed, cbqNotifyDone:
		b.handleDone(usr, val)

	case cbqRenameDeed:
		s.pendingDeedID = val
		s.stage = stageAwaitRenameText
		b.SendMessage(usr, txtNewNameQuestion+":", -1, nil)

	case cbqTimerDeed, cbqNotifyTimer:
		s.pendingDeedID = val
		s.stage = stageMainMenu
		b.SendMessage(usr, txtChooseDay+":", -1, daysKeyboard)

	case cbqDing:
		b.SendMessage(usr, txtDzyn, -1, nil)
	}
}

// SendNotification is the scheduler's delivery callback. The deed is
// re-fetched: it may have been renamed or finished since the timer was
// armed, and a done or vanished deed gets no notification.
func (b *TBot) SendNotification(deedID int64) {
	deed, err := b.backend.GetDeed(context.Background(), deedID)
	if err != nil {
		if errors.Is(err, backend.ErrDeedNotFound) {
			b.logger.Infow("deed vanished before notification", "deed", deedID)
		} else {
			b.logger.Errorw("failed fetching deed for notification", "deed", deedID, "err", err)
		}
		return
	}

	if deed.DoneFlag {
		b.logger.Infow("deed already done, skipping notification", "deed", deedID)
		return
	}

	b.SendMessage(deed.OwnerID, "🔔 "+deed.Name, -1, notificationKeyboard(deed.ID))
	b.logger.Infow("notification sent", "deed", deedID, "owner", deed.OwnerID)
}

func (b *TBot) showDeeds(usr int64) {
	deeds, err := b.backend.GetDeedsForOwner(context.Background(), usr)
	if err != nil {
		b.SendMessage(usr, txtErrorAccessingDatabase, -1, nil)
		return
	}

	if len(deeds) == 0 {
		b.SendMessage(usr, txtNoDeeds, -1, mainKeyboard)
		return
	}

	b.SendMessage(usr, txtYourDeeds, -1, deedsKeyboard(deeds))
}

func (b *TBot) showDeedDetail(usr, deedID int64) {
	deed, err := b.backend.GetDeed(context.Background(), deedID)
	if err != nil {
		if errors.Is(err, backend.ErrDeedNotFound) {
			b.SendMessage(usr, txtStaleButton, -1, mainKeyboard)
		} else {
			b.SendMessage(usr, txtErrorAccessingDatabase, -1, nil)
		}
		return
	}

	txt := deed.Name
	if deed.NotifyTime != nil {
		txt = fmt.Sprintf(fmtDeedBell, deed.Name, reprDateTime(deed.NotifyTime.In(b.loc)))
	}

	b.SendMessage(usr, txt, -1, deedActionsKeyboard(deed.ID))
}

func (b *TBot) handleDay(usr int64, s *session, msgID, days int) {
	if s.pendingDeedID == 0 {
		b.SendMessage(usr, txtStaleButton, -1, mainKeyboard)
		return
	}

	now := b.clk.Now().In(b.loc)
	d := now.AddDate(0, 0, days)
	s.pendingDate = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, b.loc)

	b.ReplaceMessage(usr, reprDate(s.pendingDate)+"\n"+txtChooseHour+":", msgID, &hoursKeyboard)
}

func (b *TBot) handleHour(usr int64, s *session, msgID, hour int) {
	if s.pendingDeedID == 0 || s.pendingDate.IsZero() {
		b.SendMessage(usr, txtStaleButton, -1, mainKeyboard)
		return
	}

	s.pendingHour = hour
	txt := fmt.Sprintf("%s, %02d\n%s:", reprDate(s.pendingDate), hour, txtChooseMinute)
	b.ReplaceMessage(usr, txt, msgID, &minutesKeyboard)
}

func (b *TBot) handleMinute(usr int64, s *session, msgID, minute int) {
	if s.pendingDeedID == 0 || s.pendingDate.IsZero() || s.pendingHour < 0 {
		b.SendMessage(usr, txtStaleButton, -1, mainKeyboard)
		return
	}

	notifyAt := time.Date(s.pendingDate.Year(), s.pendingDate.Month(), s.pendingDate.Day(),
		s.pendingHour, minute, 0, 0, b.loc)

	if notifyAt.Before(b.clk.Now()) {
		b.ReplaceMessage(usr, txtTimePassed+":", msgID, &daysKeyboard)
		return
	}

	b.scheduleNotification(usr, s, msgID, notifyAt)
}

func (b *TBot) handlePostpone(usr int64, s *session, msgID, minutes int) {
	if s.pendingDeedID == 0 {
		b.SendMessage(usr, txtStaleButton, -1, mainKeyboard)
		return
	}

	notifyAt := b.clk.Now().In(b.loc).Add(time.Duration(minutes) * time.Minute)
	b.scheduleNotification(usr, s, msgID, notifyAt)
}

// scheduleNotification persists notify_time first and arms the timer only
// after the write succeeded, so a stored reminder always backs an armed one.
func (b *TBot) scheduleNotification(usr int64, s *session, msgID int, at time.Time) {
	deedID := s.pendingDeedID

	if err := b.backend.AddNotification(context.Background(), deedID, at); err != nil {
		// pending fields survive so the user can pick the time again
		b.SendMessage(usr, txtErrorAccessingDatabase, -1, nil)
		return
	}

	b.Scheduler.ScheduleOnce(deedID, at)

	s.clearPending()
	s.stage = stageMainMenu

	b.ReplaceMessage(usr, txtWow, msgID, &dingKeyboard)
	b.SendMessage(usr, fmt.Sprintf(fmtNotifyAdded, reprDateTime(at)), -1, mainKeyboard)
}

func (b *TBot) handleDone(usr, deedID int64) {
	if err := b.backend.MarkDeedDone(context.Background(), deedID); err != nil {
		b.SendMessage(usr, txtErrorAccessingDatabase, -1, nil)
		return
	}

	txt := txtDeedDone
	if b.Scheduler.Cancel(deedID) {
		txt += ". " + txtNotificationCanceled
	}

	b.SendMessage(usr, txt, -1, mainKeyboard)
}

func (b *TBot) endSession(usr int64) {
	delete(b.states, usr)
	b.SendMessage(usr, txtSessionOver, -1, tg.NewRemoveKeyboard(true))
}

func (b *TBot) SendMessage(usr int64, txt string, replyTo int, markup any) error {
	m := tg.NewMessage(usr, txt)
	if replyTo >= 0 {
		m.ReplyToMessageID = replyTo
	}
	m.DisableWebPagePreview = true
	if markup != nil {
		m.BaseChat.ReplyMarkup = markup
	}

	var err error
	bot.RobustExecute(b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.api.Request(m)
		return err == nil
	})
	if err != nil {
		b.logger.Errorw("failed sending message", "usr", usr, "err", err)
	}
	return err
}

func (b *TBot) ReplaceMessage(usr int64, txt string, msgID int, kbMarkup *tg.InlineKeyboardMarkup) bool {
	if msgID < 0 {
		return b.SendMessage(usr, txt, -1, kbMarkup) == nil
	}

	updText := tg.EditMessageTextConfig{
		BaseEdit: tg.BaseEdit{
			ChatID:      usr,
			MessageID:   msgID,
			ReplyMarkup: kbMarkup,
		},
		DisableWebPagePreview: true,
		Text:                  txt,
	}

	var err error
	ok := bot.RobustExecute(b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.api.Request(updText)
		if err != nil && strings.HasPrefix(err.Error(), "Bad Request: message is not modified") {
			err = nil
		}
		return err == nil
	})
	if !ok {
		b.logger.Errorw("failed updating message text", "usr", usr, "err", err)
	}

	return ok
}

func (b *TBot) answerCallback(id string) {
	if _, err := b.api.Request(tg.NewCallback(id, "")); err != nil {
		b.logger.Warnw("failed answering callback", "err", err)
	}
}

func parseCallback(data string) (string, int64, error) {
	parts := strings.SplitN(data, "=", 2)
	if len(parts) == 1 {
		return parts[0], 0, nil
	}

	val, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "bad callback value %q", data)
	}

	return parts[0], val, nil
}

func reprDate(t time.Time) string {
	return t.Format("Mon, 02 Jan")
}

func reprDateTime(t time.Time) string {
	return t.Format("Mon, 02 Jan at 15:04")
}
