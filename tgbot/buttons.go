package tgbot

import (
	"fmt"
	"strconv"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/messiah1349/notification-bot/db"
)

// Callback data tags. The value rides after '=', e.g. "day=2" or
// "done_deed_id=15".
const (
	cbqDay         = "day"
	cbqHour        = "hour"
	cbqMinute      = "minute"
	cbqPostpone    = "postpone"
	cbqDeed        = "deed_id"
	cbqDoneDeed    = "done_deed_id"
	cbqRenameDeed  = "rename_deed_id"
	cbqTimerDeed   = "timer_deed_id"
	cbqNotifyDone  = "notify_done_deed_id"
	cbqNotifyTimer = "notify_timer_deed_id"
	cbqDing        = "ding"
)

const (
	btnShowDeeds = "My deeds"
	btnAddDeed   = "New deed"
	btnYes       = "Yes"
	btnNo        = "No"
)

var (
	mainKeyboard = tg.NewReplyKeyboard(
		tg.NewKeyboardButtonRow(
			tg.NewKeyboardButton(btnShowDeeds),
			tg.NewKeyboardButton(btnAddDeed),
		),
	)

	yesNoKeyboard = tg.NewReplyKeyboard(
		tg.NewKeyboardButtonRow(
			tg.NewKeyboardButton(btnYes),
			tg.NewKeyboardButton(btnNo),
		),
	)

	// day picks plus quick postpone options, both usable right after a
	// delivered notification
	daysKeyboard = tg.NewInlineKeyboardMarkup(
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("Today", cbData(cbqDay, 0)),
			tg.NewInlineKeyboardButtonData("Tomorrow", cbData(cbqDay, 1)),
			tg.NewInlineKeyboardButtonData("In 2 days", cbData(cbqDay, 2)),
		),
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("+3", cbData(cbqDay, 3)),
			tg.NewInlineKeyboardButtonData("+4", cbData(cbqDay, 4)),
			tg.NewInlineKeyboardButtonData("+5", cbData(cbqDay, 5)),
			tg.NewInlineKeyboardButtonData("+6", cbData(cbqDay, 6)),
		),
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("In 10 min", cbData(cbqPostpone, 10)),
			tg.NewInlineKeyboardButtonData("In 30 min", cbData(cbqPostpone, 30)),
			tg.NewInlineKeyboardButtonData("In 1 hour", cbData(cbqPostpone, 60)),
		),
	)

	hoursKeyboard   = numericKeyboard(cbqHour, 0, 23, 1, 6)
	minutesKeyboard = numericKeyboard(cbqMinute, 0, 55, 5, 6)

	dingKeyboard = tg.NewInlineKeyboardMarkup(
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("🔔", cbqDing),
		),
	)
)

func cbData(tag string, val int64) string {
	return tag + "=" + strconv.FormatInt(val, 10)
}

func numericKeyboard(tag string, from, to, step, perRow int) tg.InlineKeyboardMarkup {
	var rows [][]tg.InlineKeyboardButton
	var row []tg.InlineKeyboardButton

	for v := from; v <= to; v += step {
		row = append(row, tg.NewInlineKeyboardButtonData(fmt.Sprintf("%02d", v), cbData(tag, int64(v))))
		if len(row) == perRow {
			rows = append(rows, tg.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tg.NewInlineKeyboardRow(row...))
	}

	return tg.NewInlineKeyboardMarkup(rows...)
}

// deedsKeyboard renders the owner's deeds as one selectable button per row.
func deedsKeyboard(deeds []db.Deed) tg.InlineKeyboardMarkup {
	rows := make([][]tg.InlineKeyboardButton, 0, len(deeds))
	for _, deed := range deeds {
		rows = append(rows, tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData(deed.Name, cbData(cbqDeed, deed.ID)),
		))
	}

	return tg.NewInlineKeyboardMarkup(rows...)
}

func deedActionsKeyboard(deedID int64) tg.InlineKeyboardMarkup {
	return tg.NewInlineKeyboardMarkup(
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("Done", cbData(cbqDoneDeed, deedID)),
			tg.NewInlineKeyboardButtonData("Rename", cbData(cbqRenameDeed, deedID)),
		),
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("Set reminder", cbData(cbqTimerDeed, deedID)),
		),
	)
}

func notificationKeyboard(deedID int64) tg.InlineKeyboardMarkup {
	return tg.NewInlineKeyboardMarkup(
		tg.NewInlineKeyboardRow(
			tg.NewInlineKeyboardButtonData("Done", cbData(cbqNotifyDone, deedID)),
			tg.NewInlineKeyboardButtonData("Remind later", cbData(cbqNotifyTimer, deedID)),
		),
	)
}
