package main

import (
	"context"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/messiah1349/notification-bot/backend"
	"github.com/messiah1349/notification-bot/bot"
	"github.com/messiah1349/notification-bot/db"
	"github.com/messiah1349/notification-bot/scheduler"
	"github.com/messiah1349/notification-bot/tgbot"
)

// Notification bot entry point
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := bot.LoadConfig()
	if err != nil {
		log.Fatalw("failed reading configuration", "err", err)
	}

	ctx := context.Background()

	database, err := db.Init(ctx, cfg.DBConnStr)
	if err != nil {
		log.Fatalw("failed to initialize database", "err", err)
	}
	defer database.Close()

	bk := backend.New(database, log)

	api, err := tg.NewBotAPI(cfg.TgToken)
	if err != nil {
		log.Fatalw("failed to initialize Telegram Bot", "err", err)
	}
	api.Debug = false

	log.Infof("authorized on account %q", api.Self.UserName)

	tb := tgbot.NewTBot(api, bk, cfg.TimeZone, log)

	sched := scheduler.New(tb.SendNotification, log)
	tb.Scheduler = sched

	// restore timers from persisted notify times before accepting events
	deeds, err := bk.GetActiveDeeds(ctx)
	if err != nil {
		log.Fatalw("failed fetching active deeds", "err", err)
	}
	sched.Rearm(deeds)
	sched.Run()
	defer sched.Stop()

	uCfg := tg.NewUpdate(0)
	uCfg.Timeout = 60
	tb.Run(api.GetUpdatesChan(uCfg))
}
