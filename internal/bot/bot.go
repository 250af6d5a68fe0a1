// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"battlezone/internal/config"
	"battlezone/internal/handler"
	"battlezone/internal/metrics"
)

// Bot wraps the telebot instance.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Players      handler.Players
	Ranks        handler.Ranks
	Streaks      handler.Streaks
	Achievements handler.Achievements
	Battles      handler.BattleEngine
	BattleAdmin  handler.BattleAdmin
	Progress     handler.Progress
	Metrics      *metrics.Metrics
}

// New creates the telebot instance. Handlers are attached later with Mount,
// so the bot can serve as the notification transport for the services the
// handlers depend on.
func New(cfg *config.Config) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			ev := log.Error().Err(err)
			if c != nil {
				ev = ev.Str("text", c.Text())
			}
			ev.Msg("Telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{bot: teleBot, cfg: cfg}, nil
}

// Mount registers middleware and command handlers.
func (b *Bot) Mount(deps *Dependencies) {
	limiter := NewPlayerLimiter(b.cfg.Limits.CommandsPerSecond, b.cfg.Limits.Burst)

	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(RateLimitMiddleware(limiter, deps.Metrics))
	b.bot.Use(RegisterMiddleware(deps.Players))

	battles := handler.NewBattleHandler(deps.Battles, 10*time.Second)
	players := handler.NewPlayerHandler(deps.Players, deps.Ranks, deps.Streaks, deps.Achievements)
	admin := handler.NewAdminHandler(deps.Players, deps.BattleAdmin, deps.Progress)

	b.bot.Handle("/start", players.HandleStart)
	b.bot.Handle("/help", players.HandleStart)
	b.bot.Handle("/balance", players.HandleBalance)
	b.bot.Handle("/me", players.HandleMe)
	b.bot.Handle("/rank", players.HandleRank)
	b.bot.Handle("/streak", players.HandleStreak)
	b.bot.Handle("/claim", players.HandleClaim)
	b.bot.Handle("/achievements", players.HandleAchievements)
	b.bot.Handle("/top", players.HandleTop)

	b.bot.Handle("/create", battles.HandleCreate)
	b.bot.Handle("/join", battles.HandleJoin)
	b.bot.Handle("/begin", battles.HandleStart)
	b.bot.Handle("/questions", battles.HandleQuestions)
	b.bot.Handle("/submit", battles.HandleSubmit)
	b.bot.Handle("/spectate", battles.HandleSpectate)
	b.bot.Handle("/cancel", battles.HandleCancel)
	b.bot.Handle("/battles", battles.HandleBattles)
	b.bot.Handle("/battle", battles.HandleBattle)
	b.bot.Handle(handler.JoinButton, battles.HandleJoinButton)
	b.bot.Handle(handler.SpectateButton, battles.HandleSpectateButton)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_add", admin.HandleAdminAdd)
	adminGroup.Handle("/admin_sub", admin.HandleAdminSub)
	adminGroup.Handle("/admin_xp", admin.HandleAdminXP)
	adminGroup.Handle("/admin_rank", admin.HandleAdminRank)
	adminGroup.Handle("/admin_finish", admin.HandleAdminFinish)
	adminGroup.Handle("/admin_judge", admin.HandleAdminJudge)
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// Sender returns the underlying telebot instance as a message sender for
// the notification sink.
func (b *Bot) Sender() *tele.Bot {
	return b.bot
}
