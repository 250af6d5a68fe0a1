package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"battlezone/internal/config"
	"battlezone/internal/metrics"
	"battlezone/internal/model"
)

// PlayerEnsurer creates the player row on first contact.
type PlayerEnsurer interface {
	EnsurePlayer(ctx context.Context, playerID int64, username string) (*model.Player, bool, error)
}

// RegisterMiddleware makes sure every sender has a player account before a
// command runs.
func RegisterMiddleware(players PlayerEnsurer) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || sender.IsBot {
				return nil
			}

			username := sender.Username
			if username == "" {
				username = sender.FirstName
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, created, err := players.EnsurePlayer(ctx, sender.ID, username); err != nil {
				log.Error().Err(err).Int64("player_id", sender.ID).Msg("Failed to ensure player")
				return c.Reply("❌ Could not load your account, please try again later")
			} else if created {
				log.Info().Int64("player_id", sender.ID).Msg("New player registered")
			}
			return next(c)
		}
	}
}

// RateLimitMiddleware silently drops commands from players exceeding their
// budget.
func RateLimitMiddleware(limiter *PlayerLimiter, m *metrics.Metrics) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			if !limiter.Allow(sender.ID) {
				m.CommandRateLimited()
				log.Debug().Int64("player_id", sender.ID).Str("text", c.Text()).Msg("Command rate limited")
				return nil
			}
			return next(c)
		}
	}
}

// AdminMiddleware creates a middleware that checks if the user is an admin.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ Admin permission required")
			}

			return next(c)
		}
	}
}

// LoggingMiddleware creates a middleware that logs all incoming messages.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Msg("Received message")

			return next(c)
		}
	}
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("text", c.Text()).
						Msg("Recovered from panic in handler")
					err = c.Reply("❌ Internal error, please try again later")
				}
			}()
			return next(c)
		}
	}
}
