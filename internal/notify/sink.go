package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

// LogSink writes events to the structured log. Used when no chat transport
// is configured.
type LogSink struct{}

// Send logs e at info level.
func (LogSink) Send(_ context.Context, e Event) error {
	ev := log.Info().
		Str("type", string(e.Type)).
		Int64("player_id", e.PlayerID).
		Ints64("recipients", e.Recipients)
	if e.BattleID != uuid.Nil {
		ev = ev.Str("battle_id", e.BattleID.String())
	}
	ev.Msg(e.Message)
	return nil
}

// MessageSender is the part of *tele.Bot used for delivery.
type MessageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink delivers events as chat messages: one per recipient, plus one
// to the announcement chat for broadcast events.
type TelegramSink struct {
	sender         MessageSender
	announceChatID int64
}

// NewTelegramSink creates a TelegramSink. announceChatID may be 0 to disable
// broadcast messages.
func NewTelegramSink(sender MessageSender, announceChatID int64) *TelegramSink {
	return &TelegramSink{sender: sender, announceChatID: announceChatID}
}

// Send delivers e. Every recipient is attempted; the joined errors of failed
// deliveries are returned.
func (s *TelegramSink) Send(ctx context.Context, e Event) error {
	if e.Message == "" {
		return nil
	}

	targets := make([]int64, 0, len(e.Recipients)+1)
	targets = append(targets, e.Recipients...)
	if e.Broadcast && s.announceChatID != 0 {
		targets = append(targets, s.announceChatID)
	}

	var errs []error
	for _, id := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.sender.Send(tele.ChatID(id), e.Message); err != nil {
			errs = append(errs, fmt.Errorf("failed to send to %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

// Send delivers e to every sink and joins their errors.
func (m MultiSink) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
