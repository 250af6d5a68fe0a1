package handler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v3"

	"battlezone/internal/battle"
	"battlezone/internal/model"
)

// Callback uniques for the lobby buttons. The payload is the battle id.
const (
	CallbackJoin     = "battle_join"
	CallbackSpectate = "battle_watch"
)

// Buttons to register the callback handlers on.
var (
	JoinButton     = &tele.Btn{Unique: CallbackJoin}
	SpectateButton = &tele.Btn{Unique: CallbackSpectate}
)

// lobbyMarkup builds the inline Join/Spectate buttons for a battle summary.
// Returns nil when neither action is possible.
func lobbyMarkup(s *battle.Summary) *tele.ReplyMarkup {
	b := s.Battle
	markup := &tele.ReplyMarkup{}

	var row []tele.Btn
	if s.Joinable {
		row = append(row, markup.Data(fmt.Sprintf("⚔️ Join (%d left)", s.SeatsLeft), CallbackJoin, b.ID.String()))
	}
	if b.SpectatorMode && !b.Status.IsFinal() {
		row = append(row, markup.Data("👀 Spectate", CallbackSpectate, b.ID.String()))
	}
	if len(row) == 0 {
		return nil
	}

	markup.Inline(markup.Row(row...))
	return markup
}

func replySummary(c tele.Context, text string, s *battle.Summary) error {
	if markup := lobbyMarkup(s); markup != nil {
		return c.Reply(text, markup)
	}
	return c.Reply(text)
}

func callbackBattleID(c tele.Context) (uuid.UUID, bool) {
	cb := c.Callback()
	if cb == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(cb.Data)
	return id, err == nil
}

// HandleJoinButton handles the Join button under a battle summary.
func (h *BattleHandler) HandleJoinButton(c tele.Context) error {
	sender := c.Sender()
	id, ok := callbackBattleID(c)
	if sender == nil || !ok {
		return c.Respond()
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.engine.Join(ctx, id, sender.ID)
	if err != nil {
		logFailure(c, "join", err)
		return c.Respond(&tele.CallbackResponse{Text: errorText(err), ShowAlert: true})
	}

	text := fmt.Sprintf("✅ Joined on team %d, balance %d coins", res.Participant.Team+1, res.Balance)
	if res.Started {
		text += ". The battle has started!"
	}
	return c.Respond(&tele.CallbackResponse{Text: text})
}

// HandleSpectateButton handles the Spectate button under a battle summary.
func (h *BattleHandler) HandleSpectateButton(c tele.Context) error {
	sender := c.Sender()
	id, ok := callbackBattleID(c)
	if sender == nil || !ok {
		return c.Respond()
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.engine.Spectate(ctx, id, sender.ID); err != nil {
		logFailure(c, "spectate", err)
		return c.Respond(&tele.CallbackResponse{Text: errorText(err), ShowAlert: true})
	}
	return c.Respond(&tele.CallbackResponse{Text: "👀 You are now spectating"})
}

// summaryFor wraps a freshly created battle so it can carry lobby buttons.
func summaryFor(b *model.Battle) *battle.Summary {
	return &battle.Summary{
		Battle:    b,
		SeatsLeft: b.MaxParticipants,
		Joinable:  b.Status == model.BattleWaiting,
	}
}
