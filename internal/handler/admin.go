package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"battlezone/internal/battle"
	"battlezone/internal/service"
)

// BattleAdmin forces battle transitions.
type BattleAdmin interface {
	Finish(ctx context.Context, id uuid.UUID) (*battle.Outcome, error)
	Judge(ctx context.Context, id uuid.UUID) (*battle.Outcome, error)
}

// Progress grants XP and rank points directly.
type Progress interface {
	AddXp(ctx context.Context, playerID int64, amount int64) (*service.XPResult, error)
	AddRankPoints(ctx context.Context, playerID int64, delta int64) (*service.RankResult, error)
}

// AdminHandler handles admin-only commands. Access is checked by the bot
// middleware.
type AdminHandler struct {
	players  Players
	battles  BattleAdmin
	progress Progress
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(players Players, battles BattleAdmin, progress Progress) *AdminHandler {
	return &AdminHandler{players: players, battles: battles, progress: progress}
}

// HandleAdminAdd handles /admin_add <player_id> <amount>.
func (h *AdminHandler) HandleAdminAdd(c tele.Context) error {
	return h.adjust(c, 1, "/admin_add")
}

// HandleAdminSub handles /admin_sub <player_id> <amount>.
func (h *AdminHandler) HandleAdminSub(c tele.Context) error {
	return h.adjust(c, -1, "/admin_sub")
}

func (h *AdminHandler) adjust(c tele.Context, sign int64, command string) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseAdminArgs(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, fmt.Sprintf("Usage: %s <player_id> <amount>", command)))
	}

	balance, err := h.players.AdjustBalance(context.Background(), sender.ID, targetID, sign*amount)
	if err != nil {
		return replyError(c, command, err)
	}
	return c.Reply(fmt.Sprintf("✅ Player %d balance: %d coins", targetID, balance))
}

// HandleAdminXP handles /admin_xp <player_id> <amount>.
func (h *AdminHandler) HandleAdminXP(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseAdminArgs(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /admin_xp <player_id> <amount>"))
	}

	res, err := h.progress.AddXp(context.Background(), targetID, amount)
	if err != nil {
		return replyError(c, "admin_xp", err)
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("player_id", targetID).
		Int64("xp", amount).
		Msg("XP granted by admin")

	return c.Reply(fmt.Sprintf("✅ Player %d is level %d (%d/%d XP)", targetID, res.Level, res.CurrentXP, res.NextLevelXP))
}

// HandleAdminRank handles /admin_rank <player_id> <delta>. Negative deltas
// are allowed here.
func (h *AdminHandler) HandleAdminRank(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("Usage: /admin_rank <player_id> <delta>")
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Invalid player id")
	}
	delta, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return c.Reply("❌ Delta must be an integer")
	}

	res, err := h.progress.AddRankPoints(context.Background(), targetID, delta)
	if err != nil {
		return replyError(c, "admin_rank", err)
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("player_id", targetID).
		Int64("delta", delta).
		Msg("Rank points adjusted by admin")

	return c.Reply(fmt.Sprintf("✅ Player %d: %s (%d points)", targetID, res.RankTier, res.RankPoints))
}

// HandleAdminFinish handles /admin_finish <battle_id>: it ends a running
// battle now and judges it.
func (h *AdminHandler) HandleAdminFinish(c tele.Context) error {
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /admin_finish <battle_id>"))
	}

	out, err := h.battles.Finish(context.Background(), id)
	if err != nil {
		return replyError(c, "admin_finish", err)
	}
	if out == nil {
		return c.Reply("🏁 Battle finished")
	}
	return c.Reply(formatOutcome(out))
}

// HandleAdminJudge handles /admin_judge <battle_id> for a completed battle
// whose payout did not run.
func (h *AdminHandler) HandleAdminJudge(c tele.Context) error {
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /admin_judge <battle_id>"))
	}

	out, err := h.battles.Judge(context.Background(), id)
	if err != nil {
		return replyError(c, "admin_judge", err)
	}
	if out == nil {
		return c.Reply("Battle was already judged")
	}
	return c.Reply(formatOutcome(out))
}
