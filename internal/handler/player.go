package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"battlezone/internal/model"
	"battlezone/internal/progression"
	"battlezone/internal/service"
)

// Players is the account surface used by the chat commands.
type Players interface {
	EnsurePlayer(ctx context.Context, playerID int64, username string) (*model.Player, bool, error)
	GetPlayer(ctx context.Context, playerID int64) (*model.Player, error)
	TopByRank(ctx context.Context, limit int) ([]*model.Player, error)
	AdjustBalance(ctx context.Context, adminID, playerID, amount int64) (int64, error)
}

// Ranks reports rank progress.
type Ranks interface {
	GetRankProgress(ctx context.Context, playerID int64) (*progression.RankProgress, error)
}

// Streaks is the daily streak surface.
type Streaks interface {
	Touch(ctx context.Context, playerID int64) (*service.StreakResult, error)
	TodayGoals(ctx context.Context, playerID int64) ([]*model.PlayerStreakGoal, error)
	ClaimDailyReward(ctx context.Context, playerID int64) (*service.ClaimResult, error)
}

// Achievements lists achievement progress.
type Achievements interface {
	List(ctx context.Context, playerID int64) ([]*model.PlayerAchievement, error)
}

// PlayerHandler handles profile and progression commands.
type PlayerHandler struct {
	players      Players
	ranks        Ranks
	streaks      Streaks
	achievements Achievements
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(players Players, ranks Ranks, streaks Streaks, achievements Achievements) *PlayerHandler {
	return &PlayerHandler{
		players:      players,
		ranks:        ranks,
		streaks:      streaks,
		achievements: achievements,
	}
}

const helpText = "Commands:\n" +
	"/battles [active|upcoming|past] - list battles\n" +
	"/battle <id> - battle details\n" +
	"/create type=1v1 topics=... - create a battle\n" +
	"/join <id> - join a battle\n" +
	"/begin <id> - start your battle early\n" +
	"/questions <id> - show the questions\n" +
	"/submit <id> a1 | a2 | ... - submit answers\n" +
	"/spectate <id> - watch a battle\n" +
	"/cancel <id> - cancel your lobby\n" +
	"/me - profile\n" +
	"/rank - rank progress\n" +
	"/streak - daily streak and goals\n" +
	"/claim - claim the daily reward\n" +
	"/achievements - achievement progress\n" +
	"/top - leaderboard"

// HandleStart handles /start. The player row is created by the bot middleware.
func (h *PlayerHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx := context.Background()
	p, err := h.players.GetPlayer(ctx, sender.ID)
	if err != nil {
		return replyError(c, "start", err)
	}
	return c.Reply(fmt.Sprintf("👋 Welcome %s!\n💰 Balance: %d coins\n\n%s", displayName(p), p.Balance, helpText))
}

// HandleBalance handles /balance.
func (h *PlayerHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	p, err := h.players.GetPlayer(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "balance", err)
	}
	return c.Reply(fmt.Sprintf("💰 Balance: %d coins", p.Balance))
}

// HandleMe handles /me.
func (h *PlayerHandler) HandleMe(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	p, err := h.players.GetPlayer(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "me", err)
	}
	return c.Reply(formatProfile(p))
}

func formatProfile(p *model.Player) string {
	return fmt.Sprintf(
		"👤 %s\n"+
			"━━━━━━━━━━━━━━━\n"+
			"⭐ Level %d (%d/%d XP)\n"+
			"🎖 %s (%d points)\n"+
			"🔥 Streak: %d day(s)\n"+
			"💰 Balance: %d coins",
		displayName(p),
		p.Level, p.CurrentXP, p.NextLevelXP,
		p.RankTier, p.RankPoints,
		p.StreakDays,
		p.Balance,
	)
}

// HandleRank handles /rank.
func (h *PlayerHandler) HandleRank(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	rp, err := h.ranks.GetRankProgress(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "rank", err)
	}
	return c.Reply(formatRank(rp))
}

func formatRank(rp *progression.RankProgress) string {
	if rp.Next == "" {
		return fmt.Sprintf("🎖 %s (%d points)\nTop tier reached!", rp.Current, rp.Points)
	}
	return fmt.Sprintf(
		"🎖 %s (%d points)\n%s %.0f%%\n%d points to %s",
		rp.Current, rp.Points, progressBar(rp.Percent), rp.Percent, rp.PointsNeeded, rp.Next,
	)
}

func progressBar(percent float64) string {
	const width = 10
	filled := int(percent / 100 * width)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
}

// HandleStreak handles /streak. It counts as today's check-in.
func (h *PlayerHandler) HandleStreak(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx := context.Background()
	res, err := h.streaks.Touch(ctx, sender.ID)
	if err != nil {
		return replyError(c, "streak", err)
	}
	goals, err := h.streaks.TodayGoals(ctx, sender.ID)
	if err != nil {
		return replyError(c, "streak", err)
	}
	return c.Reply(formatStreak(res, goals))
}

func formatStreak(res *service.StreakResult, goals []*model.PlayerStreakGoal) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔥 Streak: %d day(s)", res.StreakDays)
	if res.Reset {
		sb.WriteString(" (streak was reset)")
	}
	sb.WriteString("\n\nToday's goals:\n")
	for _, g := range goals {
		mark := "⬜"
		switch {
		case g.Claimed:
			mark = "🎁"
		case g.Completed:
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%s %s (%d/%d)\n", mark, g.Description, min(g.Progress, g.Target), g.Target)
	}
	sb.WriteString("\nComplete every goal, then /claim")
	return sb.String()
}

// HandleClaim handles /claim.
func (h *PlayerHandler) HandleClaim(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	res, err := h.streaks.ClaimDailyReward(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "claim", err)
	}

	msg := fmt.Sprintf("🎁 Daily reward: +%d XP (streak %d)", res.Reward, res.StreakDays)
	if res.XP != nil && res.XP.LeveledUp() {
		msg += fmt.Sprintf("\n⭐ Level up! You are now level %d", res.XP.Level)
	}
	return c.Reply(msg)
}

// HandleAchievements handles /achievements.
func (h *PlayerHandler) HandleAchievements(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	list, err := h.achievements.List(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "achievements", err)
	}
	if len(list) == 0 {
		return c.Reply("No achievements yet")
	}

	var sb strings.Builder
	sb.WriteString("🏅 Achievements\n━━━━━━━━━━━━━━━\n")
	for _, a := range list {
		if a.Completed {
			fmt.Fprintf(&sb, "✅ %s", a.Name)
			if a.CompletedAt != nil {
				fmt.Fprintf(&sb, " (%s)", a.CompletedAt.Format(time.DateOnly))
			}
			sb.WriteString("\n")
			continue
		}
		fmt.Fprintf(&sb, "⬜ %s %d/%d\n", a.Name, a.Progress, a.Target)
	}
	return c.Reply(sb.String())
}

// HandleTop handles /top.
func (h *PlayerHandler) HandleTop(c tele.Context) error {
	players, err := h.players.TopByRank(context.Background(), 10)
	if err != nil {
		return replyError(c, "top", err)
	}
	if len(players) == 0 {
		return c.Reply("No players yet")
	}

	medals := []string{"🥇", "🥈", "🥉"}
	var sb strings.Builder
	sb.WriteString("🏆 Leaderboard\n━━━━━━━━━━━━━━━\n")
	for i, p := range players {
		place := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			place = medals[i]
		}
		fmt.Fprintf(&sb, "%s %s · %s · %d pts · Lv %d\n", place, displayName(p), p.RankTier, p.RankPoints, p.Level)
	}
	return c.Reply(sb.String())
}
