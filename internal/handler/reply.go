package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"battlezone/internal/battle"
	"battlezone/internal/model"
	"battlezone/internal/pkg/lock"
)

const genericFailure = "❌ Something went wrong, please try again later"

// errorText renders err for a chat reply. Domain outcomes are shown as is;
// infrastructure failures are logged and hidden behind a generic message.
func errorText(err error) string {
	var funds *model.InsufficientFundsError
	var cfgErr *model.ConfigError
	var notEligible *model.NotEligibleError

	switch {
	case errors.As(err, &funds):
		return fmt.Sprintf("❌ Not enough coins: %d required, you have %d", funds.Required, funds.Available)
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("❌ Invalid %s: %s", cfgErr.Field, cfgErr.Reason)
	case errors.As(err, &notEligible):
		return "❌ Cannot claim yet: " + notEligible.Reason
	case errors.Is(err, lock.ErrLockTimeout):
		return "⏳ That battle is busy, try again in a moment"
	case model.IsDomainError(err):
		return "❌ " + capitalize(err.Error())
	}
	return genericFailure
}

// replyError answers c with the rendering of err.
func replyError(c tele.Context, op string, err error) error {
	logFailure(c, op, err)
	return c.Reply(errorText(err))
}

func logFailure(c tele.Context, op string, err error) {
	if model.IsDomainError(err) || errors.Is(err, lock.ErrLockTimeout) {
		return
	}
	ev := log.Error().Err(err).Str("op", op)
	if s := c.Sender(); s != nil {
		ev = ev.Int64("player_id", s.ID)
	}
	ev.Msg("Command failed")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func displayName(p *model.Player) string {
	if p.Username != "" {
		return "@" + p.Username
	}
	return fmt.Sprintf("Player%d", p.ID)
}

// formatSummary renders one lobby line for /battles.
func formatSummary(s *battle.Summary) string {
	b := s.Battle
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚔️ %s [%s] %s\n", b.Title, b.Type, statusLabel(b.Status))
	fmt.Fprintf(&sb, "   id: %s\n", b.ID)
	fmt.Fprintf(&sb, "   seats: %d/%d", s.Participants, b.MaxParticipants)
	if b.EntryFee > 0 {
		fmt.Fprintf(&sb, " · fee %d", b.EntryFee)
	}
	if b.PrizePool > 0 {
		fmt.Fprintf(&sb, " · prize %d", b.PrizePool)
	}
	fmt.Fprintf(&sb, " · %d questions · %d min", b.QuestionsCount, b.DurationMinutes)
	if len(b.Topics) > 0 {
		fmt.Fprintf(&sb, "\n   topics: %s", strings.Join(b.Topics, ", "))
	}
	return sb.String()
}

func statusLabel(s model.BattleStatus) string {
	switch s {
	case model.BattleWaiting:
		return "🟡 waiting"
	case model.BattleInProgress:
		return "🟢 in progress"
	case model.BattleCompleted:
		return "🏁 completed"
	case model.BattleCancelled:
		return "⚪ cancelled"
	}
	return string(s)
}

// formatOutcome renders the final standings of a judged battle.
func formatOutcome(o *battle.Outcome) string {
	var sb strings.Builder
	sb.WriteString("🏁 Battle finished\n━━━━━━━━━━━━━━━\n")
	medals := []string{"🥇", "🥈", "🥉"}
	for i, st := range o.Standings {
		place := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			place = medals[i]
		}
		fmt.Fprintf(&sb, "%s Player%d (team %d): %d pts\n", place, st.PlayerID, st.Team+1, st.Score)
	}
	if len(o.TeamTotals) > 1 {
		sb.WriteString("━━━━━━━━━━━━━━━\n")
		for team, total := range o.TeamTotals {
			fmt.Fprintf(&sb, "Team %d: %d pts\n", team+1, total)
		}
	}
	if o.WinnerID != nil {
		fmt.Fprintf(&sb, "🏆 Winner: Player%d (+%d XP", *o.WinnerID, o.WinnerXP)
		if o.PrizePool > 0 {
			fmt.Fprintf(&sb, ", +%d coins", o.PrizePool)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func formatQuestions(qs []model.Question, deadline *time.Time) string {
	var sb strings.Builder
	for _, q := range qs {
		fmt.Fprintf(&sb, "%d. %s (%d pts)\n", q.Position+1, q.Text, q.Marks)
		for _, opt := range q.Options {
			fmt.Fprintf(&sb, "   • %s\n", opt)
		}
	}
	if deadline != nil {
		fmt.Fprintf(&sb, "\n⏱ Submit before %s", deadline.UTC().Format("15:04 MST"))
	}
	sb.WriteString("\nAnswer with /submit <battle_id> answer1 | answer2 | ...")
	return sb.String()
}
