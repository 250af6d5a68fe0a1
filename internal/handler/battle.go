// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v3"

	"battlezone/internal/battle"
	"battlezone/internal/model"
)

// BattleEngine is the part of the orchestrator the chat commands drive.
type BattleEngine interface {
	Create(ctx context.Context, cfg battle.Config) (*model.Battle, error)
	Join(ctx context.Context, id uuid.UUID, playerID int64) (*battle.JoinResult, error)
	Start(ctx context.Context, id uuid.UUID, playerID int64) error
	Submit(ctx context.Context, id uuid.UUID, playerID int64, answers []string) (*battle.SubmitResult, error)
	Spectate(ctx context.Context, id uuid.UUID, playerID int64) error
	Cancel(ctx context.Context, id uuid.UUID, playerID int64) error
	Questions(ctx context.Context, id uuid.UUID) ([]model.Question, error)
	Summary(ctx context.Context, id uuid.UUID) (*battle.Summary, error)
	List(ctx context.Context, view battle.View, limit int) ([]*battle.Summary, error)
}

// BattleHandler handles battle commands.
type BattleHandler struct {
	engine  BattleEngine
	timeout time.Duration
}

// NewBattleHandler creates a new BattleHandler. timeout bounds every command.
func NewBattleHandler(engine BattleEngine, timeout time.Duration) *BattleHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BattleHandler{engine: engine, timeout: timeout}
}

const createUsage = "Usage: /create type=1v1 topics=algebra,geometry [fee=10] [prize=100] [reward=50] " +
	"[questions=5] [minutes=10] [seats=N] [subject=math] [exam=SAT] [difficulty=easy] " +
	"[spectators=on] [autostart=off] [title=Friday_quiz]"

// HandleCreate handles /create key=value...
func (h *BattleHandler) HandleCreate(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	cfg, err := parseCreateArgs(c.Args(), sender.ID)
	if err != nil {
		if err == errUsage {
			return c.Reply(createUsage)
		}
		return c.Reply("❌ " + capitalize(err.Error()) + "\n\n" + createUsage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	b, err := h.engine.Create(ctx, cfg)
	if err != nil {
		return replyError(c, "create", err)
	}

	sum := summaryFor(b)
	msg := fmt.Sprintf("✅ Battle created\n\n%s\n\nJoin with /join %s", formatSummary(sum), b.ID)
	if !b.QuestionsReady {
		msg += "\n⏳ Questions are still being prepared"
	}
	return replySummary(c, msg, sum)
}

// HandleJoin handles /join <battle_id>.
func (h *BattleHandler) HandleJoin(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /join <battle_id>"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.engine.Join(ctx, id, sender.ID)
	if err != nil {
		return replyError(c, "join", err)
	}

	msg := fmt.Sprintf("✅ Joined on team %d\n💰 Balance: %d coins", res.Participant.Team+1, res.Balance)
	if res.Started {
		msg += "\n\n🚀 The battle is full and has started! Use /questions " + id.String()
	}
	return c.Reply(msg)
}

// HandleStart handles /begin <battle_id>, the creator's manual start.
func (h *BattleHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /begin <battle_id>"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.engine.Start(ctx, id, sender.ID); err != nil {
		return replyError(c, "start", err)
	}
	return c.Reply("🚀 Battle started! Use /questions " + id.String())
}

// HandleQuestions handles /questions <battle_id>.
func (h *BattleHandler) HandleQuestions(c tele.Context) error {
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /questions <battle_id>"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	sum, err := h.engine.Summary(ctx, id)
	if err != nil {
		return replyError(c, "questions", err)
	}
	qs, err := h.engine.Questions(ctx, id)
	if err != nil {
		return replyError(c, "questions", err)
	}

	var deadline *time.Time
	if b := sum.Battle; b.StartedAt != nil {
		d := b.StartedAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
		deadline = &d
	}
	return c.Reply(formatQuestions(qs, deadline))
}

// HandleSubmit handles /submit <battle_id> answer1 | answer2 | ...
func (h *BattleHandler) HandleSubmit(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	id, answers, err := parseAnswers(c.Message().Payload)
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /submit <battle_id> answer1 | answer2 | ..."))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.engine.Submit(ctx, id, sender.ID, answers)
	if err != nil {
		return replyError(c, "submit", err)
	}
	if res.Completed && res.Outcome != nil {
		return c.Reply(formatOutcome(res.Outcome))
	}
	return c.Reply(fmt.Sprintf("✅ %d answers recorded. Results arrive when everyone has submitted or time runs out.", len(answers)))
}

// HandleSpectate handles /spectate <battle_id>.
func (h *BattleHandler) HandleSpectate(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /spectate <battle_id>"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.engine.Spectate(ctx, id, sender.ID); err != nil {
		return replyError(c, "spectate", err)
	}
	return c.Reply("👀 You are now spectating. You will receive the battle updates.")
}

// HandleCancel handles /cancel <battle_id>.
func (h *BattleHandler) HandleCancel(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /cancel <battle_id>"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.engine.Cancel(ctx, id, sender.ID); err != nil {
		return replyError(c, "cancel", err)
	}
	return c.Reply("⚪ Battle cancelled. Entry fees have been refunded.")
}

// HandleBattles handles /battles [active|upcoming|past].
func (h *BattleHandler) HandleBattles(c tele.Context) error {
	view := battle.ViewUpcoming
	if args := c.Args(); len(args) > 0 {
		v, err := battle.ParseView(strings.ToLower(args[0]))
		if err != nil {
			return c.Reply("Usage: /battles [active|upcoming|past]")
		}
		view = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	list, err := h.engine.List(ctx, view, 10)
	if err != nil {
		return replyError(c, "battles", err)
	}
	if len(list) == 0 {
		return c.Reply(fmt.Sprintf("No %s battles right now. Create one with /create", view))
	}

	lines := make([]string, len(list))
	for i, s := range list {
		lines[i] = formatSummary(s)
	}
	return c.Reply(strings.Join(lines, "\n\n"))
}

// HandleBattle handles /battle <battle_id>.
func (h *BattleHandler) HandleBattle(c tele.Context) error {
	id, err := parseBattleID(c.Args())
	if err != nil {
		return c.Reply(usageOr(err, "Usage: /battle <battle_id>"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	sum, err := h.engine.Summary(ctx, id)
	if err != nil {
		return replyError(c, "battle", err)
	}
	return replySummary(c, formatSummary(sum), sum)
}

func usageOr(err error, usage string) string {
	if err == errUsage {
		return usage
	}
	return "❌ " + capitalize(err.Error()) + "\n" + usage
}
