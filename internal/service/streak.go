package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"battlezone/internal/metrics"
	"battlezone/internal/model"
	"battlezone/internal/notify"
	"battlezone/internal/pkg/db"
	"battlezone/internal/progression"
	"battlezone/internal/repository"
)

// StreakConfig configures the streak tracker.
type StreakConfig struct {
	Location      *time.Location
	RewardBase    int64
	MaxMultiplier int64
}

// StreakResult is the streak after a Touch.
type StreakResult struct {
	StreakDays   int       `json:"streak_days"`
	Date         time.Time `json:"date"`
	Extended     bool      `json:"extended"`
	Reset        bool      `json:"reset"`
	GoalsCreated int64     `json:"goals_created"`
}

// ClaimResult is the outcome of a successful daily claim.
type ClaimResult struct {
	StreakDays int       `json:"streak_days"`
	Reward     int64     `json:"reward"`
	XP         *XPResult `json:"xp"`
}

// StreakTracker keeps each player's daily streak and daily goal rows.
type StreakTracker struct {
	pool     db.TxBeginner
	players  *repository.PlayerRepository
	streaks  *repository.StreakRepository
	ledger   *Ledger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      StreakConfig
	now      func() time.Time
}

// NewStreakTracker creates a new StreakTracker instance.
func NewStreakTracker(
	pool db.TxBeginner,
	players *repository.PlayerRepository,
	streaks *repository.StreakRepository,
	ledger *Ledger,
	notifier notify.Notifier,
	m *metrics.Metrics,
	cfg StreakConfig,
) *StreakTracker {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RewardBase <= 0 {
		cfg.RewardBase = 200
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = 10
	}
	return &StreakTracker{
		pool:     pool,
		players:  players,
		streaks:  streaks,
		ledger:   ledger,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *StreakTracker) SetClock(now func() time.Time) {
	s.now = now
}

func (s *StreakTracker) today() time.Time {
	return progression.CivilDate(s.now(), s.cfg.Location)
}

// Today returns the current civil date in the configured timezone.
func (s *StreakTracker) Today() time.Time {
	return s.today()
}

// NeedsUpdate reports whether the player has not been touched today.
func (s *StreakTracker) NeedsUpdate(ctx context.Context, playerID int64) (bool, error) {
	p, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		return false, err
	}
	return progression.NeedsUpdate(p.LastStreakDate, s.today()), nil
}

// Touch records activity today: it extends, resets or keeps the streak and
// creates today's goal rows if they do not exist yet.
func (s *StreakTracker) Touch(ctx context.Context, playerID int64) (*StreakResult, error) {
	today := s.today()

	var result *StreakResult
	err := RunTx(ctx, s.pool, s.notifier, func(tx pgx.Tx, batch *notify.Batch) error {
		p, err := s.ledger.LockPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}

		firstToday := progression.NeedsUpdate(p.LastStreakDate, today)
		streak := progression.NextStreak(p.StreakDays, p.LastStreakDate, today)

		if err := s.players.WithTx(tx).UpdateStreak(ctx, playerID, streak, today); err != nil {
			return err
		}
		created, err := s.streaks.WithTx(tx).EnsureDay(ctx, playerID, today)
		if err != nil {
			return err
		}

		result = &StreakResult{
			StreakDays:   streak,
			Date:         today,
			Extended:     streak > p.StreakDays,
			Reset:        p.LastStreakDate != nil && streak == 1 && p.StreakDays > 1,
			GoalsCreated: created,
		}

		if firstToday {
			batch.Add(notify.Event{
				Type:       notify.EventStreakUpdate,
				PlayerID:   playerID,
				Recipients: []int64{playerID},
				Message:    fmt.Sprintf("Daily streak: %d day(s).", streak),
				Data:       map[string]any{"streak_days": streak, "reset": result.Reset},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateGoalProgress adds amount to today's goal with the given description.
// A completed goal is left unchanged.
func (s *StreakTracker) UpdateGoalProgress(ctx context.Context, playerID int64, description string, amount int64) (*model.PlayerStreakGoal, error) {
	today := s.today()

	var goal *model.PlayerStreakGoal
	err := RunTx(ctx, s.pool, s.notifier, func(tx pgx.Tx, _ *notify.Batch) error {
		var err error
		goal, err = s.UpdateGoalProgressTx(ctx, tx, playerID, description, amount, today)
		return err
	})
	if err != nil {
		return nil, err
	}
	return goal, nil
}

// UpdateGoalProgressTx is UpdateGoalProgress inside the caller's transaction
// for the given day.
func (s *StreakTracker) UpdateGoalProgressTx(ctx context.Context, tx pgx.Tx, playerID int64, description string, amount int64, day time.Time) (*model.PlayerStreakGoal, error) {
	if _, err := s.ledger.LockPlayer(ctx, tx, playerID); err != nil {
		return nil, err
	}

	streaks := s.streaks.WithTx(tx)
	if _, err := streaks.EnsureDay(ctx, playerID, day); err != nil {
		return nil, err
	}

	g, err := streaks.GetForUpdate(ctx, playerID, description, day)
	if err != nil {
		return nil, err
	}
	if g.Completed || amount <= 0 {
		return g, nil
	}

	g.Progress += amount
	if g.Progress >= g.Target {
		g.Completed = true
	}
	if err := streaks.SaveProgress(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ClaimDailyReward grants the streak reward once every goal of today is
// completed. It fails with model.ErrNotEligible if a goal is open or today
// was already claimed.
func (s *StreakTracker) ClaimDailyReward(ctx context.Context, playerID int64) (*ClaimResult, error) {
	today := s.today()

	var result *ClaimResult
	err := RunTx(ctx, s.pool, s.notifier, func(tx pgx.Tx, batch *notify.Batch) error {
		p, err := s.ledger.LockPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}

		streaks := s.streaks.WithTx(tx)
		goals, err := streaks.ListDay(ctx, playerID, today, true)
		if err != nil {
			return err
		}
		if len(goals) == 0 {
			return &model.NotEligibleError{Reason: "no goals started today"}
		}
		for _, g := range goals {
			if g.Claimed {
				return &model.NotEligibleError{Reason: "today's reward was already claimed"}
			}
		}
		for _, g := range goals {
			if !g.Completed {
				return &model.NotEligibleError{Reason: fmt.Sprintf("goal %q is not completed", g.Description)}
			}
		}

		if _, err := streaks.MarkClaimed(ctx, playerID, today); err != nil {
			return err
		}

		reward := progression.DailyRewardWith(p.StreakDays, s.cfg.RewardBase, s.cfg.MaxMultiplier)
		xp, err := s.ledger.AddXpTx(ctx, tx, batch, playerID, reward)
		if err != nil {
			return err
		}

		result = &ClaimResult{StreakDays: p.StreakDays, Reward: reward, XP: xp}
		batch.Add(notify.Event{
			Type:       notify.EventDailyRewardClaimed,
			PlayerID:   playerID,
			Recipients: []int64{playerID},
			Message:    fmt.Sprintf("Daily reward claimed: +%d XP (streak %d).", reward, p.StreakDays),
			Data:       map[string]any{"reward": reward, "streak_days": p.StreakDays},
		})
		batch.OnCommit(func() {
			s.metrics.DailyRewardClaimed()
			log.Info().Int64("player_id", playerID).Int64("reward", reward).Msg("Daily reward claimed")
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TodayGoals returns the player's goal rows for today.
func (s *StreakTracker) TodayGoals(ctx context.Context, playerID int64) ([]*model.PlayerStreakGoal, error) {
	return s.streaks.ListDay(ctx, playerID, s.today(), false)
}
