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
	"battlezone/internal/repository"
)

// AchievementResult reports the state of one achievement after an update.
type AchievementResult struct {
	Name          string    `json:"name"`
	Progress      int64     `json:"progress"`
	Target        int64     `json:"target"`
	Completed     bool      `json:"completed"`
	JustCompleted bool      `json:"just_completed"`
	XP            *XPResult `json:"xp,omitempty"`
}

// AchievementTracker counts progress toward named achievements and awards
// their XP exactly once.
type AchievementTracker struct {
	pool         db.TxBeginner
	achievements *repository.AchievementRepository
	ledger       *Ledger
	notifier     notify.Notifier
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewAchievementTracker creates a new AchievementTracker instance.
func NewAchievementTracker(
	pool db.TxBeginner,
	achievements *repository.AchievementRepository,
	ledger *Ledger,
	notifier notify.Notifier,
	m *metrics.Metrics,
) *AchievementTracker {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AchievementTracker{
		pool:         pool,
		achievements: achievements,
		ledger:       ledger,
		notifier:     notifier,
		metrics:      m,
		now:          time.Now,
	}
}

// IncrementProgress adds amount to the player's progress on the named
// achievement. Completion latches, stamps the time and grants the XP reward in
// the same transaction; calls after completion change nothing.
func (a *AchievementTracker) IncrementProgress(ctx context.Context, playerID int64, name string, amount int64) (*AchievementResult, error) {
	var result *AchievementResult
	err := RunTx(ctx, a.pool, a.notifier, func(tx pgx.Tx, batch *notify.Batch) error {
		var err error
		result, err = a.IncrementProgressTx(ctx, tx, batch, playerID, name, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IncrementProgressTx is IncrementProgress inside the caller's transaction.
func (a *AchievementTracker) IncrementProgressTx(ctx context.Context, tx pgx.Tx, batch *notify.Batch, playerID int64, name string, amount int64) (*AchievementResult, error) {
	repo := a.achievements.WithTx(tx)

	def, err := repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if _, err := a.ledger.LockPlayer(ctx, tx, playerID); err != nil {
		return nil, err
	}

	pa, err := repo.GetProgressForUpdate(ctx, playerID, def)
	if err != nil {
		return nil, err
	}

	result := &AchievementResult{Name: def.Name, Progress: pa.Progress, Target: def.Target, Completed: pa.Completed}
	if pa.Completed || amount <= 0 {
		return result, nil
	}

	pa.Progress += amount
	result.Progress = pa.Progress

	if pa.Progress < def.Target {
		if err := repo.SaveProgress(ctx, pa); err != nil {
			return nil, err
		}
		batch.Add(notify.Event{
			Type:       notify.EventAchievementProgress,
			PlayerID:   playerID,
			Recipients: []int64{playerID},
			Message:    fmt.Sprintf("%s: %d/%d", def.Description, pa.Progress, def.Target),
			Data:       map[string]any{"achievement": def.Name, "progress": pa.Progress, "target": def.Target},
		})
		return result, nil
	}

	now := a.now()
	pa.Completed = true
	pa.CompletedAt = &now
	if err := repo.SaveProgress(ctx, pa); err != nil {
		return nil, err
	}

	xp, err := a.ledger.AddXpTx(ctx, tx, batch, playerID, def.XPReward)
	if err != nil {
		return nil, fmt.Errorf("failed to award achievement xp: %w", err)
	}

	result.Completed = true
	result.JustCompleted = true
	result.XP = xp

	batch.Add(notify.Event{
		Type:       notify.EventAchievementCompleted,
		PlayerID:   playerID,
		Recipients: []int64{playerID},
		Message:    fmt.Sprintf("Achievement unlocked: %s (+%d XP)", def.Description, def.XPReward),
		Data:       map[string]any{"achievement": def.Name, "xp_reward": def.XPReward},
	})
	batch.OnCommit(func() {
		a.metrics.AchievementCompleted()
		log.Info().
			Int64("player_id", playerID).
			Str("achievement", def.Name).
			Int64("xp_reward", def.XPReward).
			Msg("Achievement completed")
	})

	return result, nil
}

// List returns all achievements with the player's progress.
func (a *AchievementTracker) List(ctx context.Context, playerID int64) ([]*model.PlayerAchievement, error) {
	return a.achievements.ListForPlayer(ctx, playerID)
}

// EnsureAll eagerly creates the player's achievement records.
func (a *AchievementTracker) EnsureAll(ctx context.Context, tx pgx.Tx, playerID int64) error {
	return a.achievements.WithTx(tx).EnsureAll(ctx, playerID)
}
