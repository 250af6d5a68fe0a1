package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"battlezone/internal/metrics"
	"battlezone/internal/model"
	"battlezone/internal/notify"
	"battlezone/internal/pkg/db"
	"battlezone/internal/progression"
	"battlezone/internal/repository"
)

// XPResult is the player's state after an XP award.
type XPResult struct {
	PlayerID     int64  `json:"player_id"`
	Level        int    `json:"level"`
	CurrentXP    int64  `json:"current_xp"`
	NextLevelXP  int64  `json:"next_level_xp"`
	LevelsGained int    `json:"levels_gained"`
	BonusPoints  int64  `json:"bonus_points"`
	RankPoints   int64  `json:"rank_points"`
	RankTier     string `json:"rank_tier"`
}

// LeveledUp reports whether the award crossed at least one level.
func (r *XPResult) LeveledUp() bool { return r.LevelsGained > 0 }

// RankResult is the player's rank after a rank point change.
type RankResult struct {
	PlayerID    int64  `json:"player_id"`
	RankPoints  int64  `json:"rank_points"`
	RankTier    string `json:"rank_tier"`
	OldTier     string `json:"old_tier"`
	TierChanged bool   `json:"tier_changed"`
}

// Ledger is the only writer of player XP, level and rank fields. Each change
// is a read-modify-write under the player's row lock.
type Ledger struct {
	pool     db.TxBeginner
	players  *repository.PlayerRepository
	notifier notify.Notifier
	metrics  *metrics.Metrics
}

// NewLedger creates a new Ledger instance.
func NewLedger(pool db.TxBeginner, players *repository.PlayerRepository, notifier notify.Notifier, m *metrics.Metrics) *Ledger {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ledger{pool: pool, players: players, notifier: notifier, metrics: m}
}

// LockPlayer locks the player's row for the rest of tx. Every multi-step
// progression write takes this lock first so lock order stays
// battle, then player, then per-player records.
func (l *Ledger) LockPlayer(ctx context.Context, tx pgx.Tx, playerID int64) (*model.Player, error) {
	return l.players.WithTx(tx).GetForUpdate(ctx, playerID)
}

// AddXp grants amount XP (negative amounts remove XP down to zero) and
// applies any resulting level-ups.
func (l *Ledger) AddXp(ctx context.Context, playerID int64, amount int64) (*XPResult, error) {
	var result *XPResult
	err := RunTx(ctx, l.pool, l.notifier, func(tx pgx.Tx, batch *notify.Batch) error {
		var err error
		result, err = l.AddXpTx(ctx, tx, batch, playerID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddXpTx is AddXp inside the caller's transaction. Events go to batch.
func (l *Ledger) AddXpTx(ctx context.Context, tx pgx.Tx, batch *notify.Batch, playerID int64, amount int64) (*XPResult, error) {
	players := l.players.WithTx(tx)

	p, err := players.GetForUpdate(ctx, playerID)
	if err != nil {
		return nil, err
	}

	state, out := progression.ApplyXP(progression.StateOf(p), amount)
	state.ApplyTo(p)

	if err := players.UpdateProgression(ctx, p); err != nil {
		return nil, err
	}

	if out.LeveledUp() {
		batch.Add(notify.Event{
			Type:       notify.EventLevelUp,
			PlayerID:   playerID,
			Recipients: []int64{playerID},
			Message: fmt.Sprintf("Level up! You reached level %d and earned %d rank points.",
				out.NewLevel, out.BonusPoints),
			Data: map[string]any{"level": out.NewLevel, "levels_gained": out.LevelsGained, "bonus_points": out.BonusPoints},
		})
	}
	if out.TierChanged() {
		batch.Add(rankChangeEvent(playerID, out.OldTier, out.NewTier))
	}

	batch.OnCommit(func() {
		l.metrics.XPAwarded(amount, out.LevelsGained)
		log.Info().
			Int64("player_id", playerID).
			Int64("amount", amount).
			Int("level", out.NewLevel).
			Int("levels_gained", out.LevelsGained).
			Msg("XP applied")
	})

	return &XPResult{
		PlayerID:     playerID,
		Level:        p.Level,
		CurrentXP:    p.CurrentXP,
		NextLevelXP:  p.NextLevelXP,
		LevelsGained: out.LevelsGained,
		BonusPoints:  out.BonusPoints,
		RankPoints:   p.RankPoints,
		RankTier:     p.RankTier,
	}, nil
}

// AddRankPoints changes rank points by delta, clamped at zero.
func (l *Ledger) AddRankPoints(ctx context.Context, playerID int64, delta int64) (*RankResult, error) {
	var result *RankResult
	err := RunTx(ctx, l.pool, l.notifier, func(tx pgx.Tx, batch *notify.Batch) error {
		var err error
		result, err = l.AddRankPointsTx(ctx, tx, batch, playerID, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddRankPointsTx is AddRankPoints inside the caller's transaction.
func (l *Ledger) AddRankPointsTx(ctx context.Context, tx pgx.Tx, batch *notify.Batch, playerID int64, delta int64) (*RankResult, error) {
	players := l.players.WithTx(tx)

	p, err := players.GetForUpdate(ctx, playerID)
	if err != nil {
		return nil, err
	}

	state := progression.Normalize(progression.StateOf(p))
	state, out := progression.ApplyRankPoints(state, delta)
	state.ApplyTo(p)

	if err := players.UpdateProgression(ctx, p); err != nil {
		return nil, err
	}

	if out.TierChanged() {
		batch.Add(rankChangeEvent(playerID, out.OldTier, out.NewTier))
	}

	return &RankResult{
		PlayerID:    playerID,
		RankPoints:  out.NewPoints,
		RankTier:    out.NewTier,
		OldTier:     out.OldTier,
		TierChanged: out.TierChanged(),
	}, nil
}

// GetRankProgress returns the player's progress toward the next tier.
func (l *Ledger) GetRankProgress(ctx context.Context, playerID int64) (*progression.RankProgress, error) {
	p, err := l.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	rp := progression.Progress(p.RankPoints)
	return &rp, nil
}

func rankChangeEvent(playerID int64, oldTier, newTier string) notify.Event {
	return notify.Event{
		Type:       notify.EventRankChange,
		PlayerID:   playerID,
		Recipients: []int64{playerID},
		Message:    fmt.Sprintf("Your rank changed from %s to %s.", oldTier, newTier),
		Data:       map[string]any{"old_tier": oldTier, "new_tier": newTier},
	}
}
