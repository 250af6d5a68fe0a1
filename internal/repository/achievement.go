package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"battlezone/internal/model"
	"battlezone/internal/pkg/db"
)

// AchievementRepository handles achievement definitions and per-player progress.
type AchievementRepository struct {
	q db.Querier
}

// NewAchievementRepository creates a new AchievementRepository instance.
func NewAchievementRepository(q db.Querier) *AchievementRepository {
	return &AchievementRepository{q: q}
}

// WithTx returns a copy of the repository bound to tx.
func (r *AchievementRepository) WithTx(tx pgx.Tx) *AchievementRepository {
	return &AchievementRepository{q: tx}
}

// GetByName retrieves an achievement definition.
// Returns model.ErrAchievementUnknown if no definition has that name.
func (r *AchievementRepository) GetByName(ctx context.Context, name string) (*model.Achievement, error) {
	const query = `
		SELECT id, name, description, target, xp_reward
		FROM achievements
		WHERE name = $1
	`

	var a model.Achievement
	err := r.q.QueryRow(ctx, query, name).Scan(&a.ID, &a.Name, &a.Description, &a.Target, &a.XPReward)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAchievementUnknown
		}
		return nil, fmt.Errorf("failed to get achievement: %w", err)
	}
	return &a, nil
}

// Define inserts or updates a definition by name.
func (r *AchievementRepository) Define(ctx context.Context, a *model.Achievement) (*model.Achievement, error) {
	const query = `
		INSERT INTO achievements (name, description, target, xp_reward)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description, target = EXCLUDED.target, xp_reward = EXCLUDED.xp_reward
		RETURNING id, name, description, target, xp_reward
	`

	var out model.Achievement
	err := r.q.QueryRow(ctx, query, a.Name, a.Description, a.Target, a.XPReward).
		Scan(&out.ID, &out.Name, &out.Description, &out.Target, &out.XPReward)
	if err != nil {
		return nil, fmt.Errorf("failed to define achievement: %w", err)
	}
	return &out, nil
}

// EnsureAll creates a zero-progress record for every definition the player lacks.
func (r *AchievementRepository) EnsureAll(ctx context.Context, playerID int64) error {
	const query = `
		INSERT INTO player_achievements (player_id, achievement_id, progress, completed)
		SELECT $1, id, 0, FALSE FROM achievements
		ON CONFLICT (player_id, achievement_id) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, query, playerID); err != nil {
		return fmt.Errorf("failed to create achievement records: %w", err)
	}
	return nil
}

// GetProgressForUpdate locks and returns the player's record for one
// achievement, creating a zero-progress record first if none exists.
func (r *AchievementRepository) GetProgressForUpdate(ctx context.Context, playerID int64, a *model.Achievement) (*model.PlayerAchievement, error) {
	const insert = `
		INSERT INTO player_achievements (player_id, achievement_id, progress, completed)
		VALUES ($1, $2, 0, FALSE)
		ON CONFLICT (player_id, achievement_id) DO NOTHING
	`
	if _, err := r.q.Exec(ctx, insert, playerID, a.ID); err != nil {
		return nil, fmt.Errorf("failed to create achievement record: %w", err)
	}

	const query = `
		SELECT player_id, achievement_id, progress, completed, completed_at
		FROM player_achievements
		WHERE player_id = $1 AND achievement_id = $2
		FOR UPDATE
	`

	pa := model.PlayerAchievement{Name: a.Name, Target: a.Target}
	err := r.q.QueryRow(ctx, query, playerID, a.ID).
		Scan(&pa.PlayerID, &pa.AchievementID, &pa.Progress, &pa.Completed, &pa.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock achievement record: %w", err)
	}
	return &pa, nil
}

// SaveProgress writes progress and the completion latch. A completed record is
// never reopened.
func (r *AchievementRepository) SaveProgress(ctx context.Context, pa *model.PlayerAchievement) error {
	const query = `
		UPDATE player_achievements
		SET progress = $3,
			completed = completed OR $4,
			completed_at = COALESCE(completed_at, $5)
		WHERE player_id = $1 AND achievement_id = $2
	`

	_, err := r.q.Exec(ctx, query, pa.PlayerID, pa.AchievementID, pa.Progress, pa.Completed, pa.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save achievement progress: %w", err)
	}
	return nil
}

// ListForPlayer returns every definition with the player's progress, including
// definitions the player has not started.
func (r *AchievementRepository) ListForPlayer(ctx context.Context, playerID int64) ([]*model.PlayerAchievement, error) {
	const query = `
		SELECT a.id, a.name, a.target,
			COALESCE(pa.progress, 0), COALESCE(pa.completed, FALSE), pa.completed_at
		FROM achievements a
		LEFT JOIN player_achievements pa ON pa.achievement_id = a.id AND pa.player_id = $1
		ORDER BY a.id
	`

	rows, err := r.q.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var list []*model.PlayerAchievement
	for rows.Next() {
		pa := model.PlayerAchievement{PlayerID: playerID}
		if err := rows.Scan(&pa.AchievementID, &pa.Name, &pa.Target, &pa.Progress, &pa.Completed, &pa.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		list = append(list, &pa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating achievements: %w", err)
	}
	return list, nil
}
