// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"battlezone/internal/model"
	"battlezone/internal/pkg/db"
)

const playerColumns = `id, username, balance, level, current_xp, next_level_xp,
	rank_tier, rank_points, streak_days, last_streak_date, created_at, updated_at`

// PlayerRepository handles player data persistence.
type PlayerRepository struct {
	q db.Querier
}

// NewPlayerRepository creates a new PlayerRepository instance.
func NewPlayerRepository(q db.Querier) *PlayerRepository {
	return &PlayerRepository{q: q}
}

// WithTx returns a copy of the repository bound to tx.
func (r *PlayerRepository) WithTx(tx pgx.Tx) *PlayerRepository {
	return &PlayerRepository{q: tx}
}

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Balance,
		&p.Level,
		&p.CurrentXP,
		&p.NextLevelXP,
		&p.RankTier,
		&p.RankPoints,
		&p.StreakDays,
		&p.LastStreakDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a player with the given starting balance and the initial
// progression state. Returns model.ErrAlreadyExists if the id is taken.
func (r *PlayerRepository) Create(ctx context.Context, p *model.Player) (*model.Player, error) {
	query := `
		INSERT INTO players (id, username, balance, level, current_xp, next_level_xp,
			rank_tier, rank_points, streak_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NOW(), NOW())
		RETURNING ` + playerColumns

	created, err := scanPlayer(r.q.QueryRow(ctx, query,
		p.ID, p.Username, p.Balance, p.Level, p.CurrentXP, p.NextLevelXP, p.RankTier, p.RankPoints))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, model.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return created, nil
}

// GetByID retrieves a player by id.
// Returns model.ErrPlayerNotFound if the player does not exist.
func (r *PlayerRepository) GetByID(ctx context.Context, id int64) (*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`

	p, err := scanPlayer(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// GetForUpdate retrieves a player and locks the row until the surrounding
// transaction ends. Must be called on a repository bound to a transaction.
func (r *PlayerRepository) GetForUpdate(ctx context.Context, id int64) (*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1 FOR UPDATE`

	p, err := scanPlayer(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to lock player: %w", err)
	}
	return p, nil
}

// LockMany locks the rows of every listed player in ascending id order, so
// concurrent multi-player writers cannot deadlock. Missing players are
// reported as model.ErrPlayerNotFound.
func (r *PlayerRepository) LockMany(ctx context.Context, ids []int64) (map[int64]*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock players: %w", err)
	}
	defer rows.Close()

	players := make(map[int64]*model.Player, len(ids))
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating players: %w", err)
	}

	for _, id := range ids {
		if _, ok := players[id]; !ok {
			return nil, fmt.Errorf("%w: %d", model.ErrPlayerNotFound, id)
		}
	}
	return players, nil
}

// UpdateProgression writes the level, XP and rank fields of p.
func (r *PlayerRepository) UpdateProgression(ctx context.Context, p *model.Player) error {
	const query = `
		UPDATE players
		SET level = $2, current_xp = $3, next_level_xp = $4,
			rank_points = $5, rank_tier = $6, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, p.ID, p.Level, p.CurrentXP, p.NextLevelXP, p.RankPoints, p.RankTier)
	if err != nil {
		return fmt.Errorf("failed to update progression: %w", err)
	}
	if result.RowsAffected() == 0 {
		return model.ErrPlayerNotFound
	}
	return nil
}

// UpdateStreak writes the streak counter and the date it was last extended.
func (r *PlayerRepository) UpdateStreak(ctx context.Context, id int64, streakDays int, date time.Time) error {
	const query = `
		UPDATE players
		SET streak_days = $2, last_streak_date = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, id, streakDays, date)
	if err != nil {
		return fmt.Errorf("failed to update streak: %w", err)
	}
	if result.RowsAffected() == 0 {
		return model.ErrPlayerNotFound
	}
	return nil
}

// UpdateBalance adds amount (possibly negative) to the balance and returns the
// new balance. The schema rejects negative balances, so callers check funds first.
func (r *PlayerRepository) UpdateBalance(ctx context.Context, id int64, amount int64) (int64, error) {
	const query = `
		UPDATE players
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`

	var balance int64
	err := r.q.QueryRow(ctx, query, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrPlayerNotFound
		}
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return balance, nil
}

// UpdateUsername updates a player's display name.
func (r *PlayerRepository) UpdateUsername(ctx context.Context, id int64, username string) error {
	const query = `
		UPDATE players
		SET username = $2, updated_at = NOW()
		WHERE id = $1 AND username <> $2
	`

	if _, err := r.q.Exec(ctx, query, id, username); err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}
	return nil
}

// TopByRank retrieves the top N players by rank points.
func (r *PlayerRepository) TopByRank(ctx context.Context, limit int) ([]*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players ORDER BY rank_points DESC, id ASC LIMIT $1`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top players: %w", err)
	}
	defer rows.Close()

	var players []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating players: %w", err)
	}
	return players, nil
}
