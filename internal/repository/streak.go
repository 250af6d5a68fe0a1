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

// StreakRepository handles daily goal definitions and per-day player goal rows.
type StreakRepository struct {
	q db.Querier
}

// NewStreakRepository creates a new StreakRepository instance.
func NewStreakRepository(q db.Querier) *StreakRepository {
	return &StreakRepository{q: q}
}

// WithTx returns a copy of the repository bound to tx.
func (r *StreakRepository) WithTx(tx pgx.Tx) *StreakRepository {
	return &StreakRepository{q: tx}
}

// EnsureDay creates the player's goal rows for date, one per definition, if
// they do not exist yet. Returns the number of rows created.
func (r *StreakRepository) EnsureDay(ctx context.Context, playerID int64, date time.Time) (int64, error) {
	const query = `
		INSERT INTO player_streak_goals (player_id, goal_id, goal_date, progress, completed, claimed)
		SELECT $1, id, $2, 0, FALSE, FALSE FROM streak_goals
		ON CONFLICT (player_id, goal_id, goal_date) DO NOTHING
	`

	result, err := r.q.Exec(ctx, query, playerID, date)
	if err != nil {
		return 0, fmt.Errorf("failed to create daily goals: %w", err)
	}
	return result.RowsAffected(), nil
}

const playerGoalColumns = `pg.player_id, pg.goal_id, g.description, g.target,
	pg.goal_date, pg.progress, pg.completed, pg.claimed`

func scanPlayerGoal(row pgx.Row) (*model.PlayerStreakGoal, error) {
	var g model.PlayerStreakGoal
	err := row.Scan(
		&g.PlayerID,
		&g.GoalID,
		&g.Description,
		&g.Target,
		&g.GoalDate,
		&g.Progress,
		&g.Completed,
		&g.Claimed,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListDay returns the player's goal rows for date. When forUpdate is set the
// rows stay locked until the surrounding transaction ends.
func (r *StreakRepository) ListDay(ctx context.Context, playerID int64, date time.Time, forUpdate bool) ([]*model.PlayerStreakGoal, error) {
	query := `
		SELECT ` + playerGoalColumns + `
		FROM player_streak_goals pg
		JOIN streak_goals g ON g.id = pg.goal_id
		WHERE pg.player_id = $1 AND pg.goal_date = $2
		ORDER BY pg.goal_id`
	if forUpdate {
		query += ` FOR UPDATE OF pg`
	}

	rows, err := r.q.Query(ctx, query, playerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily goals: %w", err)
	}
	defer rows.Close()

	var goals []*model.PlayerStreakGoal
	for rows.Next() {
		g, err := scanPlayerGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily goals: %w", err)
	}
	return goals, nil
}

// GetForUpdate locks and returns one of the player's goal rows for date.
// Returns model.ErrGoalUnknown if the description matches no row.
func (r *StreakRepository) GetForUpdate(ctx context.Context, playerID int64, description string, date time.Time) (*model.PlayerStreakGoal, error) {
	query := `
		SELECT ` + playerGoalColumns + `
		FROM player_streak_goals pg
		JOIN streak_goals g ON g.id = pg.goal_id
		WHERE pg.player_id = $1 AND g.description = $2 AND pg.goal_date = $3
		FOR UPDATE OF pg`

	g, err := scanPlayerGoal(r.q.QueryRow(ctx, query, playerID, description, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrGoalUnknown
		}
		return nil, fmt.Errorf("failed to lock daily goal: %w", err)
	}
	return g, nil
}

// SaveProgress writes a goal row's progress and completion flag.
func (r *StreakRepository) SaveProgress(ctx context.Context, g *model.PlayerStreakGoal) error {
	const query = `
		UPDATE player_streak_goals
		SET progress = $4, completed = completed OR $5
		WHERE player_id = $1 AND goal_id = $2 AND goal_date = $3
	`

	_, err := r.q.Exec(ctx, query, g.PlayerID, g.GoalID, g.GoalDate, g.Progress, g.Completed)
	if err != nil {
		return fmt.Errorf("failed to save goal progress: %w", err)
	}
	return nil
}

// MarkClaimed flags every goal row of the day as claimed. Returns the number
// of rows that moved from unclaimed to claimed.
func (r *StreakRepository) MarkClaimed(ctx context.Context, playerID int64, date time.Time) (int64, error) {
	const query = `
		UPDATE player_streak_goals
		SET claimed = TRUE
		WHERE player_id = $1 AND goal_date = $2 AND NOT claimed
	`

	result, err := r.q.Exec(ctx, query, playerID, date)
	if err != nil {
		return 0, fmt.Errorf("failed to mark goals claimed: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListGoals returns every goal definition.
func (r *StreakRepository) ListGoals(ctx context.Context) ([]*model.StreakGoal, error) {
	rows, err := r.q.Query(ctx, `SELECT id, description, target FROM streak_goals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list streak goals: %w", err)
	}
	defer rows.Close()

	var goals []*model.StreakGoal
	for rows.Next() {
		var g model.StreakGoal
		if err := rows.Scan(&g.ID, &g.Description, &g.Target); err != nil {
			return nil, fmt.Errorf("failed to scan streak goal: %w", err)
		}
		goals = append(goals, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streak goals: %w", err)
	}
	return goals, nil
}
