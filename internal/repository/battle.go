package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"battlezone/internal/model"
	"battlezone/internal/pkg/db"
)

const battleColumns = `id, title, type, status, max_participants, entry_fee, prize_pool,
	reward_points, questions_count, duration_minutes, exam_type, subject, topics,
	difficulty, auto_start, spectator_mode, questions_ready, created_by, winner_id,
	created_at, started_at, ended_at, judged_at`

// BattleRepository handles battles, their seats, questions and spectators.
type BattleRepository struct {
	q db.Querier
}

// NewBattleRepository creates a new BattleRepository instance.
func NewBattleRepository(q db.Querier) *BattleRepository {
	return &BattleRepository{q: q}
}

// WithTx returns a copy of the repository bound to tx.
func (r *BattleRepository) WithTx(tx pgx.Tx) *BattleRepository {
	return &BattleRepository{q: tx}
}

func scanBattle(row pgx.Row) (*model.Battle, error) {
	var b model.Battle
	var status string
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Type,
		&status,
		&b.MaxParticipants,
		&b.EntryFee,
		&b.PrizePool,
		&b.RewardPoints,
		&b.QuestionsCount,
		&b.DurationMinutes,
		&b.ExamType,
		&b.Subject,
		&b.Topics,
		&b.Difficulty,
		&b.AutoStart,
		&b.SpectatorMode,
		&b.QuestionsReady,
		&b.CreatedBy,
		&b.WinnerID,
		&b.CreatedAt,
		&b.StartedAt,
		&b.EndedAt,
		&b.JudgedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = model.BattleStatus(status)
	return &b, nil
}

// Create inserts a battle.
func (r *BattleRepository) Create(ctx context.Context, b *model.Battle) (*model.Battle, error) {
	query := `
		INSERT INTO battles (id, title, type, status, max_participants, entry_fee, prize_pool,
			reward_points, questions_count, duration_minutes, exam_type, subject, topics,
			difficulty, auto_start, spectator_mode, questions_ready, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		RETURNING ` + battleColumns

	created, err := scanBattle(r.q.QueryRow(ctx, query,
		b.ID, b.Title, b.Type, string(b.Status), b.MaxParticipants, b.EntryFee, b.PrizePool,
		b.RewardPoints, b.QuestionsCount, b.DurationMinutes, b.ExamType, b.Subject, b.Topics,
		b.Difficulty, b.AutoStart, b.SpectatorMode, b.QuestionsReady, b.CreatedBy,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, model.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create battle: %w", err)
	}
	return created, nil
}

// GetByID retrieves a battle.
// Returns model.ErrBattleNotFound if the battle does not exist.
func (r *BattleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Battle, error) {
	return r.get(ctx, `SELECT `+battleColumns+` FROM battles WHERE id = $1`, id)
}

// GetForUpdate retrieves a battle and locks its row until the surrounding
// transaction ends.
func (r *BattleRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Battle, error) {
	return r.get(ctx, `SELECT `+battleColumns+` FROM battles WHERE id = $1 FOR UPDATE`, id)
}

func (r *BattleRepository) get(ctx context.Context, query string, id uuid.UUID) (*model.Battle, error) {
	b, err := scanBattle(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBattleNotFound
		}
		return nil, fmt.Errorf("failed to get battle: %w", err)
	}
	return b, nil
}

// List returns battles in any of the given statuses. Past battles are listed
// newest first, everything else oldest first.
func (r *BattleRepository) List(ctx context.Context, statuses []model.BattleStatus, newestFirst bool, limit int) ([]*model.Battle, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := `SELECT ` + battleColumns + ` FROM battles WHERE status = ANY($1)
		ORDER BY created_at ` + order + `, id LIMIT $2`

	return r.list(ctx, query, names, limit)
}

// ListStaleLobbies returns waiting battles created before cutoff.
func (r *BattleRepository) ListStaleLobbies(ctx context.Context, cutoff time.Time, limit int) ([]*model.Battle, error) {
	query := `SELECT ` + battleColumns + ` FROM battles
		WHERE status = 'waiting' AND created_at < $1
		ORDER BY created_at LIMIT $2`
	return r.list(ctx, query, cutoff, limit)
}

// ListPendingQuestions returns waiting battles that still have no questions.
func (r *BattleRepository) ListPendingQuestions(ctx context.Context, limit int) ([]*model.Battle, error) {
	query := `SELECT ` + battleColumns + ` FROM battles
		WHERE status = 'waiting' AND NOT questions_ready
		ORDER BY created_at LIMIT $1`
	return r.list(ctx, query, limit)
}

// ListOverdue returns in-progress battles whose duration has elapsed at now.
func (r *BattleRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*model.Battle, error) {
	query := `SELECT ` + battleColumns + ` FROM battles
		WHERE status = 'in_progress'
		  AND started_at + make_interval(mins => duration_minutes) < $1
		ORDER BY started_at LIMIT $2`
	return r.list(ctx, query, now, limit)
}

// ListUnjudged returns completed battles whose rewards were never paid.
func (r *BattleRepository) ListUnjudged(ctx context.Context, limit int) ([]*model.Battle, error) {
	query := `SELECT ` + battleColumns + ` FROM battles
		WHERE status = 'completed' AND judged_at IS NULL
		ORDER BY ended_at LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *BattleRepository) list(ctx context.Context, query string, args ...any) ([]*model.Battle, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list battles: %w", err)
	}
	defer rows.Close()

	var battles []*model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan battle: %w", err)
		}
		battles = append(battles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating battles: %w", err)
	}
	return battles, nil
}

// Transition moves a battle from one status to another and stamps the
// matching timestamp. It reports false when the battle was not in from, so a
// repeated transition is harmless.
func (r *BattleRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.BattleStatus, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal battle transition %s -> %s", from, to)
	}

	var query string
	switch to {
	case model.BattleInProgress:
		query = `UPDATE battles SET status = $3, started_at = $4 WHERE id = $1 AND status = $2`
	default:
		query = `UPDATE battles SET status = $3, ended_at = $4 WHERE id = $1 AND status = $2`
	}

	result, err := r.q.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("failed to update battle status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkJudged records the winner of a completed battle. It reports false if
// the battle was already judged, which makes judge-and-pay exactly-once when
// called inside the payout transaction.
func (r *BattleRepository) MarkJudged(ctx context.Context, id uuid.UUID, winnerID *int64, at time.Time) (bool, error) {
	const query = `
		UPDATE battles
		SET winner_id = $2, judged_at = $3
		WHERE id = $1 AND status = 'completed' AND judged_at IS NULL
	`

	result, err := r.q.Exec(ctx, query, id, winnerID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark battle judged: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ReplaceQuestions stores the question set of a waiting battle and flags it ready.
func (r *BattleRepository) ReplaceQuestions(ctx context.Context, id uuid.UUID, questions []model.Question) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM battle_questions WHERE battle_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear questions: %w", err)
	}

	const insert = `
		INSERT INTO battle_questions (battle_id, position, question, options, correct_answer,
			explanation, marks, time_limit_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, q := range questions {
		options := q.Options
		if options == nil {
			options = []string{}
		}
		_, err := r.q.Exec(ctx, insert, id, i, q.Text, options, q.CorrectAnswer, q.Explanation, q.Marks, q.TimeLimitSeconds)
		if err != nil {
			return fmt.Errorf("failed to insert question %d: %w", i, err)
		}
	}

	result, err := r.q.Exec(ctx, `UPDATE battles SET questions_ready = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to flag questions ready: %w", err)
	}
	if result.RowsAffected() == 0 {
		return model.ErrBattleNotFound
	}
	return nil
}

// GetQuestions returns the battle's questions in order.
func (r *BattleRepository) GetQuestions(ctx context.Context, id uuid.UUID) ([]model.Question, error) {
	const query = `
		SELECT position, question, options, correct_answer, explanation, marks, time_limit_seconds
		FROM battle_questions
		WHERE battle_id = $1
		ORDER BY position
	`

	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		err := rows.Scan(&q.Position, &q.Text, &q.Options, &q.CorrectAnswer, &q.Explanation, &q.Marks, &q.TimeLimitSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

// ============================================================================
// Participants
// ============================================================================

const participantColumns = `battle_id, player_id, team, score, answers, submitted_at, joined_at`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	err := row.Scan(&p.BattleID, &p.PlayerID, &p.Team, &p.Score, &p.Answers, &p.SubmittedAt, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddParticipant seats a player. Returns model.ErrAlreadyJoined if the player
// already holds a seat in the battle.
func (r *BattleRepository) AddParticipant(ctx context.Context, battleID uuid.UUID, playerID int64, team int) (*model.Participant, error) {
	query := `
		INSERT INTO battle_participants (battle_id, player_id, team, score, joined_at)
		VALUES ($1, $2, $3, 0, NOW())
		RETURNING ` + participantColumns

	p, err := scanParticipant(r.q.QueryRow(ctx, query, battleID, playerID, team))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, model.ErrAlreadyJoined
		}
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	return p, nil
}

// GetParticipant returns one seat.
// Returns model.ErrNotParticipant if the player has no seat in the battle.
func (r *BattleRepository) GetParticipant(ctx context.Context, battleID uuid.UUID, playerID int64) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM battle_participants WHERE battle_id = $1 AND player_id = $2`

	p, err := scanParticipant(r.q.QueryRow(ctx, query, battleID, playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotParticipant
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns every seat in join order.
func (r *BattleRepository) ListParticipants(ctx context.Context, battleID uuid.UUID) ([]*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM battle_participants
		WHERE battle_id = $1 ORDER BY joined_at, player_id`

	rows, err := r.q.Query(ctx, query, battleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var list []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return list, nil
}

// IsParticipant reports whether the player holds a seat in the battle.
func (r *BattleRepository) IsParticipant(ctx context.Context, battleID uuid.UUID, playerID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM battle_participants WHERE battle_id = $1 AND player_id = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, battleID, playerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

// TeamCounts returns the number of members per team index.
func (r *BattleRepository) TeamCounts(ctx context.Context, battleID uuid.UUID) (map[int]int, error) {
	const query = `SELECT team, COUNT(*) FROM battle_participants WHERE battle_id = $1 GROUP BY team`

	rows, err := r.q.Query(ctx, query, battleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count teams: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var team, n int
		if err := rows.Scan(&team, &n); err != nil {
			return nil, fmt.Errorf("failed to scan team count: %w", err)
		}
		counts[team] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team counts: %w", err)
	}
	return counts, nil
}

// RecordSubmission stores a player's answers. It reports false if the player
// had already submitted.
func (r *BattleRepository) RecordSubmission(ctx context.Context, battleID uuid.UUID, playerID int64, answers []string, at time.Time) (bool, error) {
	const query = `
		UPDATE battle_participants
		SET answers = $3, submitted_at = $4
		WHERE battle_id = $1 AND player_id = $2 AND submitted_at IS NULL
	`

	if answers == nil {
		answers = []string{}
	}
	result, err := r.q.Exec(ctx, query, battleID, playerID, answers, at)
	if err != nil {
		return false, fmt.Errorf("failed to record submission: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SetScore stores a judged score.
func (r *BattleRepository) SetScore(ctx context.Context, battleID uuid.UUID, playerID int64, score int64) error {
	const query = `UPDATE battle_participants SET score = $3 WHERE battle_id = $1 AND player_id = $2`

	if _, err := r.q.Exec(ctx, query, battleID, playerID, score); err != nil {
		return fmt.Errorf("failed to set score: %w", err)
	}
	return nil
}

// ============================================================================
// Spectators
// ============================================================================

// AddSpectator records a viewer. Returns model.ErrAlreadySpectating on duplicates.
func (r *BattleRepository) AddSpectator(ctx context.Context, battleID uuid.UUID, playerID int64) (*model.Spectator, error) {
	const query = `
		INSERT INTO battle_spectators (battle_id, player_id, joined_at)
		VALUES ($1, $2, NOW())
		RETURNING battle_id, player_id, joined_at
	`

	var s model.Spectator
	err := r.q.QueryRow(ctx, query, battleID, playerID).Scan(&s.BattleID, &s.PlayerID, &s.JoinedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, model.ErrAlreadySpectating
		}
		return nil, fmt.Errorf("failed to add spectator: %w", err)
	}
	return &s, nil
}

// ListSpectatorIDs returns the ids of everyone watching the battle.
func (r *BattleRepository) ListSpectatorIDs(ctx context.Context, battleID uuid.UUID) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT player_id FROM battle_spectators WHERE battle_id = $1 ORDER BY joined_at`, battleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spectators: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan spectators: %w", err)
	}
	return ids, nil
}
