package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migration is one idempotent schema step.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "players table",
		sql: `
		CREATE TABLE IF NOT EXISTS players (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			level INT NOT NULL DEFAULT 1 CHECK (level >= 1),
			current_xp BIGINT NOT NULL DEFAULT 0 CHECK (current_xp >= 0),
			next_level_xp BIGINT NOT NULL DEFAULT 1000,
			rank_tier VARCHAR(32) NOT NULL DEFAULT 'Bronze I',
			rank_points BIGINT NOT NULL DEFAULT 0 CHECK (rank_points >= 0),
			streak_days INT NOT NULL DEFAULT 0 CHECK (streak_days >= 0),
			last_streak_date DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_players_rank_points ON players(rank_points DESC);`,
	},
	{
		name: "transactions table",
		sql: `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_player_time ON transactions(player_id, created_at DESC);`,
	},
	{
		name: "achievements tables",
		sql: `
		CREATE TABLE IF NOT EXISTS achievements (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			target BIGINT NOT NULL CHECK (target > 0),
			xp_reward BIGINT NOT NULL DEFAULT 0 CHECK (xp_reward >= 0)
		);
		CREATE TABLE IF NOT EXISTS player_achievements (
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			achievement_id BIGINT NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
			progress BIGINT NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at TIMESTAMPTZ,
			PRIMARY KEY (player_id, achievement_id)
		);
		INSERT INTO achievements (name, description, target, xp_reward) VALUES
			('battles_played', 'Finish 10 battles', 10, 500),
			('battle_wins', 'Win 5 battles', 5, 1000),
			('courses_completed', 'Complete 3 courses', 3, 750),
			('tutor_sessions', 'Hold 20 tutoring sessions', 20, 400),
			('referrals', 'Invite 3 friends', 3, 600)
		ON CONFLICT (name) DO NOTHING;`,
	},
	{
		name: "streak goal tables",
		sql: `
		CREATE TABLE IF NOT EXISTS streak_goals (
			id BIGSERIAL PRIMARY KEY,
			description VARCHAR(255) NOT NULL UNIQUE,
			target BIGINT NOT NULL CHECK (target > 0)
		);
		CREATE TABLE IF NOT EXISTS player_streak_goals (
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			goal_id BIGINT NOT NULL REFERENCES streak_goals(id) ON DELETE CASCADE,
			goal_date DATE NOT NULL,
			progress BIGINT NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (player_id, goal_id, goal_date)
		);
		INSERT INTO streak_goals (description, target) VALUES
			('Play a battle', 1),
			('Answer 10 questions', 10)
		ON CONFLICT (description) DO NOTHING;`,
	},
	{
		name: "battles tables",
		sql: `
		CREATE TABLE IF NOT EXISTS battles (
			id UUID PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			type VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'waiting',
			max_participants INT NOT NULL CHECK (max_participants >= 2),
			entry_fee BIGINT NOT NULL DEFAULT 0 CHECK (entry_fee >= 0),
			prize_pool BIGINT NOT NULL DEFAULT 0 CHECK (prize_pool >= 0),
			reward_points BIGINT NOT NULL DEFAULT 0 CHECK (reward_points >= 0),
			questions_count INT NOT NULL CHECK (questions_count >= 1),
			duration_minutes INT NOT NULL,
			exam_type VARCHAR(64) NOT NULL DEFAULT '',
			subject VARCHAR(128) NOT NULL DEFAULT '',
			topics TEXT[] NOT NULL DEFAULT '{}',
			difficulty VARCHAR(32) NOT NULL DEFAULT '',
			auto_start BOOLEAN NOT NULL DEFAULT TRUE,
			spectator_mode BOOLEAN NOT NULL DEFAULT TRUE,
			questions_ready BOOLEAN NOT NULL DEFAULT FALSE,
			created_by BIGINT NOT NULL REFERENCES players(id),
			winner_id BIGINT REFERENCES players(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			judged_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_battles_status_created ON battles(status, created_at DESC);
		CREATE TABLE IF NOT EXISTS battle_participants (
			battle_id UUID NOT NULL REFERENCES battles(id) ON DELETE CASCADE,
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			team INT NOT NULL DEFAULT 0,
			score BIGINT NOT NULL DEFAULT 0,
			answers TEXT[],
			submitted_at TIMESTAMPTZ,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (battle_id, player_id)
		);
		CREATE TABLE IF NOT EXISTS battle_questions (
			battle_id UUID NOT NULL REFERENCES battles(id) ON DELETE CASCADE,
			position INT NOT NULL,
			question TEXT NOT NULL,
			options TEXT[] NOT NULL DEFAULT '{}',
			correct_answer TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			marks BIGINT NOT NULL DEFAULT 1,
			time_limit_seconds INT NOT NULL DEFAULT 0,
			PRIMARY KEY (battle_id, position)
		);
		CREATE TABLE IF NOT EXISTS battle_spectators (
			battle_id UUID NOT NULL REFERENCES battles(id) ON DELETE CASCADE,
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (battle_id, player_id)
		);`,
	},
}

// Migrate applies the schema and seeds the achievement and streak goal
// definitions. Every step is idempotent.
func Migrate(ctx context.Context, q Querier) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := q.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
