// Package model defines the data models for the battle and progression engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Player is a persistent identity with progression state.
// NextLevelXP and RankTier are always derived from Level and RankPoints.
type Player struct {
	ID             int64      `db:"id"`
	Username       string     `db:"username"`
	Balance        int64      `db:"balance"`
	Level          int        `db:"level"`
	CurrentXP      int64      `db:"current_xp"`
	NextLevelXP    int64      `db:"next_level_xp"`
	RankTier       string     `db:"rank_tier"`
	RankPoints     int64      `db:"rank_points"`
	StreakDays     int        `db:"streak_days"`
	LastStreakDate *time.Time `db:"last_streak_date"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Transaction represents a balance change record.
type Transaction struct {
	ID          int64     `db:"id"`
	PlayerID    int64     `db:"player_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeInitial     = "initial"      // Starting coins on account creation
	TxTypeEntryFee    = "entry_fee"    // Battle entry fee debit
	TxTypeEntryRefund = "entry_refund" // Entry fee returned on cancellation
	TxTypePrizePool   = "prize_pool"   // Prize pool credited to a battle winner
	TxTypeAdminAdd    = "admin_add"    // Admin added balance
	TxTypeAdminSub    = "admin_sub"    // Admin subtracted balance
)

// Achievement is a named, target-bound counter definition.
type Achievement struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Target      int64  `db:"target"`
	XPReward    int64  `db:"xp_reward"`
}

// PlayerAchievement tracks one player's progress toward an achievement.
// Completed is a one-way latch.
type PlayerAchievement struct {
	PlayerID      int64      `db:"player_id"`
	AchievementID int64      `db:"achievement_id"`
	Name          string     `db:"name"`
	Target        int64      `db:"target"`
	Progress      int64      `db:"progress"`
	Completed     bool       `db:"completed"`
	CompletedAt   *time.Time `db:"completed_at"`
}

// Well-known achievement names triggered by the battle engine.
const (
	AchievementBattlesPlayed = "battles_played"
	AchievementBattleWins    = "battle_wins"
)

// StreakGoal is a daily goal definition.
type StreakGoal struct {
	ID          int64  `db:"id"`
	Description string `db:"description"`
	Target      int64  `db:"target"`
}

// Daily goals advanced by the battle engine.
const (
	GoalPlayBattle      = "Play a battle"
	GoalAnswerQuestions = "Answer 10 questions"
)

// PlayerStreakGoal is a per-player, per-calendar-day goal record.
type PlayerStreakGoal struct {
	PlayerID    int64     `db:"player_id"`
	GoalID      int64     `db:"goal_id"`
	Description string    `db:"description"`
	Target      int64     `db:"target"`
	GoalDate    time.Time `db:"goal_date"`
	Progress    int64     `db:"progress"`
	Completed   bool      `db:"completed"`
	Claimed     bool      `db:"claimed"`
}

// BattleStatus is the lifecycle state of a battle.
type BattleStatus string

const (
	BattleWaiting    BattleStatus = "waiting"
	BattleInProgress BattleStatus = "in_progress"
	BattleCompleted  BattleStatus = "completed"
	BattleCancelled  BattleStatus = "cancelled"
)

// CanTransition reports whether moving from s to next is a legal forward transition.
func (s BattleStatus) CanTransition(next BattleStatus) bool {
	switch s {
	case BattleWaiting:
		return next == BattleInProgress || next == BattleCancelled
	case BattleInProgress:
		return next == BattleCompleted
	default:
		return false
	}
}

// IsFinal reports whether no further transition is possible.
func (s BattleStatus) IsFinal() bool {
	return s == BattleCompleted || s == BattleCancelled
}

// Battle is one instance of a timed, scored, multiplayer question challenge.
type Battle struct {
	ID              uuid.UUID    `db:"id"`
	Title           string       `db:"title"`
	Type            string       `db:"type"`
	Status          BattleStatus `db:"status"`
	MaxParticipants int          `db:"max_participants"`
	EntryFee        int64        `db:"entry_fee"`
	PrizePool       int64        `db:"prize_pool"`
	RewardPoints    int64        `db:"reward_points"`
	QuestionsCount  int          `db:"questions_count"`
	DurationMinutes int          `db:"duration_minutes"`
	ExamType        string       `db:"exam_type"`
	Subject         string       `db:"subject"`
	Topics          []string     `db:"topics"`
	Difficulty      string       `db:"difficulty"`
	AutoStart       bool         `db:"auto_start"`
	SpectatorMode   bool         `db:"spectator_mode"`
	QuestionsReady  bool         `db:"questions_ready"`
	CreatedBy       int64        `db:"created_by"`
	WinnerID        *int64       `db:"winner_id"`
	CreatedAt       time.Time    `db:"created_at"`
	StartedAt       *time.Time   `db:"started_at"`
	EndedAt         *time.Time   `db:"ended_at"`
	JudgedAt        *time.Time   `db:"judged_at"`
}

// Participant is a seat in a battle.
type Participant struct {
	BattleID    uuid.UUID  `db:"battle_id"`
	PlayerID    int64      `db:"player_id"`
	Team        int        `db:"team"`
	Score       int64      `db:"score"`
	Answers     []string   `db:"answers"`
	SubmittedAt *time.Time `db:"submitted_at"`
	JoinedAt    time.Time  `db:"joined_at"`
}

// HasSubmitted reports whether the participant has recorded a submission.
func (p *Participant) HasSubmitted() bool {
	return p.SubmittedAt != nil
}

// Question is a gradeable question, either freshly generated or stored for a battle.
type Question struct {
	Position         int      `db:"position" yaml:"-"`
	Text             string   `db:"question" yaml:"question"`
	Options          []string `db:"options" yaml:"options"`
	CorrectAnswer    string   `db:"correct_answer" yaml:"answer"`
	Explanation      string   `db:"explanation" yaml:"explanation"`
	Marks            int64    `db:"marks" yaml:"marks"`
	TimeLimitSeconds int      `db:"time_limit_seconds" yaml:"time_limit"`
}

// Spectator is a non-playing viewer of a battle.
type Spectator struct {
	BattleID uuid.UUID `db:"battle_id"`
	PlayerID int64     `db:"player_id"`
	JoinedAt time.Time `db:"joined_at"`
}
