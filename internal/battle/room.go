// Package battle implements battle rooms: creation, joining with entry fees,
// team balancing, submissions, judging and payouts, and the orchestrator that
// routes calls to the right room.
package battle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"battlezone/internal/config"
	"battlezone/internal/metrics"
	"battlezone/internal/model"
	"battlezone/internal/notify"
	"battlezone/internal/pkg/db"
	"battlezone/internal/pkg/lock"
	"battlezone/internal/repository"
	"battlezone/internal/service"
)

// QuestionSpec describes the question set a battle needs.
type QuestionSpec struct {
	ExamType   string
	Subject    string
	Topics     []string
	Difficulty string
	Count      int
}

// QuestionProvider generates the questions of a battle. It may fail; the
// battle then waits with its questions pending.
type QuestionProvider interface {
	GenerateQuestions(ctx context.Context, spec QuestionSpec) ([]model.Question, error)
}

// Rules are the engine-wide battle settings.
type Rules struct {
	MinDuration      int // minutes
	MaxDuration      int // minutes
	MaxParticipants  int
	QuestionTimeout  time.Duration
	LockTimeout      time.Duration
	Scoring          ScoringRule
	WinnerShare      *float64 // nil means 0.7
	ParticipantShare *float64 // nil means 0.1
	AutoStart        bool
}

func sharePtr(v float64) *float64 { return &v }

// RulesFromConfig converts the battle section of the configuration.
func RulesFromConfig(c *config.BattleConfig) (Rules, error) {
	rule, err := ParseScoringRule(c.ScoringRule)
	if err != nil {
		return Rules{}, err
	}
	if c.WinnerShare < 0 || c.WinnerShare > 1 {
		return Rules{}, &model.ConfigError{Field: "winner_share", Reason: "must be between 0 and 1"}
	}
	if c.ParticipantShare < 0 || c.ParticipantShare > 1 {
		return Rules{}, &model.ConfigError{Field: "participant_share", Reason: "must be between 0 and 1"}
	}
	return Rules{
		MinDuration:      c.MinDurationMinutes,
		MaxDuration:      c.MaxDurationMinutes,
		MaxParticipants:  c.MaxParticipants,
		QuestionTimeout:  c.QuestionTimeout,
		Scoring:          rule,
		WinnerShare:      sharePtr(c.WinnerShare),
		ParticipantShare: sharePtr(c.ParticipantShare),
		AutoStart:        c.AutoStart,
	}, nil
}

func (r Rules) withDefaults() Rules {
	if r.MinDuration <= 0 {
		r.MinDuration = 1
	}
	if r.MaxDuration <= 0 {
		r.MaxDuration = 180
	}
	if r.MaxDuration < r.MinDuration {
		r.MaxDuration = r.MinDuration
	}
	if r.MaxParticipants < 2 {
		r.MaxParticipants = 16
	}
	if r.QuestionTimeout <= 0 {
		r.QuestionTimeout = 15 * time.Second
	}
	if r.LockTimeout <= 0 {
		r.LockTimeout = 5 * time.Second
	}
	if r.Scoring == "" {
		r.Scoring = ScoreExact
	}
	if r.WinnerShare == nil {
		r.WinnerShare = sharePtr(0.7)
	}
	if r.ParticipantShare == nil {
		r.ParticipantShare = sharePtr(0.1)
	}
	return r
}

// Config is a request to create a battle.
type Config struct {
	Title           string
	Type            string
	MaxParticipants int // zero means teams × team size
	EntryFee        int64
	PrizePool       int64
	RewardPoints    int64
	QuestionsCount  int
	DurationMinutes int
	ExamType        string
	Subject         string
	Topics          []string
	Difficulty      string
	AutoStart       *bool // nil uses Rules.AutoStart
	SpectatorMode   bool
	CreatedBy       int64
}

// Deps are the collaborators shared by every room.
type Deps struct {
	Pool         db.TxBeginner
	Battles      *repository.BattleRepository
	Players      *repository.PlayerRepository
	Currency     *service.Currency
	Ledger       *service.Ledger
	Achievements *service.AchievementTracker
	Streaks      *service.StreakTracker // optional
	Questions    QuestionProvider       // optional
	Notifier     notify.Notifier
	Metrics      *metrics.Metrics
	Locks        *lock.KeyLock[uuid.UUID]
	Rules        Rules
	Now          func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Notifier == nil {
		out.Notifier = notify.Nop{}
	}
	if out.Locks == nil {
		out.Locks = lock.NewKeyLock[uuid.UUID]()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	out.Rules = out.Rules.withDefaults()
	return &out
}

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	Participant *model.Participant `json:"participant"`
	Balance     int64              `json:"balance"`
	Started     bool               `json:"started"`
}

// SubmitResult is the outcome of a successful submission.
type SubmitResult struct {
	Completed bool     `json:"completed"`
	Outcome   *Outcome `json:"outcome,omitempty"`
}

// Outcome is the judged result of a battle.
type Outcome struct {
	BattleID      uuid.UUID  `json:"battle_id"`
	WinnerID      *int64     `json:"winner_id,omitempty"`
	Standings     []Standing `json:"standings"`
	TeamTotals    []int64    `json:"team_totals"`
	WinnerXP      int64      `json:"winner_xp"`
	ParticipantXP int64      `json:"participant_xp"`
	PrizePool     int64      `json:"prize_pool"`
}

// Room owns the transitions of one battle. All state lives in the database;
// the room serializes mutations of its battle through the keyed lock and the
// battle row lock.
type Room struct {
	id     uuid.UUID
	layout Layout
	d      *Deps
}

func newRoom(b *model.Battle, d *Deps) (*Room, error) {
	layout, err := ParseLayout(b.Type)
	if err != nil {
		return nil, err
	}
	return &Room{id: b.ID, layout: layout, d: d}, nil
}

// ID returns the battle id.
func (r *Room) ID() uuid.UUID { return r.id }

// Layout returns the team layout.
func (r *Room) Layout() Layout { return r.layout }

// Create validates cfg, persists a waiting battle and tries to prepare its
// questions. Question generation failure does not fail creation.
func Create(ctx context.Context, d *Deps, cfg Config) (*Room, *model.Battle, error) {
	return create(ctx, d.withDefaults(), cfg)
}

func create(ctx context.Context, d *Deps, cfg Config) (*Room, *model.Battle, error) {
	b, layout, err := validate(cfg, d.Rules)
	if err != nil {
		return nil, nil, err
	}

	err = service.RunTx(ctx, d.Pool, d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
		if _, err := d.Players.WithTx(tx).GetByID(ctx, b.CreatedBy); err != nil {
			return err
		}
		var err error
		b, err = d.Battles.WithTx(tx).Create(ctx, b)
		if err != nil {
			return err
		}
		batch.Add(notify.Event{
			Type:       notify.EventBattleCreated,
			PlayerID:   b.CreatedBy,
			BattleID:   b.ID,
			Recipients: []int64{b.CreatedBy},
			Broadcast:  true,
			Message:    fmt.Sprintf("New %s battle: %s (entry %d coins, %d seats).", b.Type, b.Title, b.EntryFee, b.MaxParticipants),
			Data:       map[string]any{"type": b.Type, "entry_fee": b.EntryFee, "max_participants": b.MaxParticipants},
		})
		batch.OnCommit(func() {
			d.Metrics.BattleTransition(string(model.BattleWaiting))
			log.Info().
				Str("battle_id", b.ID.String()).
				Str("type", b.Type).
				Int64("created_by", b.CreatedBy).
				Msg("Battle created")
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	room := &Room{id: b.ID, layout: layout, d: d}
	if err := room.PrepareQuestions(ctx); err != nil {
		log.Warn().Err(err).Str("battle_id", b.ID.String()).Msg("Questions not ready, battle waits for them")
	} else {
		b.QuestionsReady = true
	}
	return room, b, nil
}

func validate(cfg Config, rules Rules) (*model.Battle, Layout, error) {
	layout, err := ParseLayout(cfg.Type)
	if err != nil {
		return nil, Layout{}, err
	}

	maxParticipants := cfg.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = layout.Teams * layout.TeamSize
	}
	if maxParticipants < 2 {
		return nil, Layout{}, &model.ConfigError{Field: "max_participants", Reason: "must be at least 2"}
	}
	if maxParticipants < layout.Teams {
		return nil, Layout{}, &model.ConfigError{Field: "max_participants", Reason: "must seat at least one player per team"}
	}
	if maxParticipants > rules.MaxParticipants {
		return nil, Layout{}, &model.ConfigError{
			Field:  "max_participants",
			Reason: fmt.Sprintf("must be at most %d", rules.MaxParticipants),
		}
	}
	if cfg.DurationMinutes < rules.MinDuration || cfg.DurationMinutes > rules.MaxDuration {
		return nil, Layout{}, &model.ConfigError{
			Field:  "duration",
			Reason: fmt.Sprintf("must be between %d and %d minutes", rules.MinDuration, rules.MaxDuration),
		}
	}

	var topics []string
	for _, t := range cfg.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return nil, Layout{}, &model.ConfigError{Field: "topics", Reason: "must name at least one topic"}
	}
	if cfg.QuestionsCount < 1 {
		return nil, Layout{}, &model.ConfigError{Field: "questions_count", Reason: "must be at least 1"}
	}
	if cfg.EntryFee < 0 || cfg.PrizePool < 0 || cfg.RewardPoints < 0 {
		return nil, Layout{}, &model.ConfigError{Field: "economy", Reason: "entry fee, prize pool and reward points cannot be negative"}
	}

	autoStart := rules.AutoStart
	if cfg.AutoStart != nil {
		autoStart = *cfg.AutoStart
	}
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = fmt.Sprintf("%s %s battle", cfg.Subject, strings.ToLower(cfg.Type))
		title = strings.TrimSpace(title)
	}

	return &model.Battle{
		ID:              uuid.New(),
		Title:           title,
		Type:            strings.ToLower(strings.TrimSpace(cfg.Type)),
		Status:          model.BattleWaiting,
		MaxParticipants: maxParticipants,
		EntryFee:        cfg.EntryFee,
		PrizePool:       cfg.PrizePool,
		RewardPoints:    cfg.RewardPoints,
		QuestionsCount:  cfg.QuestionsCount,
		DurationMinutes: cfg.DurationMinutes,
		ExamType:        cfg.ExamType,
		Subject:         cfg.Subject,
		Topics:          topics,
		Difficulty:      cfg.Difficulty,
		AutoStart:       autoStart,
		SpectatorMode:   cfg.SpectatorMode,
		CreatedBy:       cfg.CreatedBy,
	}, layout, nil
}

// locked runs fn while holding the room's in-process lock.
func (r *Room) locked(ctx context.Context, fn func() error) error {
	return r.d.Locks.WithLockContext(ctx, r.id, r.d.Rules.LockTimeout, fn)
}

// PrepareQuestions generates and stores the question set if the battle is
// still waiting without one, then auto-starts the room if it is already full.
func (r *Room) PrepareQuestions(ctx context.Context) error {
	b, err := r.d.Battles.GetByID(ctx, r.id)
	if err != nil {
		return err
	}
	if b.Status != model.BattleWaiting || b.QuestionsReady {
		return nil
	}
	if r.d.Questions == nil {
		return model.ErrQuestionsPending
	}

	genCtx, cancel := context.WithTimeout(ctx, r.d.Rules.QuestionTimeout)
	defer cancel()

	questions, err := r.d.Questions.GenerateQuestions(genCtx, QuestionSpec{
		ExamType:   b.ExamType,
		Subject:    b.Subject,
		Topics:     b.Topics,
		Difficulty: b.Difficulty,
		Count:      b.QuestionsCount,
	})
	if err != nil {
		return fmt.Errorf("failed to generate questions: %w", err)
	}
	if len(questions) == 0 {
		return model.ErrQuestionsPending
	}

	return r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			battles := r.d.Battles.WithTx(tx)
			b, err := battles.GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if b.Status != model.BattleWaiting || b.QuestionsReady {
				return nil
			}
			if err := battles.ReplaceQuestions(ctx, r.id, questions); err != nil {
				return err
			}
			b.QuestionsReady = true

			batch.OnCommit(func() {
				log.Info().Str("battle_id", r.id.String()).Int("questions", len(questions)).Msg("Battle questions ready")
			})

			if !b.AutoStart {
				return nil
			}
			counts, err := battles.TeamCounts(ctx, r.id)
			if err != nil {
				return err
			}
			if seated(counts) < b.MaxParticipants {
				return nil
			}
			return r.startTx(ctx, tx, batch, b)
		})
	})
}

// Join seats playerID, charging the entry fee in the same transaction.
func (r *Room) Join(ctx context.Context, playerID int64) (*JoinResult, error) {
	var result *JoinResult
	err := r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			battles := r.d.Battles.WithTx(tx)

			b, err := battles.GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			joined, err := battles.IsParticipant(ctx, r.id, playerID)
			if err != nil {
				return err
			}
			if joined {
				return model.ErrAlreadyJoined
			}
			if b.Status != model.BattleWaiting {
				return model.ErrNotJoinable
			}

			counts, err := battles.TeamCounts(ctx, r.id)
			if err != nil {
				return err
			}
			if seated(counts) >= b.MaxParticipants {
				return model.ErrFull
			}

			balance, err := r.d.Currency.Debit(ctx, tx, playerID, b.EntryFee, model.TxTypeEntryFee,
				fmt.Sprintf("Entry fee for battle %s", b.ID))
			if err != nil {
				return err
			}

			team := AssignTeam(counts, r.layout.Teams)
			p, err := battles.AddParticipant(ctx, r.id, playerID, team)
			if err != nil {
				return err
			}
			counts[team]++

			result = &JoinResult{Participant: p, Balance: balance}

			batch.Add(notify.Event{
				Type:       notify.EventBattleJoined,
				PlayerID:   playerID,
				BattleID:   r.id,
				Recipients: []int64{playerID},
				Message:    fmt.Sprintf("You joined %s (%d/%d).", b.Title, seated(counts), b.MaxParticipants),
				Data:       map[string]any{"seats": seated(counts), "max_participants": b.MaxParticipants, "entry_fee": b.EntryFee},
			})
			batch.Add(notify.Event{
				Type:       notify.EventTeamAssigned,
				PlayerID:   playerID,
				BattleID:   r.id,
				Recipients: []int64{playerID},
				Message:    fmt.Sprintf("You are on team %d.", team+1),
				Data:       map[string]any{"team": team, "team_sizes": TeamSizes(counts, r.layout.Teams)},
			})
			batch.OnCommit(func() {
				log.Info().
					Str("battle_id", r.id.String()).
					Int64("player_id", playerID).
					Int("team", team).
					Int64("entry_fee", b.EntryFee).
					Msg("Player joined battle")
			})

			if b.AutoStart && b.QuestionsReady && seated(counts) == b.MaxParticipants {
				if err := r.startTx(ctx, tx, batch, b); err != nil {
					return err
				}
				result.Started = true
			}
			return nil
		})
	})

	r.d.Metrics.JoinOutcome(joinOutcome(err))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func joinOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, model.ErrFull):
		return "full"
	case errors.Is(err, model.ErrNotJoinable):
		return "not_joinable"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, lock.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}

func seated(counts map[int]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// Start is the creator's manual start of a waiting battle.
func (r *Room) Start(ctx context.Context, playerID int64) error {
	return r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			battles := r.d.Battles.WithTx(tx)

			b, err := battles.GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if b.CreatedBy != playerID {
				return model.ErrNotCreator
			}
			if b.Status != model.BattleWaiting {
				return model.ErrNotWaiting
			}
			counts, err := battles.TeamCounts(ctx, r.id)
			if err != nil {
				return err
			}
			if seated(counts) < 2 {
				return model.ErrNotEnoughPlayers
			}
			if !b.QuestionsReady {
				return model.ErrQuestionsPending
			}
			return r.startTx(ctx, tx, batch, b)
		})
	})
}

func (r *Room) startTx(ctx context.Context, tx pgx.Tx, batch *notify.Batch, b *model.Battle) error {
	if err := r.transition(ctx, tx, batch, b, model.BattleInProgress); err != nil {
		return err
	}

	audience, err := r.audience(ctx, tx)
	if err != nil {
		return err
	}
	batch.Add(notify.Event{
		Type:       notify.EventBattleStarted,
		BattleID:   r.id,
		Recipients: audience,
		Message:    fmt.Sprintf("%s has started! You have %d minutes.", b.Title, b.DurationMinutes),
		Data:       map[string]any{"duration_minutes": b.DurationMinutes, "questions": b.QuestionsCount},
	})
	return nil
}

// transition moves b to status under the battle row lock held by tx.
func (r *Room) transition(ctx context.Context, tx pgx.Tx, batch *notify.Batch, b *model.Battle, to model.BattleStatus) error {
	now := r.d.Now()
	ok, err := r.d.Battles.WithTx(tx).Transition(ctx, r.id, b.Status, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("battle %s left status %s concurrently", r.id, b.Status)
	}

	from := b.Status
	b.Status = to
	if to == model.BattleInProgress {
		b.StartedAt = &now
	} else {
		b.EndedAt = &now
	}

	batch.OnCommit(func() {
		r.d.Metrics.BattleTransition(string(to))
		log.Info().
			Str("battle_id", r.id.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Battle status changed")
	})
	return nil
}

// audience returns participant ids followed by spectator ids.
func (r *Room) audience(ctx context.Context, tx pgx.Tx) ([]int64, error) {
	battles := r.d.Battles.WithTx(tx)

	participants, err := battles.ListParticipants(ctx, r.id)
	if err != nil {
		return nil, err
	}
	spectators, err := battles.ListSpectatorIDs(ctx, r.id)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(participants)+len(spectators))
	for _, p := range participants {
		ids = append(ids, p.PlayerID)
	}
	return append(ids, spectators...), nil
}

// Submit records playerID's answers. The last submission completes the
// battle and judges it in the same transaction.
func (r *Room) Submit(ctx context.Context, playerID int64, answers []string) (*SubmitResult, error) {
	var result *SubmitResult
	err := r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			battles := r.d.Battles.WithTx(tx)

			b, err := battles.GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if _, err := battles.GetParticipant(ctx, r.id, playerID); err != nil {
				return err
			}
			if b.Status != model.BattleInProgress {
				return model.ErrNotInProgress
			}

			recorded, err := battles.RecordSubmission(ctx, r.id, playerID, answers, r.d.Now())
			if err != nil {
				return err
			}
			if !recorded {
				return model.ErrAlreadySubmitted
			}

			participants, err := battles.ListParticipants(ctx, r.id)
			if err != nil {
				return err
			}
			submitted := 0
			for _, p := range participants {
				if p.HasSubmitted() {
					submitted++
				}
			}

			batch.Add(notify.Event{
				Type:       notify.EventAnswerSubmitted,
				PlayerID:   playerID,
				BattleID:   r.id,
				Recipients: []int64{playerID},
				Message:    fmt.Sprintf("Answers received (%d/%d submitted).", submitted, len(participants)),
				Data:       map[string]any{"submitted": submitted, "participants": len(participants)},
			})

			result = &SubmitResult{}
			if submitted < len(participants) {
				return nil
			}

			if err := r.transition(ctx, tx, batch, b, model.BattleCompleted); err != nil {
				return err
			}
			outcome, err := r.judgeTx(ctx, tx, batch, b)
			if err != nil {
				return err
			}
			result.Completed = true
			result.Outcome = outcome
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Finish completes an in-progress battle whose time is up. Players who never
// submitted score zero.
func (r *Room) Finish(ctx context.Context) (*Outcome, error) {
	var outcome *Outcome
	err := r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			b, err := r.d.Battles.WithTx(tx).GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if b.Status != model.BattleInProgress {
				return model.ErrNotInProgress
			}
			if err := r.transition(ctx, tx, batch, b, model.BattleCompleted); err != nil {
				return err
			}
			outcome, err = r.judgeTx(ctx, tx, batch, b)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Judge pays out a completed battle that was never judged. It returns a nil
// outcome when the battle was already judged.
func (r *Room) Judge(ctx context.Context) (*Outcome, error) {
	var outcome *Outcome
	err := r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			b, err := r.d.Battles.WithTx(tx).GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if b.Status != model.BattleCompleted {
				return model.ErrNotCompleted
			}
			outcome, err = r.judgeTx(ctx, tx, batch, b)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// judgeTx scores every participant, marks the battle judged and pays XP,
// achievements and the prize pool. The caller holds the battle row lock;
// judged_at makes the whole step run at most once.
func (r *Room) judgeTx(ctx context.Context, tx pgx.Tx, batch *notify.Batch, b *model.Battle) (*Outcome, error) {
	if b.JudgedAt != nil {
		return nil, nil
	}
	battles := r.d.Battles.WithTx(tx)

	questions, err := battles.GetQuestions(ctx, r.id)
	if err != nil {
		return nil, err
	}
	participants, err := battles.ListParticipants(ctx, r.id)
	if err != nil {
		return nil, err
	}

	standings := make([]Standing, 0, len(participants))
	answered := make(map[int64]int64, len(participants))
	for _, p := range participants {
		score := ScoreAnswers(questions, p.Answers, r.d.Rules.Scoring)
		if err := battles.SetScore(ctx, r.id, p.PlayerID, score); err != nil {
			return nil, err
		}
		standings = append(standings, Standing{
			PlayerID:    p.PlayerID,
			Team:        p.Team,
			Score:       score,
			SubmittedAt: p.SubmittedAt,
		})
		answered[p.PlayerID] = countAnswered(p.Answers)
	}

	ranked := Rank(standings)
	var winnerID *int64
	if len(ranked) > 0 {
		id := ranked[0].PlayerID
		winnerID = &id
	}

	now := r.d.Now()
	ok, err := battles.MarkJudged(ctx, r.id, winnerID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	b.WinnerID = winnerID
	b.JudgedAt = &now

	outcome := &Outcome{
		BattleID:      r.id,
		WinnerID:      winnerID,
		Standings:     ranked,
		TeamTotals:    TeamTotals(standings, r.layout.Teams),
		WinnerXP:      Share(b.RewardPoints, *r.d.Rules.WinnerShare),
		ParticipantXP: Share(b.RewardPoints, *r.d.Rules.ParticipantShare),
		PrizePool:     b.PrizePool,
	}

	ids := make([]int64, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.PlayerID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > 0 {
		if _, err := r.d.Players.WithTx(tx).LockMany(ctx, ids); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		won := winnerID != nil && *winnerID == id
		xp := outcome.ParticipantXP
		if won {
			xp = outcome.WinnerXP
		}
		if _, err := r.d.Ledger.AddXpTx(ctx, tx, batch, id, xp); err != nil {
			return nil, err
		}
		if err := r.trackAchievement(ctx, tx, batch, id, model.AchievementBattlesPlayed); err != nil {
			return nil, err
		}
		if won {
			if err := r.trackAchievement(ctx, tx, batch, id, model.AchievementBattleWins); err != nil {
				return nil, err
			}
			if _, err := r.d.Currency.Credit(ctx, tx, id, b.PrizePool, model.TxTypePrizePool,
				fmt.Sprintf("Prize pool of battle %s", b.ID)); err != nil {
				return nil, err
			}
		}
		if err := r.trackGoals(ctx, tx, id, answered[id]); err != nil {
			return nil, err
		}
	}

	audience, err := r.audience(ctx, tx)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("%s is over. No winner.", b.Title)
	data := map[string]any{"team_totals": outcome.TeamTotals, "prize_pool": b.PrizePool}
	if winnerID != nil {
		msg = fmt.Sprintf("%s is over! Winner: player %d with %d points.", b.Title, *winnerID, ranked[0].Score)
		data["winner_id"] = *winnerID
		data["winner_score"] = ranked[0].Score
	}
	batch.Add(notify.Event{
		Type:       notify.EventBattleCompleted,
		BattleID:   r.id,
		Recipients: audience,
		Broadcast:  true,
		Message:    msg,
		Data:       data,
	})
	batch.OnCommit(func() {
		ev := log.Info().Str("battle_id", r.id.String()).Int("participants", len(ids)).Int64("prize_pool", b.PrizePool)
		if winnerID != nil {
			ev = ev.Int64("winner_id", *winnerID)
		}
		ev.Msg("Battle judged")
	})

	return outcome, nil
}

func countAnswered(answers []string) int64 {
	var n int64
	for _, a := range answers {
		if strings.TrimSpace(a) != "" {
			n++
		}
	}
	return n
}

// trackAchievement advances a battle achievement. A missing definition is
// logged and skipped so that payouts never depend on seed data.
func (r *Room) trackAchievement(ctx context.Context, tx pgx.Tx, batch *notify.Batch, playerID int64, name string) error {
	if r.d.Achievements == nil {
		return nil
	}
	_, err := r.d.Achievements.IncrementProgressTx(ctx, tx, batch, playerID, name, 1)
	if errors.Is(err, model.ErrAchievementUnknown) {
		log.Warn().Str("achievement", name).Msg("Achievement not defined, skipping")
		return nil
	}
	return err
}

func (r *Room) trackGoals(ctx context.Context, tx pgx.Tx, playerID, answered int64) error {
	if r.d.Streaks == nil {
		return nil
	}
	day := r.d.Streaks.Today()
	goals := []struct {
		description string
		amount      int64
	}{
		{model.GoalPlayBattle, 1},
		{model.GoalAnswerQuestions, answered},
	}
	for _, g := range goals {
		_, err := r.d.Streaks.UpdateGoalProgressTx(ctx, tx, playerID, g.description, g.amount, day)
		if errors.Is(err, model.ErrGoalUnknown) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Spectate adds playerID as a viewer.
func (r *Room) Spectate(ctx context.Context, playerID int64) error {
	return r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			battles := r.d.Battles.WithTx(tx)

			b, err := battles.GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if !b.SpectatorMode {
				return model.ErrSpectatingDisabled
			}
			if b.Status != model.BattleWaiting && b.Status != model.BattleInProgress {
				return model.ErrNotSpectatable
			}
			if _, err := r.d.Players.WithTx(tx).GetByID(ctx, playerID); err != nil {
				return err
			}
			joined, err := battles.IsParticipant(ctx, r.id, playerID)
			if err != nil {
				return err
			}
			if joined {
				return model.ErrAlreadyJoined
			}
			if _, err := battles.AddSpectator(ctx, r.id, playerID); err != nil {
				return err
			}

			batch.Add(notify.Event{
				Type:       notify.EventSpectatorJoined,
				PlayerID:   playerID,
				BattleID:   r.id,
				Recipients: []int64{playerID},
				Message:    fmt.Sprintf("You are now watching %s.", b.Title),
			})
			return nil
		})
	})
}

// Cancel is the creator's cancellation of a waiting battle. Every entry fee
// is refunded in the same transaction.
func (r *Room) Cancel(ctx context.Context, playerID int64) error {
	return r.cancel(ctx, &playerID, "cancelled by its creator")
}

// Expire cancels a waiting battle on behalf of the system.
func (r *Room) Expire(ctx context.Context) error {
	return r.cancel(ctx, nil, "expired before it started")
}

func (r *Room) cancel(ctx context.Context, by *int64, reason string) error {
	return r.locked(ctx, func() error {
		return service.RunTx(ctx, r.d.Pool, r.d.Notifier, func(tx pgx.Tx, batch *notify.Batch) error {
			battles := r.d.Battles.WithTx(tx)

			b, err := battles.GetForUpdate(ctx, r.id)
			if err != nil {
				return err
			}
			if by != nil && b.CreatedBy != *by {
				return model.ErrNotCreator
			}
			if b.Status != model.BattleWaiting {
				return model.ErrNotWaiting
			}

			audience, err := r.audience(ctx, tx)
			if err != nil {
				return err
			}
			participants, err := battles.ListParticipants(ctx, r.id)
			if err != nil {
				return err
			}
			if err := r.transition(ctx, tx, batch, b, model.BattleCancelled); err != nil {
				return err
			}

			sort.Slice(participants, func(i, j int) bool { return participants[i].PlayerID < participants[j].PlayerID })
			for _, p := range participants {
				if _, err := r.d.Currency.Credit(ctx, tx, p.PlayerID, b.EntryFee, model.TxTypeEntryRefund,
					fmt.Sprintf("Refund for battle %s", b.ID)); err != nil {
					return err
				}
			}

			batch.Add(notify.Event{
				Type:       notify.EventBattleCancelled,
				BattleID:   r.id,
				Recipients: audience,
				Broadcast:  true,
				Message:    fmt.Sprintf("%s was %s. Entry fees have been refunded.", b.Title, reason),
				Data:       map[string]any{"refunded": len(participants), "entry_fee": b.EntryFee},
			})
			return nil
		})
	})
}
