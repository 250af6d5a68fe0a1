package battle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"battlezone/internal/model"
)

// View is a listing projection over battle status.
type View string

const (
	ViewActive   View = "active"   // in progress
	ViewUpcoming View = "upcoming" // waiting for players
	ViewPast     View = "past"     // completed or cancelled
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewActive, ViewUpcoming, ViewPast:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q: want active, upcoming or past", s)
	}
}

func (v View) statuses() []model.BattleStatus {
	switch v {
	case ViewActive:
		return []model.BattleStatus{model.BattleInProgress}
	case ViewUpcoming:
		return []model.BattleStatus{model.BattleWaiting}
	default:
		return []model.BattleStatus{model.BattleCompleted, model.BattleCancelled}
	}
}

// Summary is a battle with its capacity figures.
type Summary struct {
	Battle       *model.Battle `json:"battle"`
	Participants int           `json:"participants"`
	SeatsLeft    int           `json:"seats_left"`
	TeamSizes    []int         `json:"team_sizes"`
	Joinable     bool          `json:"joinable"`
}

// Orchestrator routes battle operations to their rooms.
type Orchestrator struct {
	d *Deps

	rooms map[uuid.UUID]*Room
	mu    sync.RWMutex
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{
		d:     d.withDefaults(),
		rooms: make(map[uuid.UUID]*Room),
	}
}

// Rules returns the effective battle rules.
func (o *Orchestrator) Rules() Rules {
	return o.d.Rules
}

// Create creates a battle and registers its room.
func (o *Orchestrator) Create(ctx context.Context, cfg Config) (*model.Battle, error) {
	room, b, err := create(ctx, o.d, cfg)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.rooms[room.id] = room
	o.mu.Unlock()

	return b, nil
}

// Room resolves a battle id to its room, loading it on first use.
func (o *Orchestrator) Room(ctx context.Context, id uuid.UUID) (*Room, error) {
	o.mu.RLock()
	room, ok := o.rooms[id]
	o.mu.RUnlock()
	if ok {
		return room, nil
	}

	b, err := o.d.Battles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	room, err = newRoom(b, o.d)
	if err != nil {
		return nil, err
	}
	if b.Status.IsFinal() {
		// not worth keeping; the keyed lock still serializes it
		return room, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.rooms[id]; ok {
		return existing, nil
	}
	o.rooms[id] = room
	return room, nil
}

func (o *Orchestrator) evict(id uuid.UUID) {
	o.mu.Lock()
	delete(o.rooms, id)
	o.mu.Unlock()
}

// Registered returns the number of rooms held in memory.
func (o *Orchestrator) Registered() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.rooms)
}

// Get returns a battle.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*model.Battle, error) {
	return o.d.Battles.GetByID(ctx, id)
}

// Participants returns the seats of a battle.
func (o *Orchestrator) Participants(ctx context.Context, id uuid.UUID) ([]*model.Participant, error) {
	return o.d.Battles.ListParticipants(ctx, id)
}

// Questions returns a battle's questions once it has started.
func (o *Orchestrator) Questions(ctx context.Context, id uuid.UUID) ([]model.Question, error) {
	b, err := o.d.Battles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BattleWaiting {
		return nil, model.ErrNotInProgress
	}
	return o.d.Battles.GetQuestions(ctx, id)
}

// Join routes to Room.Join.
func (o *Orchestrator) Join(ctx context.Context, id uuid.UUID, playerID int64) (*JoinResult, error) {
	room, err := o.Room(ctx, id)
	if err != nil {
		o.d.Metrics.JoinOutcome(joinOutcome(err))
		return nil, err
	}
	return room.Join(ctx, playerID)
}

// Start routes to Room.Start.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID, playerID int64) error {
	room, err := o.Room(ctx, id)
	if err != nil {
		return err
	}
	return room.Start(ctx, playerID)
}

// Submit routes to Room.Submit.
func (o *Orchestrator) Submit(ctx context.Context, id uuid.UUID, playerID int64, answers []string) (*SubmitResult, error) {
	room, err := o.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := room.Submit(ctx, playerID, answers)
	if err != nil {
		return nil, err
	}
	if result.Completed {
		o.evict(id)
	}
	return result, nil
}

// Spectate routes to Room.Spectate.
func (o *Orchestrator) Spectate(ctx context.Context, id uuid.UUID, playerID int64) error {
	room, err := o.Room(ctx, id)
	if err != nil {
		return err
	}
	return room.Spectate(ctx, playerID)
}

// Cancel routes to Room.Cancel.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, playerID int64) error {
	room, err := o.Room(ctx, id)
	if err != nil {
		return err
	}
	if err := room.Cancel(ctx, playerID); err != nil {
		return err
	}
	o.evict(id)
	return nil
}

// Finish routes to Room.Finish.
func (o *Orchestrator) Finish(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	room, err := o.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome, err := room.Finish(ctx)
	if err != nil {
		return nil, err
	}
	o.evict(id)
	return outcome, nil
}

// Judge routes to Room.Judge.
func (o *Orchestrator) Judge(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	room, err := o.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome, err := room.Judge(ctx)
	if err != nil {
		return nil, err
	}
	o.evict(id)
	return outcome, nil
}

// Summary returns one battle with its capacity figures.
func (o *Orchestrator) Summary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	b, err := o.d.Battles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.summarize(ctx, b)
}

func (o *Orchestrator) summarize(ctx context.Context, b *model.Battle) (*Summary, error) {
	layout, err := ParseLayout(b.Type)
	if err != nil {
		return nil, err
	}
	counts, err := o.d.Battles.TeamCounts(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	n := seated(counts)
	left := b.MaxParticipants - n
	if left < 0 {
		left = 0
	}
	return &Summary{
		Battle:       b,
		Participants: n,
		SeatsLeft:    left,
		TeamSizes:    TeamSizes(counts, layout.Teams),
		Joinable:     b.Status == model.BattleWaiting && left > 0,
	}, nil
}

// List returns summaries for one view. Past battles come newest first.
func (o *Orchestrator) List(ctx context.Context, view View, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	battles, err := o.d.Battles.List(ctx, view.statuses(), view == ViewPast, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*Summary, 0, len(battles))
	for _, b := range battles {
		s, err := o.summarize(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ExpireLobbies cancels and refunds waiting battles older than ttl.
func (o *Orchestrator) ExpireLobbies(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	stale, err := o.d.Battles.ListStaleLobbies(ctx, o.d.Now().Add(-ttl), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range stale {
		room, err := o.Room(ctx, b.ID)
		if err != nil {
			return expired, err
		}
		err = room.Expire(ctx)
		switch {
		case err == nil:
			expired++
			o.evict(b.ID)
		case errors.Is(err, model.ErrNotWaiting):
			// started meanwhile
		default:
			log.Error().Err(err).Str("battle_id", b.ID.String()).Msg("Failed to expire lobby")
		}
	}
	return expired, nil
}

// RetryPendingQuestions retries question generation for waiting battles
// that have none yet.
func (o *Orchestrator) RetryPendingQuestions(ctx context.Context, limit int) (int, error) {
	pending, err := o.d.Battles.ListPendingQuestions(ctx, limit)
	if err != nil {
		return 0, err
	}

	ready := 0
	for _, b := range pending {
		room, err := o.Room(ctx, b.ID)
		if err != nil {
			return ready, err
		}
		if err := room.PrepareQuestions(ctx); err != nil {
			log.Warn().Err(err).Str("battle_id", b.ID.String()).Msg("Questions still pending")
			continue
		}
		ready++
	}
	return ready, nil
}

// FinishOverdue completes in-progress battles whose duration has elapsed.
func (o *Orchestrator) FinishOverdue(ctx context.Context, limit int) (int, error) {
	overdue, err := o.d.Battles.ListOverdue(ctx, o.d.Now(), limit)
	if err != nil {
		return 0, err
	}

	finished := 0
	for _, b := range overdue {
		_, err := o.Finish(ctx, b.ID)
		switch {
		case err == nil:
			finished++
		case errors.Is(err, model.ErrNotInProgress):
			// completed by the last submission meanwhile
		default:
			log.Error().Err(err).Str("battle_id", b.ID.String()).Msg("Failed to finish overdue battle")
		}
	}
	return finished, nil
}

// ResumeJudging pays out completed battles left unjudged.
func (o *Orchestrator) ResumeJudging(ctx context.Context, limit int) (int, error) {
	unjudged, err := o.d.Battles.ListUnjudged(ctx, limit)
	if err != nil {
		return 0, err
	}

	judged := 0
	for _, b := range unjudged {
		outcome, err := o.Judge(ctx, b.ID)
		if err != nil {
			log.Error().Err(err).Str("battle_id", b.ID.String()).Msg("Failed to judge battle")
			continue
		}
		if outcome != nil {
			judged++
		}
	}
	return judged, nil
}
