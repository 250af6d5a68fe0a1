// Package notify carries domain events from the engine to players. Events are
// collected while a transaction runs and handed to a Notifier only after it
// commits, so a rolled-back operation never announces anything.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a domain event.
type EventType string

const (
	EventLevelUp              EventType = "level_up"
	EventRankChange           EventType = "rank_change"
	EventAchievementProgress  EventType = "achievement_progress"
	EventAchievementCompleted EventType = "achievement_completed"
	EventStreakUpdate         EventType = "streak_update"
	EventDailyRewardClaimed   EventType = "daily_reward_claimed"

	EventBattleCreated   EventType = "battle_created"
	EventBattleJoined    EventType = "battle_joined"
	EventTeamAssigned    EventType = "team_assigned"
	EventBattleStarted   EventType = "battle_started"
	EventAnswerSubmitted EventType = "answer_submitted"
	EventBattleCompleted EventType = "battle_completed"
	EventBattleCancelled EventType = "battle_cancelled"
	EventSpectatorJoined EventType = "spectator_joined"
)

// Event is one notification. Recipients lists the players it is addressed to;
// Broadcast marks events that also go to the public announcement channel.
type Event struct {
	Type       EventType
	PlayerID   int64
	BattleID   uuid.UUID
	Recipients []int64
	Broadcast  bool
	Message    string
	Data       map[string]any
	At         time.Time
}

// Notifier delivers events. Delivery is fire-and-forget: implementations must
// not block callers for long and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) {}

// Batch collects events produced inside a transaction, together with hooks
// that must only run once it has committed.
type Batch struct {
	events []Event
	hooks  []func()
}

// OnCommit registers fn to run at Flush, before the events are sent.
func (b *Batch) OnCommit(fn func()) {
	b.hooks = append(b.hooks, fn)
}

// Add appends an event, stamping it if needed.
func (b *Batch) Add(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.events = append(b.events, e)
}

// Events returns the collected events in order.
func (b *Batch) Events() []Event {
	return b.events
}

// Len returns the number of collected events.
func (b *Batch) Len() int {
	return len(b.events)
}

// Flush runs the commit hooks, sends every collected event to n in order and
// empties the batch. Call it only after the transaction committed.
func (b *Batch) Flush(ctx context.Context, n Notifier) {
	for _, fn := range b.hooks {
		fn()
	}
	if n != nil {
		for _, e := range b.events {
			n.Notify(ctx, e)
		}
	}
	b.events = nil
	b.hooks = nil
}

// Discard drops everything collected, for a transaction that rolled back.
func (b *Batch) Discard() {
	b.events = nil
	b.hooks = nil
}

// Recorder is a Notifier that keeps every event, for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify records e.
func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
