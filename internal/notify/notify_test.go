package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
)

type countingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *countingSink) Send(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestBatchFlushPreservesOrder(t *testing.T) {
	var b Batch
	b.Add(Event{Type: EventLevelUp, PlayerID: 1})
	b.Add(Event{Type: EventRankChange, PlayerID: 1})
	require.Equal(t, 2, b.Len())

	rec := &Recorder{}
	b.Flush(context.Background(), rec)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventLevelUp, events[0].Type)
	assert.Equal(t, EventRankChange, events[1].Type)
	assert.False(t, events[0].At.IsZero())
	assert.Equal(t, 0, b.Len(), "flush empties the batch")
}

func TestDispatcherDeliversEverythingBeforeStop(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(sink, DispatcherConfig{Workers: 3, QueueSize: 100})

	for i := 0; i < 50; i++ {
		d.Notify(context.Background(), Event{Type: EventBattleJoined, PlayerID: int64(i)})
	}
	d.Stop()

	assert.Equal(t, 50, sink.count())
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sink := &countingSink{block: make(chan struct{})}
	var dropped atomic.Int32
	d := NewDispatcher(sink, DispatcherConfig{
		Workers:   1,
		QueueSize: 1,
		OnDrop:    func(Event) { dropped.Add(1) },
	})

	// One event parks in the worker, one fills the queue, the rest must drop.
	for i := 0; i < 10; i++ {
		d.Notify(context.Background(), Event{Type: EventBattleJoined})
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
	}

	close(sink.block)
	d.Stop()

	assert.Equal(t, int32(10), dropped.Load()+int32(sink.count()))
	assert.GreaterOrEqual(t, dropped.Load(), int32(7))
}

func TestDispatcherAfterStopDrops(t *testing.T) {
	sink := &countingSink{}
	var dropped atomic.Int32
	d := NewDispatcher(sink, DispatcherConfig{OnDrop: func(Event) { dropped.Add(1) }})
	d.Stop()
	d.Stop()

	d.Notify(context.Background(), Event{Type: EventLevelUp})
	assert.Equal(t, int32(1), dropped.Load())
	assert.Equal(t, 0, sink.count())
}

func TestDispatcherReportsSinkErrors(t *testing.T) {
	sink := &countingSink{err: errors.New("offline")}
	var failed atomic.Int32
	d := NewDispatcher(sink, DispatcherConfig{OnError: func(Event, error) { failed.Add(1) }})

	d.Notify(context.Background(), Event{Type: EventLevelUp})
	d.Stop()

	assert.Equal(t, int32(1), failed.Load())
}

type fakeSender struct {
	to   []tele.Recipient
	fail map[string]bool
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.to = append(f.to, to)
	if f.fail[to.Recipient()] {
		return nil, errors.New("blocked by user")
	}
	return &tele.Message{Text: what.(string)}, nil
}

func TestTelegramSinkSendsToRecipientsAndAnnounceChat(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"2": true}}
	sink := NewTelegramSink(sender, -100)

	err := sink.Send(context.Background(), Event{
		Type:       EventBattleCompleted,
		Recipients: []int64{1, 2},
		Broadcast:  true,
		Message:    "battle over",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send to 2")
	require.Len(t, sender.to, 3, "a failed recipient does not stop the others")
	assert.Equal(t, "-100", sender.to[2].Recipient())
}

func TestTelegramSinkSkipsEmptyMessages(t *testing.T) {
	sender := &fakeSender{}
	sink := NewTelegramSink(sender, 0)

	require.NoError(t, sink.Send(context.Background(), Event{Recipients: []int64{1}}))
	assert.Empty(t, sender.to)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &countingSink{}
	bad := &countingSink{err: errors.New("down")}

	err := MultiSink{ok, bad}.Send(context.Background(), Event{Type: EventLevelUp})

	assert.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())
}
