package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink performs the actual delivery of one event.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// OnDrop is called for every event discarded because the queue was full
	// or the dispatcher was stopped.
	OnDrop func(e Event)
	// OnError is called when the sink fails to deliver an event.
	OnError func(e Event, err error)
}

// Dispatcher is a Notifier backed by a bounded queue and a worker pool.
// Notify never blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sink    Sink
	cfg     DispatcherConfig
	queue   chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &Dispatcher{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueSize),
		stop:  make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	log.Info().
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Msg("Notification dispatcher started")

	return d
}

// Notify queues e for delivery.
func (d *Dispatcher) Notify(_ context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(e, "dispatcher stopped")
		return
	}

	select {
	case d.queue <- e:
	default:
		d.drop(e, "queue full")
	}
}

func (d *Dispatcher) drop(e Event, reason string) {
	log.Warn().
		Str("type", string(e.Type)).
		Int64("player_id", e.PlayerID).
		Str("reason", reason).
		Msg("Notification dropped")
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(e)
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-d.stop:
			// drain what is already queued
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	if err := d.sink.Send(ctx, e); err != nil {
		log.Warn().Err(err).
			Str("type", string(e.Type)).
			Int64("player_id", e.PlayerID).
			Msg("Notification delivery failed")
		if d.cfg.OnError != nil {
			d.cfg.OnError(e, err)
		}
	}
}

// Stop stops accepting events, delivers what is queued and waits for the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
	log.Info().Msg("Notification dispatcher stopped")
}
