// Package jobs runs the periodic battle maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"battlezone/internal/metrics"
)

// Engine is the maintenance surface of the battle orchestrator.
type Engine interface {
	ExpireLobbies(ctx context.Context, ttl time.Duration, limit int) (int, error)
	RetryPendingQuestions(ctx context.Context, limit int) (int, error)
	FinishOverdue(ctx context.Context, limit int) (int, error)
	ResumeJudging(ctx context.Context, limit int) (int, error)
}

// Config holds the job intervals.
type Config struct {
	LobbyTTL              time.Duration
	LobbyExpiryInterval   time.Duration
	QuestionRetryInterval time.Duration
	OverdueInterval       time.Duration
	JudgeInterval         time.Duration
	BatchSize             int
}

// Job names, also used as metric labels.
const (
	JobExpireLobbies  = "expire_lobbies"
	JobRetryQuestions = "retry_questions"
	JobFinishOverdue  = "finish_overdue"
	JobResumeJudging  = "resume_judging"
)

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	sched   gocron.Scheduler
	tasks   []task
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler registers every maintenance job. Jobs do not overlap with
// themselves; a slow run delays the next one.
func NewScheduler(engine Engine, cfg Config, m *metrics.Metrics) (*Scheduler, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, metrics: m, ctx: ctx, cancel: cancel}

	s.tasks = []task{
		{JobExpireLobbies, cfg.LobbyExpiryInterval, func(ctx context.Context) (int, error) {
			return engine.ExpireLobbies(ctx, cfg.LobbyTTL, cfg.BatchSize)
		}},
		{JobRetryQuestions, cfg.QuestionRetryInterval, func(ctx context.Context) (int, error) {
			return engine.RetryPendingQuestions(ctx, cfg.BatchSize)
		}},
		{JobFinishOverdue, cfg.OverdueInterval, func(ctx context.Context) (int, error) {
			return engine.FinishOverdue(ctx, cfg.BatchSize)
		}},
		{JobResumeJudging, cfg.JudgeInterval, func(ctx context.Context) (int, error) {
			return engine.ResumeJudging(ctx, cfg.BatchSize)
		}},
	}

	for _, t := range s.tasks {
		if t.interval <= 0 {
			log.Info().Str("job", t.name).Msg("Job disabled")
			continue
		}
		_, err := sched.NewJob(
			gocron.DurationJob(t.interval),
			gocron.NewTask(s.execute, t),
			gocron.WithName(t.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule %s: %w", t.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) execute(t task) {
	n, err := t.run(s.ctx)
	s.metrics.JobRun(t.name, err)
	if err != nil {
		log.Error().Err(err).Str("job", t.name).Msg("Job failed")
		return
	}
	if n > 0 {
		log.Info().Str("job", t.name).Int("affected", n).Msg("Job completed")
	}
}

// RunOnce runs every job synchronously, regardless of its interval.
func (s *Scheduler) RunOnce() {
	for _, t := range s.tasks {
		s.execute(t)
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop cancels running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.sched.Shutdown()
}
