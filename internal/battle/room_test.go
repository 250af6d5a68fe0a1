package battle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlezone/internal/config"
	"battlezone/internal/model"
	"battlezone/internal/notify"
	"battlezone/internal/pkg/testdb"
	"battlezone/internal/repository"
	"battlezone/internal/service"
)

// fakeQuestions answers every question with "a" and can be switched to fail.
type fakeQuestions struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeQuestions) GenerateQuestions(_ context.Context, req QuestionSpec) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("generator offline")
	}
	qs := make([]model.Question, req.Count)
	for i := range qs {
		qs[i] = model.Question{Text: "q", Options: []string{"a", "b"}, CorrectAnswer: "a", Marks: 1, TimeLimitSeconds: 30}
	}
	return qs, nil
}

func (f *fakeQuestions) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type engine struct {
	pool      *pgxpool.Pool
	orch      *Orchestrator
	players   *repository.PlayerRepository
	achieve   *repository.AchievementRepository
	questions *fakeQuestions
	events    *notify.Recorder
}

func newEngine(t *testing.T) *engine {
	pool := testdb.Setup(t)

	events := &notify.Recorder{}
	players := repository.NewPlayerRepository(pool)
	txs := repository.NewTransactionRepository(pool)
	achievements := repository.NewAchievementRepository(pool)
	streaks := repository.NewStreakRepository(pool)

	ledger := service.NewLedger(pool, players, events, nil)
	questions := &fakeQuestions{}

	orch := NewOrchestrator(Deps{
		Pool:         pool,
		Battles:      repository.NewBattleRepository(pool),
		Players:      players,
		Currency:     service.NewCurrency(players, txs),
		Ledger:       ledger,
		Achievements: service.NewAchievementTracker(pool, achievements, ledger, events, nil),
		Streaks:      service.NewStreakTracker(pool, players, streaks, ledger, events, nil, service.StreakConfig{}),
		Questions:    questions,
		Notifier:     events,
		Rules: Rules{
			MinDuration:     5,
			MaxDuration:     60,
			MaxParticipants: 16,
			AutoStart:       true,
		},
	})

	return &engine{pool: pool, orch: orch, players: players, achieve: achievements, questions: questions, events: events}
}

func (e *engine) player(t *testing.T, id, balance int64) {
	testdb.CreatePlayer(t, e.pool, id, balance)
}

func (e *engine) get(t *testing.T, id int64) *model.Player {
	p, err := e.players.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func oneVsOne(creator int64) Config {
	return Config{
		Type:            "1v1",
		EntryFee:        10,
		PrizePool:       20,
		RewardPoints:    100,
		QuestionsCount:  2,
		DurationMinutes: 10,
		Subject:         "Biology",
		Topics:          []string{"cells"},
		SpectatorMode:   true,
		CreatedBy:       creator,
	}
}

func TestCreateValidation(t *testing.T) {
	rules := Rules{MinDuration: 5, MaxDuration: 60, MaxParticipants: 8}.withDefaults()

	cases := map[string]Config{
		"bad type":       {Type: "solo", DurationMinutes: 10, Topics: []string{"x"}, QuestionsCount: 1},
		"one seat":       {Type: "1v1", MaxParticipants: 1, DurationMinutes: 10, Topics: []string{"x"}, QuestionsCount: 1},
		"too many seats": {Type: "1v1", MaxParticipants: 9, DurationMinutes: 10, Topics: []string{"x"}, QuestionsCount: 1},
		"seats < teams":  {Type: "1v1v1", MaxParticipants: 2, DurationMinutes: 10, Topics: []string{"x"}, QuestionsCount: 1},
		"too short":      {Type: "1v1", DurationMinutes: 4, Topics: []string{"x"}, QuestionsCount: 1},
		"too long":       {Type: "1v1", DurationMinutes: 61, Topics: []string{"x"}, QuestionsCount: 1},
		"no topics":      {Type: "1v1", DurationMinutes: 10, Topics: []string{" "}, QuestionsCount: 1},
		"no questions":   {Type: "1v1", DurationMinutes: 10, Topics: []string{"x"}},
		"negative fee":   {Type: "1v1", DurationMinutes: 10, Topics: []string{"x"}, QuestionsCount: 1, EntryFee: -1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := validate(cfg, rules)
			assert.ErrorIs(t, err, model.ErrInvalidConfig)
			var ce *model.ConfigError
			assert.True(t, errors.As(err, &ce))
		})
	}

	b, layout, err := validate(Config{Type: "2v2", DurationMinutes: 10, Topics: []string{"x"}, QuestionsCount: 3}, rules)
	require.NoError(t, err)
	assert.Equal(t, 4, b.MaxParticipants)
	assert.Equal(t, Layout{Teams: 2, TeamSize: 2}, layout)
	assert.Equal(t, model.BattleWaiting, b.Status)
}

// 1v1 with entry 10, pool 20 and 100 reward points: the better player gets
// 70 XP and the pool, the other 10 XP.
func TestOneVsOnePayout(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	assert.True(t, b.QuestionsReady)

	_, err = e.orch.Join(ctx, b.ID, 1)
	require.NoError(t, err)
	res, err := e.orch.Join(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Equal(t, int64(90), res.Balance)

	sub, err := e.orch.Submit(ctx, b.ID, 2, []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, sub.Completed)

	sub, err = e.orch.Submit(ctx, b.ID, 1, []string{"a", "a"})
	require.NoError(t, err)
	require.True(t, sub.Completed)
	require.NotNil(t, sub.Outcome.WinnerID)
	assert.Equal(t, int64(1), *sub.Outcome.WinnerID)
	assert.Equal(t, int64(70), sub.Outcome.WinnerXP)
	assert.Equal(t, int64(10), sub.Outcome.ParticipantXP)

	winner := e.get(t, 1)
	loser := e.get(t, 2)
	assert.Equal(t, int64(70), winner.CurrentXP)
	assert.Equal(t, int64(110), winner.Balance)
	assert.Equal(t, int64(10), loser.CurrentXP)
	assert.Equal(t, int64(90), loser.Balance)

	final, err := e.orch.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleCompleted, final.Status)
	assert.NotNil(t, final.JudgedAt)
	assert.NotNil(t, final.EndedAt)

	list, err := e.achieve.ListForPlayer(ctx, 1)
	require.NoError(t, err)
	progress := map[string]int64{}
	for _, pa := range list {
		progress[pa.Name] = pa.Progress
	}
	assert.Equal(t, int64(1), progress[model.AchievementBattlesPlayed])
	assert.Equal(t, int64(1), progress[model.AchievementBattleWins])

	assert.Len(t, e.events.OfType(notify.EventBattleCompleted), 1)
	assert.Len(t, e.events.OfType(notify.EventBattleStarted), 1)
}

func TestPayoutExactlyOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		_, err := e.orch.Join(ctx, b.ID, id)
		require.NoError(t, err)
	}
	_, err = e.orch.Submit(ctx, b.ID, 1, []string{"a", "a"})
	require.NoError(t, err)
	_, err = e.orch.Submit(ctx, b.ID, 2, []string{"b", "b"})
	require.NoError(t, err)

	before := e.get(t, 1)

	outcome, err := e.orch.Judge(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, outcome)

	n, err := e.orch.ResumeJudging(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = e.orch.Finish(ctx, b.ID)
	assert.ErrorIs(t, err, model.ErrNotInProgress)

	_, err = e.orch.Submit(ctx, b.ID, 1, []string{"a", "a"})
	assert.ErrorIs(t, err, model.ErrNotInProgress)

	after := e.get(t, 1)
	assert.Equal(t, before.CurrentXP, after.CurrentXP)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Len(t, e.events.OfType(notify.EventBattleCompleted), 1)
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	const contenders = 12
	for id := int64(1); id <= contenders; id++ {
		e.player(t, id, 50)
	}

	noAuto := false
	cfg := oneVsOne(1)
	cfg.Type = "2v2"
	cfg.AutoStart = &noAuto
	b, err := e.orch.Create(ctx, cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.orch.Join(ctx, b.ID, int64(i+1))
		}(i)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		if err == nil {
			joined++
			continue
		}
		assert.ErrorIs(t, err, model.ErrFull)
	}
	assert.Equal(t, 4, joined)

	sum, err := e.orch.Summary(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Participants)
	assert.Equal(t, 0, sum.SeatsLeft)
	assert.Equal(t, []int{2, 2}, sum.TeamSizes)
	assert.False(t, sum.Joinable)

	var debited int
	for id := int64(1); id <= contenders; id++ {
		if e.get(t, id).Balance == 40 {
			debited++
		}
	}
	assert.Equal(t, 4, debited, "only seated players pay the entry fee")
}

func TestConcurrentJoinsBySamePlayerSeatOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)

	noAuto := false
	cfg := oneVsOne(1)
	cfg.Type = "2v2"
	cfg.AutoStart = &noAuto
	b, err := e.orch.Create(ctx, cfg)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.orch.Join(ctx, b.ID, 1)
		}(i)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		if err == nil {
			joined++
			continue
		}
		assert.ErrorIs(t, err, model.ErrAlreadyJoined)
	}
	assert.Equal(t, 1, joined)

	parts, err := e.orch.Participants(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 1)
	assert.Equal(t, int64(90), e.get(t, 1).Balance, "entry fee is debited once")
	assert.Len(t, e.events.OfType(notify.EventBattleJoined), 1)
}

// The last submission and the timer both try to complete the battle; only
// one of them may judge and pay.
func TestLastSubmitRacingFinishPaysOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	const rounds = 5
	for round := int64(0); round < rounds; round++ {
		first, second := round*10+1, round*10+2
		e.player(t, first, 100)
		e.player(t, second, 100)

		b, err := e.orch.Create(ctx, oneVsOne(first))
		require.NoError(t, err)
		_, err = e.orch.Join(ctx, b.ID, first)
		require.NoError(t, err)
		res, err := e.orch.Join(ctx, b.ID, second)
		require.NoError(t, err)
		require.True(t, res.Started)

		// second wins whichever path completes the battle
		_, err = e.orch.Submit(ctx, b.ID, second, []string{"a", "a"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var submitErr, finishErr, resumeErr error
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, submitErr = e.orch.Submit(ctx, b.ID, first, []string{"b", "b"})
		}()
		go func() {
			defer wg.Done()
			_, finishErr = e.orch.Finish(ctx, b.ID)
		}()
		go func() {
			defer wg.Done()
			_, resumeErr = e.orch.ResumeJudging(ctx, 10)
		}()
		wg.Wait()

		if submitErr != nil {
			assert.ErrorIs(t, submitErr, model.ErrNotInProgress)
		}
		if finishErr != nil {
			assert.ErrorIs(t, finishErr, model.ErrNotInProgress)
		}
		assert.NoError(t, resumeErr)

		final, err := e.orch.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BattleCompleted, final.Status)
		require.NotNil(t, final.WinnerID)
		assert.Equal(t, second, *final.WinnerID)

		winner := e.get(t, second)
		assert.Equal(t, int64(110), winner.Balance, "prize pool credited once")
		assert.Equal(t, int64(70), winner.CurrentXP)
		assert.Equal(t, int64(10), e.get(t, first).CurrentXP)

		completed := 0
		for _, ev := range e.events.OfType(notify.EventBattleCompleted) {
			if ev.BattleID == b.ID {
				completed++
			}
		}
		assert.Equal(t, 1, completed)
	}
}

func TestRulesAllowZeroShares(t *testing.T) {
	rules, err := RulesFromConfig(&config.BattleConfig{ScoringRule: "exact", WinnerShare: 0.7, ParticipantShare: 0})
	require.NoError(t, err)
	rules = rules.withDefaults()
	assert.InDelta(t, 0.7, *rules.WinnerShare, 1e-9)
	assert.Zero(t, *rules.ParticipantShare)
	assert.Zero(t, Share(100, *rules.ParticipantShare))

	defaults := Rules{}.withDefaults()
	assert.InDelta(t, 0.7, *defaults.WinnerShare, 1e-9)
	assert.InDelta(t, 0.1, *defaults.ParticipantShare, 1e-9)

	_, err = RulesFromConfig(&config.BattleConfig{WinnerShare: 1.5})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	_, err = RulesFromConfig(&config.BattleConfig{WinnerShare: 0.7, ParticipantShare: -0.1})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestJoinRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 5)

	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)

	_, err = e.orch.Join(ctx, b.ID, 1)
	require.NoError(t, err)
	_, err = e.orch.Join(ctx, b.ID, 1)
	assert.ErrorIs(t, err, model.ErrAlreadyJoined)

	_, err = e.orch.Join(ctx, b.ID, 2)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	var ife *model.InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, int64(10), ife.Required)
	assert.Equal(t, int64(5), ife.Available)
	assert.Equal(t, int64(5), e.get(t, 2).Balance)

	parts, err := e.orch.Participants(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	_, err = e.orch.Join(ctx, b.ID, 404)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSpectateRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)
	e.player(t, 3, 100)

	closed := oneVsOne(1)
	closed.SpectatorMode = false
	nb, err := e.orch.Create(ctx, closed)
	require.NoError(t, err)
	assert.ErrorIs(t, e.orch.Spectate(ctx, nb.ID, 3), model.ErrSpectatingDisabled)

	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	_, err = e.orch.Join(ctx, b.ID, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, e.orch.Spectate(ctx, b.ID, 1), model.ErrAlreadyJoined)
	assert.ErrorIs(t, e.orch.Spectate(ctx, b.ID, 404), model.ErrNotFound)
	require.NoError(t, e.orch.Spectate(ctx, b.ID, 3))
	assert.ErrorIs(t, e.orch.Spectate(ctx, b.ID, 3), model.ErrAlreadySpectating)

	require.NoError(t, e.orch.Cancel(ctx, b.ID, 1))
	assert.ErrorIs(t, e.orch.Spectate(ctx, b.ID, 2), model.ErrNotSpectatable)

	cancelled := e.events.OfType(notify.EventBattleCancelled)
	require.Len(t, cancelled, 1)
	assert.ElementsMatch(t, []int64{1, 3}, cancelled[0].Recipients)
}

func TestCancelRefunds(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	noAuto := false
	cfg := oneVsOne(1)
	cfg.AutoStart = &noAuto
	b, err := e.orch.Create(ctx, cfg)
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		_, err := e.orch.Join(ctx, b.ID, id)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(90), e.get(t, 2).Balance)

	assert.ErrorIs(t, e.orch.Cancel(ctx, b.ID, 2), model.ErrNotCreator)
	require.NoError(t, e.orch.Cancel(ctx, b.ID, 1))

	assert.Equal(t, int64(100), e.get(t, 1).Balance)
	assert.Equal(t, int64(100), e.get(t, 2).Balance)

	_, err = e.orch.Join(ctx, b.ID, 2)
	assert.ErrorIs(t, err, model.ErrAlreadyJoined)
	assert.ErrorIs(t, e.orch.Cancel(ctx, b.ID, 1), model.ErrNotWaiting)
	assert.ErrorIs(t, e.orch.Start(ctx, b.ID, 1), model.ErrNotWaiting)
}

func TestManualStart(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	noAuto := false
	cfg := oneVsOne(1)
	cfg.Type = "2v2"
	cfg.AutoStart = &noAuto
	b, err := e.orch.Create(ctx, cfg)
	require.NoError(t, err)

	_, err = e.orch.Join(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, e.orch.Start(ctx, b.ID, 1), model.ErrNotEnoughPlayers)

	_, err = e.orch.Join(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, e.orch.Start(ctx, b.ID, 2), model.ErrNotCreator)
	require.NoError(t, e.orch.Start(ctx, b.ID, 1))

	got, err := e.orch.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleInProgress, got.Status)
	assert.NotNil(t, got.StartedAt)

	qs, err := e.orch.Questions(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, qs, 2)
}

func TestPendingQuestionsBlockStartUntilRetry(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	e.questions.setFail(true)
	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	assert.False(t, b.QuestionsReady)

	for _, id := range []int64{1, 2} {
		res, err := e.orch.Join(ctx, b.ID, id)
		require.NoError(t, err)
		assert.False(t, res.Started)
	}
	assert.ErrorIs(t, e.orch.Start(ctx, b.ID, 1), model.ErrQuestionsPending)

	n, err := e.orch.RetryPendingQuestions(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.questions.setFail(false)
	n, err = e.orch.RetryPendingQuestions(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.orch.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.QuestionsReady)
	assert.Equal(t, model.BattleInProgress, got.Status, "a full auto-start room starts once questions arrive")
}

func TestFinishScoresMissingSubmissionsAsZero(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		_, err := e.orch.Join(ctx, b.ID, id)
		require.NoError(t, err)
	}
	_, err = e.orch.Submit(ctx, b.ID, 2, []string{"b", "b"})
	require.NoError(t, err)

	outcome, err := e.orch.Finish(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.WinnerID)
	// both scored zero; the submitter wins on time
	assert.Equal(t, int64(2), *outcome.WinnerID)
	assert.Equal(t, int64(110), e.get(t, 2).Balance)
}

func TestListViews(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)
	e.player(t, 2, 100)

	waiting, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	running, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		_, err := e.orch.Join(ctx, running.ID, id)
		require.NoError(t, err)
	}

	upcoming, err := e.orch.List(ctx, ViewUpcoming, 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, waiting.ID, upcoming[0].Battle.ID)
	assert.True(t, upcoming[0].Joinable)

	active, err := e.orch.List(ctx, ViewActive, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running.ID, active[0].Battle.ID)

	past, err := e.orch.List(ctx, ViewPast, 10)
	require.NoError(t, err)
	assert.Empty(t, past)

	_, err = ParseView("later")
	assert.Error(t, err)
}

func TestExpireLobbies(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.player(t, 1, 100)

	b, err := e.orch.Create(ctx, oneVsOne(1))
	require.NoError(t, err)
	_, err = e.orch.Join(ctx, b.ID, 1)
	require.NoError(t, err)

	e.orch.d.Now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	n, err := e.orch.ExpireLobbies(ctx, 2*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.orch.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BattleCancelled, got.Status)
	assert.Equal(t, int64(100), e.get(t, 1).Balance)
}
