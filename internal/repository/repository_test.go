// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlezone/internal/model"
	"battlezone/internal/pkg/db"
	"battlezone/internal/pkg/testdb"
)

func newPlayer(id int64, balance int64) *model.Player {
	return &model.Player{
		ID:          id,
		Username:    "tester",
		Balance:     balance,
		Level:       1,
		NextLevelXP: 1000,
		RankTier:    "Bronze I",
	}
}

func TestPlayerRepository_CreateAndGet(t *testing.T) {
	pool := testdb.Setup(t)
	repo := NewPlayerRepository(pool)
	ctx := context.Background()

	p, err := repo.Create(ctx, newPlayer(1, 500))
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.Balance)
	assert.Equal(t, 1, p.Level)
	assert.Nil(t, p.LastStreakDate)

	_, err = repo.Create(ctx, newPlayer(1, 0))
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "tester", got.Username)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, model.ErrPlayerNotFound)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPlayerRepository_UpdateBalance(t *testing.T) {
	pool := testdb.Setup(t)
	repo := NewPlayerRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, newPlayer(1, 100))
	require.NoError(t, err)

	balance, err := repo.UpdateBalance(ctx, 1, -40)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	_, err = repo.UpdateBalance(ctx, 1, -61)
	assert.Error(t, err, "schema rejects negative balances")

	_, err = repo.UpdateBalance(ctx, 2, 10)
	assert.ErrorIs(t, err, model.ErrPlayerNotFound)
}

func TestPlayerRepository_ProgressionAndStreak(t *testing.T) {
	pool := testdb.Setup(t)
	repo := NewPlayerRepository(pool)
	ctx := context.Background()

	p, err := repo.Create(ctx, newPlayer(1, 0))
	require.NoError(t, err)

	p.Level, p.CurrentXP, p.NextLevelXP = 3, 120, 1210
	p.RankPoints, p.RankTier = 250, "Bronze III"
	require.NoError(t, repo.UpdateProgression(ctx, p))

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateStreak(ctx, 1, 4, day))

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Level)
	assert.Equal(t, int64(120), got.CurrentXP)
	assert.Equal(t, "Bronze III", got.RankTier)
	assert.Equal(t, 4, got.StreakDays)
	require.NotNil(t, got.LastStreakDate)
	assert.True(t, day.Equal(got.LastStreakDate.UTC()))

	assert.ErrorIs(t, repo.UpdateProgression(ctx, newPlayer(9, 0)), model.ErrPlayerNotFound)
	assert.ErrorIs(t, repo.UpdateStreak(ctx, 9, 1, day), model.ErrPlayerNotFound)
}

func TestPlayerRepository_LockMany(t *testing.T) {
	pool := testdb.Setup(t)
	repo := NewPlayerRepository(pool)
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		_, err := repo.Create(ctx, newPlayer(id, 0))
		require.NoError(t, err)
	}

	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		locked, err := repo.WithTx(tx).LockMany(ctx, []int64{3, 1, 2})
		require.NoError(t, err)
		assert.Len(t, locked, 3)

		_, err = repo.WithTx(tx).LockMany(ctx, []int64{1, 42})
		assert.ErrorIs(t, err, model.ErrPlayerNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestPlayerRepository_TopByRankAndUsername(t *testing.T) {
	pool := testdb.Setup(t)
	repo := NewPlayerRepository(pool)
	ctx := context.Background()

	for id, points := range map[int64]int64{1: 100, 2: 300, 3: 300, 4: 0} {
		p := newPlayer(id, 0)
		p.RankPoints = points
		_, err := repo.Create(ctx, p)
		require.NoError(t, err)
	}

	top, err := repo.TopByRank(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []int64{2, 3, 1}, []int64{top[0].ID, top[1].ID, top[2].ID})

	require.NoError(t, repo.UpdateUsername(ctx, 4, "renamed"))
	got, err := repo.GetByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Username)
}

func TestTransactionRepository(t *testing.T) {
	pool := testdb.Setup(t)
	testdb.CreatePlayer(t, pool, 1, 0)
	repo := NewTransactionRepository(pool)
	ctx := context.Background()

	desc := "Entry fee"
	tx, err := repo.Create(ctx, 1, -10, model.TxTypeEntryFee, &desc)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), tx.Amount)
	require.NotNil(t, tx.Description)
	assert.Equal(t, desc, *tx.Description)

	_, err = repo.Create(ctx, 1, 20, model.TxTypePrizePool, nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, 1, 10, model.TxTypeEntryRefund, nil)
	require.NoError(t, err)

	all, err := repo.GetByPlayerID(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TxTypeEntryRefund, all[0].Type, "newest first")

	fees, err := repo.GetByPlayerIDAndType(ctx, 1, model.TxTypeEntryFee, 10)
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.Equal(t, tx.ID, fees[0].ID)
}

func TestAchievementRepository(t *testing.T) {
	pool := testdb.Setup(t)
	testdb.CreatePlayer(t, pool, 1, 0)
	repo := NewAchievementRepository(pool)
	ctx := context.Background()

	a, err := repo.GetByName(ctx, model.AchievementBattlesPlayed)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.Target)

	_, err = repo.GetByName(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrAchievementUnknown)

	custom, err := repo.Define(ctx, &model.Achievement{Name: "quiz_master", Description: "Score 100", Target: 100, XPReward: 50})
	require.NoError(t, err)
	redefined, err := repo.Define(ctx, &model.Achievement{Name: "quiz_master", Description: "Score 200", Target: 200, XPReward: 80})
	require.NoError(t, err)
	assert.Equal(t, custom.ID, redefined.ID)
	assert.Equal(t, int64(200), redefined.Target)

	require.NoError(t, repo.EnsureAll(ctx, 1))
	require.NoError(t, repo.EnsureAll(ctx, 1))

	err = db.InTx(ctx, pool, func(tx pgx.Tx) error {
		r := repo.WithTx(tx)
		pa, err := r.GetProgressForUpdate(ctx, 1, a)
		if err != nil {
			return err
		}
		now := time.Now()
		pa.Progress, pa.Completed, pa.CompletedAt = 10, true, &now
		return r.SaveProgress(ctx, pa)
	})
	require.NoError(t, err)

	// the completion latch never reopens
	err = db.InTx(ctx, pool, func(tx pgx.Tx) error {
		r := repo.WithTx(tx)
		pa, err := r.GetProgressForUpdate(ctx, 1, a)
		if err != nil {
			return err
		}
		pa.Progress, pa.Completed, pa.CompletedAt = 11, false, nil
		return r.SaveProgress(ctx, pa)
	})
	require.NoError(t, err)

	list, err := repo.ListForPlayer(ctx, 1)
	require.NoError(t, err)
	byName := make(map[string]*model.PlayerAchievement)
	for _, pa := range list {
		byName[pa.Name] = pa
	}
	require.Contains(t, byName, model.AchievementBattlesPlayed)
	assert.True(t, byName[model.AchievementBattlesPlayed].Completed)
	assert.NotNil(t, byName[model.AchievementBattlesPlayed].CompletedAt)
	assert.False(t, byName[model.AchievementBattleWins].Completed)
	assert.Equal(t, int64(0), byName["quiz_master"].Progress)
}

func TestStreakRepository(t *testing.T) {
	pool := testdb.Setup(t)
	testdb.CreatePlayer(t, pool, 1, 0)
	repo := NewStreakRepository(pool)
	ctx := context.Background()
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	defs, err := repo.ListGoals(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	created, err := repo.EnsureDay(ctx, 1, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), created)
	created, err = repo.EnsureDay(ctx, 1, day)
	require.NoError(t, err)
	assert.Zero(t, created)

	err = db.InTx(ctx, pool, func(tx pgx.Tx) error {
		r := repo.WithTx(tx)
		g, err := r.GetForUpdate(ctx, 1, model.GoalPlayBattle, day)
		if err != nil {
			return err
		}
		g.Progress, g.Completed = 1, true
		if err := r.SaveProgress(ctx, g); err != nil {
			return err
		}
		_, err = r.GetForUpdate(ctx, 1, "Juggle", day)
		assert.ErrorIs(t, err, model.ErrGoalUnknown)
		return nil
	})
	require.NoError(t, err)

	goals, err := repo.ListDay(ctx, 1, day, false)
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.True(t, goals[0].Completed)
	assert.False(t, goals[1].Completed)

	claimed, err := repo.MarkClaimed(ctx, 1, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), claimed)
	claimed, err = repo.MarkClaimed(ctx, 1, day)
	require.NoError(t, err)
	assert.Zero(t, claimed)

	other, err := repo.ListDay(ctx, 1, day.AddDate(0, 0, 1), false)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func newBattle(creator int64) *model.Battle {
	return &model.Battle{
		ID:              uuid.New(),
		Title:           "Quiz",
		Type:            "1v1",
		Status:          model.BattleWaiting,
		MaxParticipants: 2,
		EntryFee:        10,
		QuestionsCount:  2,
		DurationMinutes: 10,
		Topics:          []string{"algebra"},
		AutoStart:       true,
		SpectatorMode:   true,
		CreatedBy:       creator,
	}
}

func TestBattleRepository_Lifecycle(t *testing.T) {
	pool := testdb.Setup(t)
	testdb.CreatePlayer(t, pool, 1, 0)
	testdb.CreatePlayer(t, pool, 2, 0)
	repo := NewBattleRepository(pool)
	ctx := context.Background()

	b, err := repo.Create(ctx, newBattle(1))
	require.NoError(t, err)
	assert.Equal(t, model.BattleWaiting, b.Status)
	assert.Equal(t, []string{"algebra"}, b.Topics)
	assert.False(t, b.QuestionsReady)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrBattleNotFound)

	pending, err := repo.ListPendingQuestions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	qs := []model.Question{
		{Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4", Marks: 1},
		{Text: "Capital of France?", CorrectAnswer: "Paris", Marks: 2},
	}
	require.NoError(t, repo.ReplaceQuestions(ctx, b.ID, qs))
	require.NoError(t, repo.ReplaceQuestions(ctx, b.ID, qs))

	stored, err := repo.GetQuestions(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[1].Position)
	assert.Empty(t, stored[1].Options)

	pending, err = repo.ListPendingQuestions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.AddParticipant(ctx, b.ID, 1, 0)
	require.NoError(t, err)
	_, err = repo.AddParticipant(ctx, b.ID, 1, 1)
	assert.ErrorIs(t, err, model.ErrAlreadyJoined)
	_, err = repo.AddParticipant(ctx, b.ID, 2, 1)
	require.NoError(t, err)

	counts, err := repo.TeamCounts(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, counts)

	ok, err := repo.IsParticipant(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = repo.GetParticipant(ctx, b.ID, 3)
	assert.ErrorIs(t, err, model.ErrNotParticipant)

	start := time.Now().Add(-time.Hour)
	moved, err := repo.Transition(ctx, b.ID, model.BattleWaiting, model.BattleInProgress, start)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = repo.Transition(ctx, b.ID, model.BattleWaiting, model.BattleInProgress, start)
	require.NoError(t, err)
	assert.False(t, moved, "repeat transition is a no-op")
	_, err = repo.Transition(ctx, b.ID, model.BattleCompleted, model.BattleWaiting, start)
	assert.Error(t, err)

	overdue, err := repo.ListOverdue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	ok, err = repo.RecordSubmission(ctx, b.ID, 1, []string{"4", "Paris"}, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.RecordSubmission(ctx, b.ID, 1, []string{"5"}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetScore(ctx, b.ID, 1, 3))
	parts, err := repo.ListParticipants(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, []string{"4", "Paris"}, parts[0].Answers)
	assert.Equal(t, int64(3), parts[0].Score)
	assert.True(t, parts[0].HasSubmitted())
	assert.False(t, parts[1].HasSubmitted())

	moved, err = repo.Transition(ctx, b.ID, model.BattleInProgress, model.BattleCompleted, time.Now())
	require.NoError(t, err)
	require.True(t, moved)

	unjudged, err := repo.ListUnjudged(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unjudged, 1)

	winner := int64(1)
	ok, err = repo.MarkJudged(ctx, b.ID, &winner, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkJudged(ctx, b.ID, &winner, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "judging is exactly once")

	final, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, final.WinnerID)
	assert.Equal(t, int64(1), *final.WinnerID)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.EndedAt)
	assert.NotNil(t, final.JudgedAt)
}

func TestBattleRepository_ListsAndSpectators(t *testing.T) {
	pool := testdb.Setup(t)
	testdb.CreatePlayer(t, pool, 1, 0)
	testdb.CreatePlayer(t, pool, 2, 0)
	repo := NewBattleRepository(pool)
	ctx := context.Background()

	first, err := repo.Create(ctx, newBattle(1))
	require.NoError(t, err)
	second, err := repo.Create(ctx, newBattle(1))
	require.NoError(t, err)

	waiting, err := repo.List(ctx, []model.BattleStatus{model.BattleWaiting}, false, 10)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, first.ID, waiting[0].ID)

	newest, err := repo.List(ctx, []model.BattleStatus{model.BattleWaiting}, true, 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, second.ID, newest[0].ID)

	stale, err := repo.ListStaleLobbies(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
	stale, err = repo.ListStaleLobbies(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = repo.AddSpectator(ctx, first.ID, 2)
	require.NoError(t, err)
	_, err = repo.AddSpectator(ctx, first.ID, 2)
	assert.ErrorIs(t, err, model.ErrAlreadySpectating)

	ids, err := repo.ListSpectatorIDs(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestBattleRepository_ConcurrentSeatsUnderRowLock(t *testing.T) {
	pool := testdb.Setup(t)
	for id := int64(1); id <= 8; id++ {
		testdb.CreatePlayer(t, pool, id, 0)
	}
	repo := NewBattleRepository(pool)
	ctx := context.Background()

	b, err := repo.Create(ctx, newBattle(1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for id := int64(1); id <= 8; id++ {
		wg.Add(1)
		go func(playerID int64) {
			defer wg.Done()
			_ = db.InTx(ctx, pool, func(tx pgx.Tx) error {
				r := repo.WithTx(tx)
				locked, err := r.GetForUpdate(ctx, b.ID)
				if err != nil {
					return err
				}
				counts, err := r.TeamCounts(ctx, b.ID)
				if err != nil {
					return err
				}
				seated := 0
				for _, n := range counts {
					seated += n
				}
				if seated >= locked.MaxParticipants {
					return model.ErrFull
				}
				_, err = r.AddParticipant(ctx, b.ID, playerID, seated%2)
				return err
			})
		}(id)
	}
	wg.Wait()

	parts, err := repo.ListParticipants(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}
