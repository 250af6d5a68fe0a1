package battle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"battlezone/internal/model"
)

func TestScoreQuestionExact(t *testing.T) {
	q := model.Question{CorrectAnswer: "Photo Synthesis", Marks: 4}

	assert.Equal(t, int64(4), ScoreQuestion(q, "photo synthesis", ScoreExact))
	assert.Equal(t, int64(4), ScoreQuestion(q, "  PHOTO   synthesis ", ScoreExact))
	assert.Equal(t, int64(0), ScoreQuestion(q, "photosynthesis", ScoreExact))
	assert.Equal(t, int64(0), ScoreQuestion(q, "", ScoreExact))
}

func TestScoreQuestionPartial(t *testing.T) {
	q := model.Question{CorrectAnswer: "a, b, c", Marks: 6}

	assert.Equal(t, int64(6), ScoreQuestion(q, "c,b,a", ScorePartial))
	// |{a,b} ∩ {a,b,c}| / |{a,b,c}| = 2/3
	assert.Equal(t, int64(4), ScoreQuestion(q, "a,b", ScorePartial))
	// |{a,d} ∩ C| / |{a,b,c,d}| = 1/4, floor(6/4)
	assert.Equal(t, int64(1), ScoreQuestion(q, "a, d", ScorePartial))
	assert.Equal(t, int64(0), ScoreQuestion(q, "x", ScorePartial))
	assert.Equal(t, int64(0), ScoreQuestion(q, " , ", ScorePartial))
}

func TestScoreAnswersIgnoresMissingAndExtra(t *testing.T) {
	questions := []model.Question{
		{CorrectAnswer: "a", Marks: 1},
		{CorrectAnswer: "b", Marks: 2},
		{CorrectAnswer: "c", Marks: 3},
	}

	assert.Equal(t, int64(3), ScoreAnswers(questions, []string{"a", "b"}, ScoreExact))
	assert.Equal(t, int64(6), ScoreAnswers(questions, []string{"a", "b", "c", "d"}, ScoreExact))
	assert.Equal(t, int64(0), ScoreAnswers(questions, nil, ScoreExact))
}

func TestParseScoringRule(t *testing.T) {
	r, err := ParseScoringRule("")
	require.NoError(t, err)
	assert.Equal(t, ScoreExact, r)

	r, err = ParseScoringRule("Partial")
	require.NoError(t, err)
	assert.Equal(t, ScorePartial, r)

	_, err = ParseScoringRule("fuzzy")
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestRankTieBreaks(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	early := base
	late := base.Add(time.Minute)

	ranked := Rank([]Standing{
		{PlayerID: 5, Score: 10, SubmittedAt: &late},
		{PlayerID: 9, Score: 10},
		{PlayerID: 7, Score: 10, SubmittedAt: &early},
		{PlayerID: 3, Score: 4, SubmittedAt: &early},
		{PlayerID: 2, Score: 10, SubmittedAt: &late},
	})

	ids := make([]int64, len(ranked))
	for i, s := range ranked {
		ids[i] = s.PlayerID
	}
	assert.Equal(t, []int64{7, 2, 5, 9, 3}, ids)

	w, ok := PickWinner(ranked)
	require.True(t, ok)
	assert.Equal(t, int64(7), w.PlayerID)

	_, ok = PickWinner(nil)
	assert.False(t, ok)
}

func TestShare(t *testing.T) {
	assert.Equal(t, int64(70), Share(100, 0.7))
	assert.Equal(t, int64(10), Share(100, 0.1))
	assert.Equal(t, int64(21), Share(30, 0.7))
	assert.Equal(t, int64(0), Share(9, 0.1))
	assert.Equal(t, int64(0), Share(0, 0.7))
	assert.Equal(t, int64(0), Share(-5, 0.7))
}

func TestTeamTotals(t *testing.T) {
	totals := TeamTotals([]Standing{
		{PlayerID: 1, Team: 0, Score: 3},
		{PlayerID: 2, Team: 1, Score: 5},
		{PlayerID: 3, Team: 0, Score: 4},
		{PlayerID: 4, Team: 9, Score: 100},
	}, 2)
	assert.Equal(t, []int64{7, 5}, totals)
}

func standingGen() *rapid.Generator[Standing] {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return rapid.Custom(func(t *rapid.T) Standing {
		s := Standing{
			PlayerID: rapid.Int64Range(1, 1_000_000).Draw(t, "id"),
			Team:     rapid.IntRange(0, 2).Draw(t, "team"),
			Score:    rapid.Int64Range(0, 20).Draw(t, "score"),
		}
		if rapid.Bool().Draw(t, "submitted") {
			at := base.Add(time.Duration(rapid.IntRange(0, 30).Draw(t, "offset")) * time.Second)
			s.SubmittedAt = &at
		}
		return s
	})
}

// Property: the winner does not depend on the order standings are given in.
func TestProperty_WinnerIsOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		standings := rapid.SliceOfNDistinct(standingGen(), 1, 12, func(s Standing) int64 { return s.PlayerID }).Draw(t, "standings")

		want, _ := PickWinner(standings)

		shuffled := make([]Standing, len(standings))
		perm := rapid.Permutation(indices(len(standings))).Draw(t, "perm")
		for i, j := range perm {
			shuffled[i] = standings[j]
		}
		got, _ := PickWinner(shuffled)

		if got.PlayerID != want.PlayerID {
			t.Fatalf("winner changed with order: %d vs %d", got.PlayerID, want.PlayerID)
		}
	})
}

// Property: the winner has the top score, and among the top scorers nobody
// submitted strictly earlier.
func TestProperty_WinnerHasTopScoreAndEarliestSubmission(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		standings := rapid.SliceOfNDistinct(standingGen(), 1, 12, func(s Standing) int64 { return s.PlayerID }).Draw(t, "standings")

		w, ok := PickWinner(standings)
		if !ok {
			t.Fatal("no winner for non-empty standings")
		}
		for _, s := range standings {
			if s.Score > w.Score {
				t.Fatalf("player %d outscored winner %d", s.PlayerID, w.PlayerID)
			}
			if s.Score != w.Score || s.SubmittedAt == nil {
				continue
			}
			if w.SubmittedAt == nil || s.SubmittedAt.Before(*w.SubmittedAt) {
				t.Fatalf("player %d submitted before winner %d with the same score", s.PlayerID, w.PlayerID)
			}
		}
	})
}

// Property: scoring is bounded by the total marks and is deterministic.
func TestProperty_ScoreBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		options := []string{"a", "b", "c", "d"}
		n := rapid.IntRange(0, 10).Draw(t, "n")
		questions := make([]model.Question, n)
		answers := make([]string, n)
		var total int64
		for i := range questions {
			questions[i] = model.Question{
				CorrectAnswer: rapid.SampledFrom(options).Draw(t, "key"),
				Marks:         rapid.Int64Range(0, 5).Draw(t, "marks"),
			}
			total += questions[i].Marks
			answers[i] = rapid.SampledFrom(append(options, "a,b", "")).Draw(t, "answer")
		}
		rule := rapid.SampledFrom([]ScoringRule{ScoreExact, ScorePartial}).Draw(t, "rule")

		score := ScoreAnswers(questions, answers, rule)
		if score < 0 || score > total {
			t.Fatalf("score %d outside [0,%d]", score, total)
		}
		if again := ScoreAnswers(questions, answers, rule); again != score {
			t.Fatalf("score not deterministic: %d vs %d", score, again)
		}
	})
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
