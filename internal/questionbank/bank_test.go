package questionbank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlezone/internal/battle"
)

const sample = `
sets:
  - subject: Biology
    topics: [cells, genetics]
    difficulty: easy
    questions:
      - question: What is the powerhouse of the cell?
        options: [Nucleus, Mitochondria, Ribosome]
        answer: Mitochondria
        explanation: It produces ATP.
        marks: 2
        time_limit: 30
      - question: DNA is found mainly in the?
        options: [Nucleus, Membrane]
        answer: Nucleus
      - question: Basic unit of life?
        answer: Cell
  - subject: Physics
    topics: [motion]
    questions:
      - question: Unit of force?
        answer: Newton
`

func TestParseAndGenerate(t *testing.T) {
	b, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 4, b.Size())
	b.Seed(42)

	qs, err := b.GenerateQuestions(context.Background(), battle.QuestionSpec{
		Subject: "biology",
		Topics:  []string{"Cells"},
		Count:   3,
	})
	require.NoError(t, err)
	require.Len(t, qs, 3)
	for i, q := range qs {
		assert.Equal(t, i, q.Position)
		assert.NotEmpty(t, q.CorrectAnswer)
		assert.Positive(t, q.Marks)
		assert.NotEqual(t, "Newton", q.CorrectAnswer)
	}
}

func TestGenerateNotEnough(t *testing.T) {
	b, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = b.GenerateQuestions(context.Background(), battle.QuestionSpec{Subject: "Physics", Count: 2})
	assert.ErrorIs(t, err, ErrNotEnoughQuestions)

	_, err = b.GenerateQuestions(context.Background(), battle.QuestionSpec{Subject: "Biology", Difficulty: "hard", Count: 1})
	assert.ErrorIs(t, err, ErrNotEnoughQuestions)
}

func TestGenerateHonoursCancelledContext(t *testing.T) {
	b, err := Parse([]byte(sample))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.GenerateQuestions(ctx, battle.QuestionSpec{Count: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRejectsQuestionsWithoutAnswer(t *testing.T) {
	_, err := Parse([]byte("sets:\n  - questions:\n      - question: Anything?\n"))
	assert.Error(t, err)
}
