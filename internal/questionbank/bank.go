// Package questionbank serves battle questions from a YAML file.
package questionbank

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"battlezone/internal/battle"
	"battlezone/internal/model"
)

// ErrNotEnoughQuestions is returned when the bank cannot fill a request.
var ErrNotEnoughQuestions = errors.New("not enough questions in the bank")

// Set is a group of questions sharing a subject, topics and difficulty.
type Set struct {
	ExamType   string           `yaml:"exam_type"`
	Subject    string           `yaml:"subject"`
	Topics     []string         `yaml:"topics"`
	Difficulty string           `yaml:"difficulty"`
	Questions  []model.Question `yaml:"questions"`
}

type file struct {
	Sets []Set `yaml:"sets"`
}

// Bank is an in-memory question bank.
type Bank struct {
	sets []Set

	mu  sync.Mutex
	rng *rand.Rand
}

// Load reads a bank from a YAML file.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank: %w", err)
	}
	return Parse(data)
}

// Parse decodes a bank from YAML.
func Parse(data []byte) (*Bank, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}

	for i, s := range f.Sets {
		for j, q := range s.Questions {
			if strings.TrimSpace(q.Text) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
				return nil, fmt.Errorf("set %d question %d: question and answer are required", i, j)
			}
			if q.Marks <= 0 {
				f.Sets[i].Questions[j].Marks = 1
			}
		}
	}

	return &Bank{sets: f.Sets, rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}, nil
}

// Seed makes question selection reproducible.
func (b *Bank) Seed(seed uint64) {
	b.mu.Lock()
	b.rng = rand.New(rand.NewPCG(seed, seed))
	b.mu.Unlock()
}

// Size returns the number of questions in the bank.
func (b *Bank) Size() int {
	n := 0
	for _, s := range b.sets {
		n += len(s.Questions)
	}
	return n
}

// GenerateQuestions picks req.Count random questions from the sets matching
// req. Empty request fields match anything.
func (b *Bank) GenerateQuestions(ctx context.Context, req battle.QuestionSpec) ([]model.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pool []model.Question
	for _, s := range b.sets {
		if s.matches(req) {
			pool = append(pool, s.Questions...)
		}
	}
	if len(pool) < req.Count {
		return nil, fmt.Errorf("%w: want %d, have %d for %s", ErrNotEnoughQuestions, req.Count, len(pool), req.Subject)
	}

	b.mu.Lock()
	b.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	b.mu.Unlock()

	out := make([]model.Question, req.Count)
	for i := range out {
		q := pool[i]
		q.Position = i
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out, nil
}

func (s Set) matches(req battle.QuestionSpec) bool {
	if !fieldMatches(s.ExamType, req.ExamType) ||
		!fieldMatches(s.Subject, req.Subject) ||
		!fieldMatches(s.Difficulty, req.Difficulty) {
		return false
	}
	if len(req.Topics) == 0 || len(s.Topics) == 0 {
		return true
	}
	for _, want := range req.Topics {
		for _, have := range s.Topics {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(have)) {
				return true
			}
		}
	}
	return false
}

func fieldMatches(have, want string) bool {
	return have == "" || want == "" || strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want))
}
