package battle

import (
	"math"
	"sort"
	"strings"
	"time"

	"battlezone/internal/model"
)

// ScoringRule decides how an answer earns marks.
type ScoringRule string

const (
	// ScoreExact awards full marks for an answer equal to the key after
	// case and whitespace normalization.
	ScoreExact ScoringRule = "exact"
	// ScorePartial treats answers as comma-separated option sets and awards
	// floor(marks × |A∩C| / |A∪C|).
	ScorePartial ScoringRule = "partial"
)

// ParseScoringRule validates a configured rule name.
func ParseScoringRule(s string) (ScoringRule, error) {
	switch ScoringRule(strings.ToLower(strings.TrimSpace(s))) {
	case ScoreExact, "":
		return ScoreExact, nil
	case ScorePartial:
		return ScorePartial, nil
	default:
		return "", &model.ConfigError{Field: "scoring_rule", Reason: "must be exact or partial"}
	}
}

// normalizeAnswer lowercases and collapses internal whitespace.
func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func optionSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		if v := normalizeAnswer(part); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// ScoreQuestion returns the marks answer earns on q.
func ScoreQuestion(q model.Question, answer string, rule ScoringRule) int64 {
	if q.Marks <= 0 {
		return 0
	}

	if rule == ScorePartial {
		given := optionSet(answer)
		key := optionSet(q.CorrectAnswer)
		if len(given) == 0 || len(key) == 0 {
			return 0
		}
		inter := 0
		for v := range given {
			if _, ok := key[v]; ok {
				inter++
			}
		}
		union := len(given) + len(key) - inter
		return q.Marks * int64(inter) / int64(union)
	}

	a := normalizeAnswer(answer)
	if a != "" && a == normalizeAnswer(q.CorrectAnswer) {
		return q.Marks
	}
	return 0
}

// ScoreAnswers totals the marks for answers against questions. answers[i]
// answers the question at position i; missing answers score nothing.
func ScoreAnswers(questions []model.Question, answers []string, rule ScoringRule) int64 {
	var total int64
	for i, q := range questions {
		if i >= len(answers) {
			break
		}
		total += ScoreQuestion(q, answers[i], rule)
	}
	return total
}

// Standing is one participant's judged result.
type Standing struct {
	PlayerID    int64      `json:"player_id"`
	Team        int        `json:"team"`
	Score       int64      `json:"score"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// Rank orders standings best first: highest score, then earliest submission
// (players who never submitted come last), then lowest player id.
func Rank(standings []Standing) []Standing {
	out := make([]Standing, len(standings))
	copy(out, standings)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		switch {
		case a.SubmittedAt != nil && b.SubmittedAt == nil:
			return true
		case a.SubmittedAt == nil && b.SubmittedAt != nil:
			return false
		case a.SubmittedAt != nil && b.SubmittedAt != nil && !a.SubmittedAt.Equal(*b.SubmittedAt):
			return a.SubmittedAt.Before(*b.SubmittedAt)
		}
		return a.PlayerID < b.PlayerID
	})
	return out
}

// PickWinner returns the best standing, or false when there are none.
func PickWinner(standings []Standing) (Standing, bool) {
	if len(standings) == 0 {
		return Standing{}, false
	}
	return Rank(standings)[0], true
}

// TeamTotals sums scores per team.
func TeamTotals(standings []Standing, teams int) []int64 {
	totals := make([]int64, teams)
	for _, s := range standings {
		if s.Team >= 0 && s.Team < teams {
			totals[s.Team] += s.Score
		}
	}
	return totals
}

// Share returns floor(amount × share) computed in basis points, so that
// e.g. 30 × 0.7 yields 21 rather than a float rounding artefact.
func Share(amount int64, share float64) int64 {
	if amount <= 0 || share <= 0 {
		return 0
	}
	bp := int64(math.Round(share * 10000))
	return (amount/10000)*bp + (amount%10000)*bp/10000
}
