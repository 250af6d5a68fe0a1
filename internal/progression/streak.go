package progression

import (
	"math"
	"time"
)

const (
	dailyRewardBase     = 200
	dailyRewardMaxBonus = 10
)

// CivilDate returns the calendar date of t in loc, as midnight UTC. Dates in
// this form compare and subtract without DST effects and map to SQL DATE.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayDiff returns the number of calendar days from last to today. Both
// arguments are expected to come from CivilDate.
func DayDiff(last, today time.Time) int {
	ly, lm, ld := last.Date()
	ty, tm, td := today.Date()
	l := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	t := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(math.Round(t.Sub(l).Hours() / 24))
}

// NeedsUpdate reports whether today has not been recorded yet.
func NeedsUpdate(last *time.Time, today time.Time) bool {
	return last == nil || DayDiff(*last, today) >= 1
}

// NextStreak returns the streak length after activity on today.
// Consecutive days extend the streak, a gap resets it to 1 and a repeat on
// the same day (or a clock that moved backwards) leaves it unchanged.
func NextStreak(streakDays int, last *time.Time, today time.Time) int {
	if last == nil {
		return 1
	}
	switch diff := DayDiff(*last, today); {
	case diff == 1:
		return streakDays + 1
	case diff > 1:
		return 1
	default:
		return streakDays
	}
}

// DailyReward returns the XP for claiming a day's goals:
// 200 × min(10, 1 + floor(sqrt(streakDays))).
func DailyReward(streakDays int) int64 {
	return DailyRewardWith(streakDays, dailyRewardBase, dailyRewardMaxBonus)
}

// DailyRewardWith is DailyReward with a configurable base and multiplier cap.
func DailyRewardWith(streakDays int, base, maxMultiplier int64) int64 {
	if streakDays < 0 {
		streakDays = 0
	}
	mult := 1 + int64(math.Floor(math.Sqrt(float64(streakDays))))
	if mult > maxMultiplier {
		mult = maxMultiplier
	}
	return base * mult
}
