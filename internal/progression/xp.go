// Package progression implements the player progression model: the leveling
// curve, rank tiers and daily streak arithmetic. Everything here is pure; the
// service layer applies it to row-locked player records.
package progression

import (
	"math"

	"battlezone/internal/model"
)

// State is the numeric progression state of one player.
type State struct {
	Level       int
	CurrentXP   int64
	NextLevelXP int64
	RankPoints  int64
	RankTier    string
}

// StateOf extracts the progression state from a player record.
func StateOf(p *model.Player) State {
	return State{
		Level:       p.Level,
		CurrentXP:   p.CurrentXP,
		NextLevelXP: p.NextLevelXP,
		RankPoints:  p.RankPoints,
		RankTier:    p.RankTier,
	}
}

// ApplyTo copies s into the player's progression fields.
func (s State) ApplyTo(p *model.Player) {
	p.Level = s.Level
	p.CurrentXP = s.CurrentXP
	p.NextLevelXP = s.NextLevelXP
	p.RankPoints = s.RankPoints
	p.RankTier = s.RankTier
}

// InitialState is the state of a freshly created player.
func InitialState() State {
	return State{
		Level:       1,
		NextLevelXP: XPForLevel(1),
		RankTier:    ResolveTier(0).Name,
	}
}

// XPForLevel returns the XP needed to advance from level to level+1:
// floor(1000 × 1.35^(level-1)), saturating at math.MaxInt64.
func XPForLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	v := math.Floor(1000 * math.Pow(1.35, float64(level-1)))
	if v >= math.MaxInt64 || math.IsInf(v, 1) {
		return math.MaxInt64
	}
	return int64(v)
}

// LevelUpBonus returns the rank points granted for reaching level:
// floor(40 + 1.5 × level²).
func LevelUpBonus(level int) int64 {
	l := float64(level)
	v := math.Floor(40 + 1.5*l*l)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// XPOutcome describes the effect of ApplyXP.
type XPOutcome struct {
	OldLevel     int
	NewLevel     int
	LevelsGained int
	BonusPoints  int64
	OldTier      string
	NewTier      string
}

// LeveledUp reports whether at least one level was gained.
func (o XPOutcome) LeveledUp() bool { return o.LevelsGained > 0 }

// TierChanged reports whether the level-up bonus moved the player to another tier.
func (o XPOutcome) TierChanged() bool { return o.OldTier != o.NewTier }

// ApplyXP adds amount (which may be negative) to the current XP, clamps the
// result at zero and then carries over into as many levels as it covers.
// Each level reached grants LevelUpBonus rank points.
func ApplyXP(s State, amount int64) (State, XPOutcome) {
	s = Normalize(s)
	out := XPOutcome{OldLevel: s.Level, OldTier: s.RankTier}

	s.CurrentXP = addSat(s.CurrentXP, amount)
	if s.CurrentXP < 0 {
		s.CurrentXP = 0
	}

	for s.CurrentXP >= s.NextLevelXP {
		s.CurrentXP -= s.NextLevelXP
		s.Level++
		s.NextLevelXP = XPForLevel(s.Level)
		bonus := LevelUpBonus(s.Level)
		out.BonusPoints = addSat(out.BonusPoints, bonus)
		out.LevelsGained++
	}

	if out.BonusPoints > 0 {
		s, _ = ApplyRankPoints(s, out.BonusPoints)
	}

	out.NewLevel = s.Level
	out.NewTier = s.RankTier
	return s, out
}

// RankOutcome describes the effect of ApplyRankPoints.
type RankOutcome struct {
	OldPoints int64
	NewPoints int64
	OldTier   string
	NewTier   string
}

// TierChanged reports whether the tier string changed.
func (o RankOutcome) TierChanged() bool { return o.OldTier != o.NewTier }

// ApplyRankPoints sets rank points to max(0, old+delta) and re-resolves the tier.
func ApplyRankPoints(s State, delta int64) (State, RankOutcome) {
	out := RankOutcome{OldPoints: s.RankPoints, OldTier: s.RankTier}

	s.RankPoints = addSat(s.RankPoints, delta)
	if s.RankPoints < 0 {
		s.RankPoints = 0
	}
	s.RankTier = ResolveTier(s.RankPoints).Name

	out.NewPoints = s.RankPoints
	out.NewTier = s.RankTier
	return s, out
}

// Normalize re-derives NextLevelXP and RankTier from the stored numeric
// values and clamps anything out of range. A state whose CurrentXP already
// covers the next level is carried forward without granting bonus points.
func Normalize(s State) State {
	if s.Level < 1 {
		s.Level = 1
	}
	if s.CurrentXP < 0 {
		s.CurrentXP = 0
	}
	if s.RankPoints < 0 {
		s.RankPoints = 0
	}
	s.NextLevelXP = XPForLevel(s.Level)
	for s.CurrentXP >= s.NextLevelXP {
		s.CurrentXP -= s.NextLevelXP
		s.Level++
		s.NextLevelXP = XPForLevel(s.Level)
	}
	s.RankTier = ResolveTier(s.RankPoints).Name
	return s
}

// addSat adds two int64 values, saturating instead of overflowing.
func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
