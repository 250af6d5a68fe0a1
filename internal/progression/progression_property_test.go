package progression

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func genState(t *rapid.T) State {
	level := rapid.IntRange(1, 60).Draw(t, "level")
	next := XPForLevel(level)
	return State{
		Level:       level,
		CurrentXP:   rapid.Int64Range(0, next-1).Draw(t, "currentXP"),
		NextLevelXP: next,
		RankPoints:  rapid.Int64Range(0, 50000).Draw(t, "rankPoints"),
	}
}

// TestLevelingInvariant: after any sequence of awards, 0 <= currentXP < nextLevelXP
// and nextLevelXP equals the curve value for the level.
func TestLevelingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Normalize(genState(t))
		awards := rapid.SliceOfN(rapid.Int64Range(-100000, 1000000), 1, 20).Draw(t, "awards")

		for _, a := range awards {
			s, _ = ApplyXP(s, a)

			if s.Level < 1 {
				t.Fatalf("level dropped below 1: %d", s.Level)
			}
			if s.CurrentXP < 0 || s.CurrentXP >= s.NextLevelXP {
				t.Fatalf("currentXP %d out of range [0, %d)", s.CurrentXP, s.NextLevelXP)
			}
			if s.NextLevelXP != XPForLevel(s.Level) {
				t.Fatalf("nextLevelXP %d stale for level %d", s.NextLevelXP, s.Level)
			}
			if s.RankTier != ResolveTier(s.RankPoints).Name {
				t.Fatalf("tier %q stale for %d points", s.RankTier, s.RankPoints)
			}
		}
	})
}

// TestLevelsNeverDecrease: XP loss clamps at zero within the level, never demotes.
func TestLevelsNeverDecrease(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Normalize(genState(t))
		amount := rapid.Int64Range(-10000000, 10000000).Draw(t, "amount")

		after, out := ApplyXP(s, amount)
		if after.Level < s.Level {
			t.Fatalf("level decreased from %d to %d", s.Level, after.Level)
		}
		if out.LevelsGained != after.Level-s.Level {
			t.Fatalf("levels gained %d, level moved %d", out.LevelsGained, after.Level-s.Level)
		}
		if amount <= 0 && after.Level != s.Level {
			t.Fatalf("non-positive award changed level")
		}
	})
}

// TestLevelUpBonusAccounting: bonus rank points equal the sum of LevelUpBonus
// over every level reached.
func TestLevelUpBonusAccounting(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Normalize(genState(t))
		amount := rapid.Int64Range(0, 50000000).Draw(t, "amount")

		after, out := ApplyXP(s, amount)

		var want int64
		for l := s.Level + 1; l <= after.Level; l++ {
			want += LevelUpBonus(l)
		}
		if out.BonusPoints != want {
			t.Fatalf("bonus %d, want %d", out.BonusPoints, want)
		}
		if after.RankPoints != s.RankPoints+want {
			t.Fatalf("rank points %d, want %d", after.RankPoints, s.RankPoints+want)
		}
	})
}

// TestRankMonotonicity: more points never resolve to a lower tier, and the
// resolved tier is the highest one whose threshold is reached.
func TestRankMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(0, 30000).Draw(t, "a")
		b := rapid.Int64Range(a, 30000).Draw(t, "b")

		if TierIndex(b) < TierIndex(a) {
			t.Fatalf("tier for %d ranks below tier for %d", b, a)
		}

		idx := TierIndex(a)
		if Tiers[idx].Threshold > a {
			t.Fatalf("tier %q threshold %d exceeds %d", Tiers[idx].Name, Tiers[idx].Threshold, a)
		}
		if idx+1 < len(Tiers) && Tiers[idx+1].Threshold <= a {
			t.Fatalf("tier %q is reachable with %d points but %q was resolved",
				Tiers[idx+1].Name, a, Tiers[idx].Name)
		}
	})
}

// TestRankPointsClampAtZero: removing more points than held lands on zero.
func TestRankPointsClampAtZero(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Normalize(genState(t))
		delta := rapid.Int64Range(-100000, 100000).Draw(t, "delta")

		after, out := ApplyRankPoints(s, delta)
		want := s.RankPoints + delta
		if want < 0 {
			want = 0
		}
		if after.RankPoints != want {
			t.Fatalf("points %d, want %d", after.RankPoints, want)
		}
		if out.TierChanged() != (out.OldTier != out.NewTier) {
			t.Fatal("TierChanged disagrees with tier strings")
		}
	})
}

// TestStreakContinuity: for any sequence of activity days, the streak equals
// the number of consecutive days ending on the last touch.
func TestStreakContinuity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gaps := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 40).Draw(t, "gaps")

		day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		var last *time.Time
		streak := 0
		run := 0

		for i, g := range gaps {
			if i > 0 {
				day = day.AddDate(0, 0, g)
			}
			switch {
			case last == nil:
				run = 1
			case g == 1:
				run++
			case g > 1:
				run = 1
			}
			streak = NextStreak(streak, last, day)
			d := day
			last = &d

			if streak != run {
				t.Fatalf("step %d (gap %d): streak %d, want %d", i, g, streak, run)
			}
		}
	})
}

func TestDailyRewardBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		days := rapid.IntRange(0, 10000).Draw(t, "days")
		r := DailyReward(days)
		if r < 200 || r > 2000 {
			t.Fatalf("reward %d out of [200, 2000]", r)
		}
		if r%200 != 0 {
			t.Fatalf("reward %d not a multiple of 200", r)
		}
		if days > 0 && DailyReward(days-1) > r {
			t.Fatalf("reward decreased from %d days to %d days", days-1, days)
		}
	})
}

func TestXPForLevel(t *testing.T) {
	assert.Equal(t, int64(1000), XPForLevel(1))
	assert.Equal(t, int64(1350), XPForLevel(2))
	assert.Equal(t, int64(1822), XPForLevel(3))
	assert.Equal(t, int64(2460), XPForLevel(4))
	assert.Equal(t, int64(1000), XPForLevel(0), "levels below 1 use the first step")
	assert.Equal(t, int64(math.MaxInt64), XPForLevel(1000), "saturates instead of overflowing")
}

func TestLevelUpBonus(t *testing.T) {
	assert.Equal(t, int64(46), LevelUpBonus(2))
	assert.Equal(t, int64(53), LevelUpBonus(3))
	assert.Equal(t, int64(190), LevelUpBonus(10))
}

// 950 XP plus a 100 XP award crosses into level 2 with 50 XP carried over.
func TestApplyXP_LevelUpScenario(t *testing.T) {
	s := InitialState()
	s.CurrentXP = 950

	after, out := ApplyXP(s, 100)

	assert.Equal(t, 2, after.Level)
	assert.Equal(t, int64(50), after.CurrentXP)
	assert.Equal(t, int64(1350), after.NextLevelXP)
	assert.Equal(t, int64(46), after.RankPoints)
	assert.Equal(t, 1, out.LevelsGained)
	assert.Equal(t, int64(46), out.BonusPoints)
	assert.True(t, out.LeveledUp())
	assert.False(t, out.TierChanged(), "46 points stay in Bronze I")
}

func TestApplyXP_MultipleLevels(t *testing.T) {
	after, out := ApplyXP(InitialState(), 1000+1350+1822)

	assert.Equal(t, 4, after.Level)
	assert.Equal(t, int64(0), after.CurrentXP)
	assert.Equal(t, 3, out.LevelsGained)
	assert.Equal(t, LevelUpBonus(2)+LevelUpBonus(3)+LevelUpBonus(4), out.BonusPoints)
	assert.Equal(t, "Bronze II", after.RankTier)
	assert.True(t, out.TierChanged())
}

func TestApplyXP_NegativeClamps(t *testing.T) {
	s := InitialState()
	s.CurrentXP = 300

	after, out := ApplyXP(s, -5000)

	assert.Equal(t, 1, after.Level)
	assert.Equal(t, int64(0), after.CurrentXP)
	assert.False(t, out.LeveledUp())
}

func TestResolveTier(t *testing.T) {
	tests := []struct {
		points int64
		want   string
	}{
		{0, "Bronze I"},
		{99, "Bronze I"},
		{100, "Bronze II"},
		{499, "Bronze III"},
		{500, "Silver I"},
		{19999, "Master"},
		{20000, "Grandmaster"},
		{math.MaxInt64, "Grandmaster"},
		{-10, "Bronze I"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveTier(tt.points).Name, "points=%d", tt.points)
	}
}

func TestProgress(t *testing.T) {
	p := Progress(300)
	assert.Equal(t, "Bronze III", p.Current)
	assert.Equal(t, "Silver I", p.Next)
	assert.Equal(t, int64(200), p.PointsNeeded)
	assert.InDelta(t, 20.0, p.Percent, 0.0001)

	top := Progress(25000)
	assert.Equal(t, "Grandmaster", top.Current)
	assert.Empty(t, top.Next)
	assert.Equal(t, int64(0), top.PointsNeeded)
	assert.Equal(t, 100.0, top.Percent)
}

func TestNextStreak(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC) }
	last := d(10)

	assert.Equal(t, 1, NextStreak(0, nil, d(10)))
	assert.Equal(t, 5, NextStreak(5, &last, d(10)), "same day leaves streak unchanged")
	assert.Equal(t, 0, NextStreak(0, &last, d(10)), "same day never bumps the counter")
	assert.Equal(t, 6, NextStreak(5, &last, d(11)))
	assert.Equal(t, 1, NextStreak(5, &last, d(13)), "a 3-day gap resets the streak")
	assert.Equal(t, 5, NextStreak(5, &last, d(9)), "clock moving backwards is ignored")
}

func TestNeedsUpdate(t *testing.T) {
	last := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.True(t, NeedsUpdate(nil, last))
	assert.False(t, NeedsUpdate(&last, last))
	assert.True(t, NeedsUpdate(&last, last.AddDate(0, 0, 1)))
}

func TestCivilDateUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 20:00 UTC on March 10 is already March 11 at UTC+9.
	ts := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), CivilDate(ts, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), CivilDate(ts, loc))
}

func TestDailyReward(t *testing.T) {
	assert.Equal(t, int64(200), DailyReward(0))
	assert.Equal(t, int64(400), DailyReward(1))
	assert.Equal(t, int64(400), DailyReward(3))
	assert.Equal(t, int64(600), DailyReward(4))
	assert.Equal(t, int64(2000), DailyReward(81))
	assert.Equal(t, int64(2000), DailyReward(1000))
}
