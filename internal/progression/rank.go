package progression

import "sort"

// Tier is a named competitive bracket entered at Threshold rank points.
type Tier struct {
	Name      string
	Threshold int64
}

// Tiers is the rank table, ascending by threshold. The first entry starts at 0.
var Tiers = []Tier{
	{"Bronze I", 0},
	{"Bronze II", 100},
	{"Bronze III", 250},
	{"Silver I", 500},
	{"Silver II", 800},
	{"Silver III", 1200},
	{"Gold I", 1700},
	{"Gold II", 2300},
	{"Gold III", 3000},
	{"Platinum I", 4000},
	{"Platinum II", 5200},
	{"Platinum III", 6600},
	{"Diamond I", 8200},
	{"Diamond II", 10000},
	{"Diamond III", 12000},
	{"Master", 15000},
	{"Grandmaster", 20000},
}

// tierIndex returns the index of the highest tier whose threshold is <= points,
// or 0 when points are below every threshold.
func tierIndex(points int64) int {
	// first tier strictly above points
	i := sort.Search(len(Tiers), func(i int) bool { return Tiers[i].Threshold > points })
	if i == 0 {
		return 0
	}
	return i - 1
}

// ResolveTier returns the tier for points.
func ResolveTier(points int64) Tier {
	return Tiers[tierIndex(points)]
}

// TierIndex returns the position of the tier for points in Tiers.
func TierIndex(points int64) int {
	return tierIndex(points)
}

// RankProgress summarizes how far a player is into their tier.
type RankProgress struct {
	Current      string  `json:"current"`
	Next         string  `json:"next,omitempty"`
	Points       int64   `json:"points"`
	PointsNeeded int64   `json:"points_needed"`
	Percent      float64 `json:"percent"`
}

// Progress computes the progress toward the next tier. At the top tier Next
// is empty and Percent is 100.
func Progress(points int64) RankProgress {
	if points < 0 {
		points = 0
	}
	idx := tierIndex(points)
	cur := Tiers[idx]
	rp := RankProgress{Current: cur.Name, Points: points}

	if idx == len(Tiers)-1 {
		rp.Percent = 100
		return rp
	}

	next := Tiers[idx+1]
	rp.Next = next.Name
	rp.PointsNeeded = next.Threshold - points

	span := next.Threshold - cur.Threshold
	into := points - cur.Threshold
	if into < 0 {
		into = 0
	}
	rp.Percent = float64(into) * 100 / float64(span)
	return rp
}
