package battle

import (
	"strconv"
	"strings"

	"battlezone/internal/model"
)

// Layout is the team structure encoded in a battle type such as "2v2" or "1v1v1".
type Layout struct {
	Teams    int
	TeamSize int
}

// ParseLayout parses a battle type of the form k(vk)+, where every side has
// the same size k.
func ParseLayout(battleType string) (Layout, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(battleType)), "v")
	if len(parts) < 2 {
		return Layout{}, &model.ConfigError{Field: "type", Reason: "must look like 1v1, 2v2 or 1v1v1"}
	}

	size := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return Layout{}, &model.ConfigError{Field: "type", Reason: "must look like 1v1, 2v2 or 1v1v1"}
		}
		if i == 0 {
			size = n
		} else if n != size {
			return Layout{}, &model.ConfigError{Field: "type", Reason: "all sides must have the same size"}
		}
	}

	return Layout{Teams: len(parts), TeamSize: size}, nil
}

// AssignTeam picks the team for the next member: the team with the fewest
// members, ties going to the lowest index.
func AssignTeam(counts map[int]int, teams int) int {
	best := 0
	for t := 1; t < teams; t++ {
		if counts[t] < counts[best] {
			best = t
		}
	}
	return best
}

// TeamSizes turns per-team counts into a dense slice of length teams.
func TeamSizes(counts map[int]int, teams int) []int {
	sizes := make([]int, teams)
	for t := 0; t < teams; t++ {
		sizes[t] = counts[t]
	}
	return sizes
}
