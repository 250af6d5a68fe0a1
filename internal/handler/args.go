package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"battlezone/internal/battle"
)

var errUsage = errors.New("usage")

// parseBattleID reads the first argument as a battle id.
func parseBattleID(args []string) (uuid.UUID, error) {
	if len(args) == 0 {
		return uuid.Nil, errUsage
	}
	id, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid battle id %q", args[0])
	}
	return id, nil
}

// parseCreateArgs turns "key=value" pairs into a battle configuration.
// Values containing spaces are not supported; topics are comma separated.
func parseCreateArgs(args []string, creator int64) (battle.Config, error) {
	cfg := battle.Config{CreatedBy: creator}
	if len(args) == 0 {
		return cfg, errUsage
	}

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return cfg, fmt.Errorf("expected key=value, got %q", arg)
		}

		var err error
		switch strings.ToLower(key) {
		case "type":
			cfg.Type = value
		case "title":
			cfg.Title = strings.ReplaceAll(value, "_", " ")
		case "topics":
			cfg.Topics = splitList(value)
		case "subject":
			cfg.Subject = value
		case "exam":
			cfg.ExamType = value
		case "difficulty":
			cfg.Difficulty = value
		case "seats":
			cfg.MaxParticipants, err = strconv.Atoi(value)
		case "fee":
			cfg.EntryFee, err = strconv.ParseInt(value, 10, 64)
		case "prize":
			cfg.PrizePool, err = strconv.ParseInt(value, 10, 64)
		case "reward":
			cfg.RewardPoints, err = strconv.ParseInt(value, 10, 64)
		case "questions":
			cfg.QuestionsCount, err = strconv.Atoi(value)
		case "minutes":
			cfg.DurationMinutes, err = strconv.Atoi(value)
		case "spectators":
			cfg.SpectatorMode, err = parseSwitch(value)
		case "autostart":
			var on bool
			on, err = parseSwitch(value)
			cfg.AutoStart = &on
		default:
			return cfg, fmt.Errorf("unknown option %q", key)
		}
		if err != nil {
			return cfg, fmt.Errorf("invalid value for %s: %q", key, value)
		}
	}

	if cfg.Type == "" {
		return cfg, errors.New("type is required, e.g. type=1v1")
	}
	return cfg, nil
}

// parseAnswers splits the payload after the battle id on "|", so answers may
// themselves contain commas.
func parseAnswers(payload string) (uuid.UUID, []string, error) {
	payload = strings.TrimSpace(payload)
	head, rest, _ := strings.Cut(payload, " ")
	id, err := parseBattleID([]string{head})
	if err != nil {
		return uuid.Nil, nil, err
	}
	if strings.TrimSpace(rest) == "" {
		return uuid.Nil, nil, errUsage
	}

	parts := strings.Split(rest, "|")
	answers := make([]string, len(parts))
	for i, p := range parts {
		answers[i] = strings.TrimSpace(p)
	}
	return id, answers, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a switch: %q", s)
}

// parseAdminArgs parses "<player_id> <amount>".
func parseAdminArgs(args []string) (int64, int64, error) {
	if len(args) < 2 {
		return 0, 0, errUsage
	}
	playerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid player id %q", args[0])
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, 0, fmt.Errorf("amount must be a positive integer")
	}
	return playerID, amount, nil
}
