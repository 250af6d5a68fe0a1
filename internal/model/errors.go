package model

import (
	"errors"
	"fmt"
)

// Domain errors. Every one of them is a recoverable outcome for the caller;
// anything else returned by the engine is an infrastructure failure.
var (
	ErrNotFound           = errors.New("not found")
	ErrPlayerNotFound     = fmt.Errorf("player %w", ErrNotFound)
	ErrBattleNotFound     = fmt.Errorf("battle %w", ErrNotFound)
	ErrAchievementUnknown = fmt.Errorf("achievement %w", ErrNotFound)
	ErrGoalUnknown        = fmt.Errorf("streak goal %w", ErrNotFound)

	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyJoined     = errors.New("you have already joined this battle")
	ErrAlreadySpectating = errors.New("you are already spectating this battle")
	ErrAlreadySubmitted  = errors.New("you have already submitted your answers")

	ErrFull               = errors.New("this battle has reached its participant limit")
	ErrNotInProgress      = errors.New("this battle is not in progress")
	ErrNotParticipant     = errors.New("you are not a participant in this battle")
	ErrNotEligible        = errors.New("not eligible")
	ErrNotJoinable        = errors.New("this battle is no longer accepting players")
	ErrNotSpectatable     = errors.New("this battle can no longer be spectated")
	ErrSpectatingDisabled = errors.New("spectating is disabled for this battle")
	ErrNotCreator         = errors.New("only the battle creator can do that")
	ErrQuestionsPending   = errors.New("questions for this battle are still being prepared")
	ErrNotEnoughPlayers   = errors.New("at least two players are needed to start")
	ErrNotWaiting         = errors.New("this battle has already started or ended")
	ErrNotCompleted       = errors.New("this battle has not finished yet")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidConfig     = errors.New("invalid battle configuration")
)

// domainErrors lists the roots every domain error wraps or equals.
var domainErrors = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrAlreadyJoined,
	ErrAlreadySpectating,
	ErrAlreadySubmitted,
	ErrFull,
	ErrNotInProgress,
	ErrNotParticipant,
	ErrNotEligible,
	ErrNotJoinable,
	ErrNotSpectatable,
	ErrSpectatingDisabled,
	ErrNotCreator,
	ErrQuestionsPending,
	ErrNotEnoughPlayers,
	ErrNotWaiting,
	ErrNotCompleted,
	ErrInsufficientFunds,
	ErrInvalidConfig,
}

// IsDomainError reports whether err is a typed domain outcome rather than an
// infrastructure failure.
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// InsufficientFundsError carries the required and available amounts.
type InsufficientFundsError struct {
	PlayerID  int64
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %d coins required, %d available", e.Required, e.Available)
}

// Is matches ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// ConfigError describes one rejected battle configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid battle configuration: %s %s", e.Field, e.Reason)
}

// Is matches ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NotEligibleError explains why a claim was refused.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return "not eligible: " + e.Reason
}

// Is matches ErrNotEligible.
func (e *NotEligibleError) Is(target error) bool {
	return target == ErrNotEligible
}
