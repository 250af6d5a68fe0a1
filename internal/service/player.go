package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"battlezone/internal/model"
	"battlezone/internal/pkg/db"
	"battlezone/internal/progression"
	"battlezone/internal/repository"
)

// PlayerService handles player accounts.
type PlayerService struct {
	pool          db.TxBeginner
	players       *repository.PlayerRepository
	txs           *repository.TransactionRepository
	achievements  *repository.AchievementRepository
	currency      *Currency
	startingCoins int64
}

// NewPlayerService creates a new PlayerService instance.
func NewPlayerService(
	pool db.TxBeginner,
	players *repository.PlayerRepository,
	txs *repository.TransactionRepository,
	achievements *repository.AchievementRepository,
	currency *Currency,
	startingCoins int64,
) *PlayerService {
	return &PlayerService{
		pool:          pool,
		players:       players,
		txs:           txs,
		achievements:  achievements,
		currency:      currency,
		startingCoins: startingCoins,
	}
}

// EnsurePlayer returns the player, creating it with the starting balance,
// initial progression state and zeroed achievement records on first contact.
// The boolean reports whether the player was created.
func (s *PlayerService) EnsurePlayer(ctx context.Context, playerID int64, username string) (*model.Player, bool, error) {
	p, err := s.players.GetByID(ctx, playerID)
	if err == nil {
		if username != "" && p.Username != username {
			if err := s.players.UpdateUsername(ctx, playerID, username); err != nil {
				log.Warn().Err(err).Int64("player_id", playerID).Msg("Failed to update username")
			} else {
				p.Username = username
			}
		}
		return p, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}

	var created *model.Player
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		fresh := &model.Player{ID: playerID, Username: username, Balance: s.startingCoins}
		progression.InitialState().ApplyTo(fresh)

		var err error
		created, err = s.players.WithTx(tx).Create(ctx, fresh)
		if err != nil {
			return err
		}
		if s.startingCoins > 0 {
			desc := "Starting coins"
			if _, err := s.txs.WithTx(tx).Create(ctx, playerID, s.startingCoins, model.TxTypeInitial, &desc); err != nil {
				return err
			}
		}
		return s.achievements.WithTx(tx).EnsureAll(ctx, playerID)
	})
	if errors.Is(err, model.ErrAlreadyExists) {
		// created concurrently by another request
		p, err := s.players.GetByID(ctx, playerID)
		return p, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create player: %w", err)
	}

	log.Info().Int64("player_id", playerID).Str("username", username).Msg("Player created")
	return created, true, nil
}

// GetPlayer retrieves a player.
func (s *PlayerService) GetPlayer(ctx context.Context, playerID int64) (*model.Player, error) {
	return s.players.GetByID(ctx, playerID)
}

// GetBalance retrieves a player's coin balance.
func (s *PlayerService) GetBalance(ctx context.Context, playerID int64) (int64, error) {
	p, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		return 0, err
	}
	return p.Balance, nil
}

// TopByRank returns the leaderboard.
func (s *PlayerService) TopByRank(ctx context.Context, limit int) ([]*model.Player, error) {
	return s.players.TopByRank(ctx, limit)
}

// Transactions returns the player's most recent currency movements.
func (s *PlayerService) Transactions(ctx context.Context, playerID int64, limit int) ([]*model.Transaction, error) {
	return s.txs.GetByPlayerID(ctx, playerID, limit)
}

// AdjustBalance is the admin path for adding or removing coins.
func (s *PlayerService) AdjustBalance(ctx context.Context, adminID, playerID, amount int64) (int64, error) {
	var balance int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		desc := fmt.Sprintf("Adjusted by admin %d", adminID)
		if amount >= 0 {
			balance, err = s.currency.Credit(ctx, tx, playerID, amount, model.TxTypeAdminAdd, desc)
		} else {
			balance, err = s.currency.Debit(ctx, tx, playerID, -amount, model.TxTypeAdminSub, desc)
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("player_id", playerID).
		Int64("amount", amount).
		Int64("balance", balance).
		Msg("Balance adjusted by admin")
	return balance, nil
}
