package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"battlezone/internal/model"
	"battlezone/internal/repository"
)

// Currency moves coins in and out of player balances. Every movement runs
// inside the caller's transaction, holds the player row lock and leaves a
// transaction record.
type Currency struct {
	players *repository.PlayerRepository
	txs     *repository.TransactionRepository
}

// NewCurrency creates a new Currency instance.
func NewCurrency(players *repository.PlayerRepository, txs *repository.TransactionRepository) *Currency {
	return &Currency{players: players, txs: txs}
}

// Debit removes amount from the player's balance and returns the new balance.
// It fails with *model.InsufficientFundsError, without side effects, when the
// balance does not cover amount. Non-positive amounts are a no-op.
func (c *Currency) Debit(ctx context.Context, tx pgx.Tx, playerID, amount int64, txType, description string) (int64, error) {
	players := c.players.WithTx(tx)

	p, err := players.GetForUpdate(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return p.Balance, nil
	}
	if p.Balance < amount {
		return p.Balance, &model.InsufficientFundsError{
			PlayerID:  playerID,
			Required:  amount,
			Available: p.Balance,
		}
	}

	balance, err := players.UpdateBalance(ctx, playerID, -amount)
	if err != nil {
		return 0, fmt.Errorf("failed to debit player: %w", err)
	}
	if _, err := c.txs.WithTx(tx).Create(ctx, playerID, -amount, txType, &description); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds amount to the player's balance and returns the new balance.
// Non-positive amounts are a no-op.
func (c *Currency) Credit(ctx context.Context, tx pgx.Tx, playerID, amount int64, txType, description string) (int64, error) {
	players := c.players.WithTx(tx)

	p, err := players.GetForUpdate(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return p.Balance, nil
	}

	balance, err := players.UpdateBalance(ctx, playerID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to credit player: %w", err)
	}
	if _, err := c.txs.WithTx(tx).Create(ctx, playerID, amount, txType, &description); err != nil {
		return 0, err
	}
	return balance, nil
}
