package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"battlezone/internal/model"
	"battlezone/internal/pkg/db"
)

// TransactionRepository records currency movements.
type TransactionRepository struct {
	q db.Querier
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(q db.Querier) *TransactionRepository {
	return &TransactionRepository{q: q}
}

// WithTx returns a copy of the repository bound to tx.
func (r *TransactionRepository) WithTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

// Create creates a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, playerID int64, amount int64, txType string, description *string) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions (player_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, player_id, amount, type, description, created_at
	`

	var tx model.Transaction
	err := r.q.QueryRow(ctx, query, playerID, amount, txType, description).Scan(
		&tx.ID,
		&tx.PlayerID,
		&tx.Amount,
		&tx.Type,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &tx, nil
}

// GetByPlayerID retrieves a player's transactions, newest first.
func (r *TransactionRepository) GetByPlayerID(ctx context.Context, playerID int64, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT id, player_id, amount, type, description, created_at
		FROM transactions
		WHERE player_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, playerID, limit)
}

// GetByPlayerIDAndType retrieves a player's transactions of one type, newest first.
func (r *TransactionRepository) GetByPlayerIDAndType(ctx context.Context, playerID int64, txType string, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT id, player_id, amount, type, description, created_at
		FROM transactions
		WHERE player_id = $1 AND type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	return r.list(ctx, query, playerID, txType, limit)
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*model.Transaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		var tx model.Transaction
		err := rows.Scan(
			&tx.ID,
			&tx.PlayerID,
			&tx.Amount,
			&tx.Type,
			&tx.Description,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}
