// Package service provides the progression services: the XP and rank ledger,
// achievements, daily streaks, the currency ledger and player accounts.
package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"battlezone/internal/notify"
	"battlezone/internal/pkg/db"
)

// RunTx runs fn in a transaction with a fresh event batch. The batch is
// flushed to n only after a successful commit.
func RunTx(ctx context.Context, b db.TxBeginner, n notify.Notifier, fn func(tx pgx.Tx, batch *notify.Batch) error) error {
	var batch notify.Batch
	err := db.InTx(ctx, b, func(tx pgx.Tx) error {
		return fn(tx, &batch)
	})
	if err != nil {
		batch.Discard()
		return err
	}
	batch.Flush(ctx, n)
	return nil
}
