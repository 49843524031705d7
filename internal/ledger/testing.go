package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedLines is a test helper that posts a bare transaction carrying the given
// lines, bypassing the transfer rules. It works with any Store.
func SeedLines(ctx context.Context, s Store, lines ...Line) (Transaction, error) {
	txn := Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: "seed-lines:" + uuid.NewString(),
		Kind:           KindSeed,
		Status:         StatusCompleted,
	}
	if len(lines) > 0 {
		txn.Amount = lines[0].Amount
		txn.FromAccount = lines[0].AccountID
		txn.ToAccount = lines[len(lines)-1].AccountID
	}

	err := s.WithinUnit(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		for _, line := range lines {
			line.ID = uuid.NewString()
			line.TransactionID = txn.ID
			if err := tx.AppendLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("seed lines: %w", err)
	}
	return txn, nil
}

// SeedBalance credits amount to accountID with a single line.
func SeedBalance(ctx context.Context, s Store, accountID string, amount int64) error {
	_, err := SeedLines(ctx, s, Line{AccountID: accountID, Amount: decimal.NewFromInt(amount), Type: Credit})
	return err
}

// SeedTransaction stores txn as-is, in whatever status it carries, with no lines.
// Used to put keys into FAILED, PENDING or REVERSED states in tests.
func SeedTransaction(ctx context.Context, s Store, txn Transaction) error {
	return s.WithinUnit(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateTransaction(ctx, txn)
	})
}
