package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a transaction or line does not exist.
	ErrNotFound = errors.New("ledger record not found")

	// ErrDuplicateIdempotencyKey indicates another transaction already claimed
	// the idempotency key. Callers should fall back to an index lookup.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConflict reports that a unit of work lost a concurrency conflict and
	// was rolled back. It is safe to retry the unit.
	ErrConflict = errors.New("ledger unit of work conflict")

	// ErrImmutableLine is returned for any attempt to change or remove a posted line.
	ErrImmutableLine = errors.New("ledger lines are immutable and can't be modified or deleted")

	// ErrInvalidLine rejects a line that violates the posting rules.
	ErrInvalidLine = errors.New("invalid ledger line")
)

// LineType is the side of a double-entry posting.
type LineType string

const (
	// Debit lines decrease the balance of their account.
	Debit LineType = "DEBIT"
	// Credit lines increase the balance of their account.
	Credit LineType = "CREDIT"
)

// Kind classifies why a transaction was posted.
type Kind string

const (
	// KindTransfer is an account-to-account transfer requested by its owner.
	KindTransfer Kind = "transfer"
	// KindSeed injects funds from a system account.
	KindSeed Kind = "seed"
)

// Transaction is one transfer attempt. It owns exactly two lines once completed.
type Transaction struct {
	ID             string          `json:"id"`
	FromAccount    string          `json:"fromAccount"`
	ToAccount      string          `json:"toAccount"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Line is an immutable posting of an amount against one account.
type Line struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account"`
	TransactionID string          `json:"transaction"`
	Amount        decimal.Decimal `json:"amount"`
	Type          LineType        `json:"type"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Validate checks the posting rules that hold for every line.
func (l Line) Validate() error {
	switch {
	case l.ID == "" || l.AccountID == "" || l.TransactionID == "":
		return errors.Join(ErrInvalidLine, errors.New("id, account and transaction are required"))
	case l.Amount.IsNegative():
		return errors.Join(ErrInvalidLine, errors.New("amount can't be negative"))
	case l.Type != Debit && l.Type != Credit:
		return errors.Join(ErrInvalidLine, errors.New("type can be either DEBIT or CREDIT"))
	}
	return nil
}

// TotalsReader aggregates the lines of an account.
type TotalsReader interface {
	Totals(ctx context.Context, accountID string) (Totals, error)
}

// Tx is the write handle of a single atomic unit of work. Nothing written
// through it is visible to other readers until the unit commits, and all of it
// is discarded when the unit fails.
type Tx interface {
	TotalsReader
	CreateTransaction(ctx context.Context, txn Transaction) error
	AppendLine(ctx context.Context, line Line) error
	TransitionStatus(ctx context.Context, id string, to Status) (Transaction, error)
}

// Store is the append-only ledger. It is the single source of truth for balances.
type Store interface {
	TotalsReader

	// WithinUnit runs fn in one isolated, all-or-nothing unit of work. The unit
	// commits only when fn returns nil.
	WithinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	TransactionByID(ctx context.Context, id string) (Transaction, error)
	TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	LinesByTransaction(ctx context.Context, transactionID string) ([]Line, error)

	// UpdateLine and DeleteLine exist so that the immutability rule is enforced
	// at the repository boundary; both always fail with ErrImmutableLine.
	UpdateLine(ctx context.Context, line Line) error
	DeleteLine(ctx context.Context, id string) error
}
