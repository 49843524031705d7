package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	// sqlStateImmutableLine is raised by the ledger_lines_immutable trigger.
	sqlStateImmutableLine = "LL001"

	idempotencyKeyConstraint = "transactions_idempotency_key_key"

	transactionColumns = `id, from_account, to_account, amount::text, kind, idempotency_key, status, created_at, updated_at`
)

// PostgresStore persists the ledger in PostgreSQL. Every unit of work runs at
// SERIALIZABLE isolation so a balance check and the postings that depend on
// it can't interleave with a concurrent drain of the same account.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Totals returns the summed credits and debits for an account.
func (s *PostgresStore) Totals(ctx context.Context, accountID string) (Totals, error) {
	return totalsFor(ctx, s.db, accountID)
}

// TransactionByID fetches a transaction by its identifier.
func (s *PostgresStore) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	txID, err := parseID(id)
	if err != nil {
		return Transaction{}, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, txID)
	return scanTransaction(row)
}

// TransactionByIdempotencyKey fetches the transaction that claimed key.
func (s *PostgresStore) TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

// LinesByTransaction lists the lines posted by a transaction, oldest first.
func (s *PostgresStore) LinesByTransaction(ctx context.Context, transactionID string) ([]Line, error) {
	txID, err := parseID(transactionID)
	if err != nil {
		return nil, err
	}
	return linesFor(ctx, s.db, txID)
}

// UpdateLine always fails; posted lines never change.
func (s *PostgresStore) UpdateLine(context.Context, Line) error {
	return ErrImmutableLine
}

// DeleteLine always fails; posted lines are never removed.
func (s *PostgresStore) DeleteLine(context.Context, string) error {
	return ErrImmutableLine
}

// WithinUnit runs fn inside a SERIALIZABLE transaction and commits when fn
// succeeds. Serialization failures surface as ErrConflict and idempotency key
// collisions as ErrDuplicateIdempotencyKey.
func (s *PostgresStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit unit: %w", err))
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Totals(ctx context.Context, accountID string) (Totals, error) {
	return totalsFor(ctx, t.tx, accountID)
}

func (t *postgresTx) CreateTransaction(ctx context.Context, txn Transaction) error {
	txID, err := parseID(txn.ID)
	if err != nil {
		return err
	}
	fromID, err := parseID(txn.FromAccount)
	if err != nil {
		return err
	}
	toID, err := parseID(txn.ToAccount)
	if err != nil {
		return err
	}
	if !txn.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, txn.Status)
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO transactions
        (id, from_account, to_account, amount, kind, idempotency_key, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $8)`,
		txID, fromID, toID, txn.Amount.String(), string(txn.Kind), txn.IdempotencyKey, string(txn.Status), txn.CreatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert transaction: %w", err))
	}
	return nil
}

func (t *postgresTx) AppendLine(ctx context.Context, line Line) error {
	if err := line.Validate(); err != nil {
		return err
	}
	lineID, err := parseID(line.ID)
	if err != nil {
		return err
	}
	accountID, err := parseID(line.AccountID)
	if err != nil {
		return err
	}
	txID, err := parseID(line.TransactionID)
	if err != nil {
		return err
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO ledger_lines (id, account_id, transaction_id, amount, type, created_at)
        VALUES ($1, $2, $3, $4::text::numeric, $5, $6)`,
		lineID, accountID, txID, line.Amount.String(), string(line.Type), line.CreatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert ledger line: %w", err))
	}
	return nil
}

func (t *postgresTx) TransitionStatus(ctx context.Context, id string, to Status) (Transaction, error) {
	txID, err := parseID(id)
	if err != nil {
		return Transaction{}, err
	}

	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, txID)
	txn, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}
	if err := ValidateTransition(txn.Status, to); err != nil {
		return Transaction{}, err
	}

	txn.Status = to
	txn.UpdatedAt = time.Now().UTC()
	if _, err := t.tx.Exec(ctx, `UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		txID, string(to), txn.UpdatedAt); err != nil {
		return Transaction{}, mapPgError(fmt.Errorf("update transaction status: %w", err))
	}
	return txn, nil
}

func totalsFor(ctx context.Context, q querier, accountID string) (Totals, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return Totals{}, nil
	}

	const query = `
        SELECT COALESCE(SUM(amount) FILTER (WHERE type = 'CREDIT'), 0)::text,
               COALESCE(SUM(amount) FILTER (WHERE type = 'DEBIT'), 0)::text
        FROM ledger_lines
        WHERE account_id = $1`
	var credits, debits string
	if err := q.QueryRow(ctx, query, id).Scan(&credits, &debits); err != nil {
		return Totals{}, mapPgError(fmt.Errorf("sum ledger lines: %w", err))
	}

	var totals Totals
	if totals.Credits, err = decimal.NewFromString(credits); err != nil {
		return Totals{}, fmt.Errorf("parse credits: %w", err)
	}
	if totals.Debits, err = decimal.NewFromString(debits); err != nil {
		return Totals{}, fmt.Errorf("parse debits: %w", err)
	}
	return totals, nil
}

func linesFor(ctx context.Context, q querier, txID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, account_id, transaction_id, amount::text, type, created_at
        FROM ledger_lines WHERE transaction_id = $1 ORDER BY created_at, type DESC`, txID)
	if err != nil {
		return nil, fmt.Errorf("query ledger lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var (
			id, accountID, transactionID uuid.UUID
			amount, lineType             string
			line                         Line
		)
		if err := rows.Scan(&id, &accountID, &transactionID, &amount, &lineType, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger line: %w", err)
		}
		if line.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse line amount: %w", err)
		}
		line.ID = id.String()
		line.AccountID = accountID.String()
		line.TransactionID = transactionID.String()
		line.Type = LineType(lineType)
		line.CreatedAt = line.CreatedAt.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger lines: %w", err)
	}
	return lines, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		id, fromID, toID     uuid.UUID
		amount, kind, status string
		txn                  Transaction
	)
	err := row.Scan(&id, &fromID, &toID, &amount, &kind, &txn.IdempotencyKey, &status, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, mapPgError(fmt.Errorf("scan transaction: %w", err))
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parse transaction amount: %w", err)
	}
	if txn.Status, err = ParseStatus(status); err != nil {
		return Transaction{}, err
	}
	txn.ID = id.String()
	txn.FromAccount = fromID.String()
	txn.ToAccount = toID.String()
	txn.Kind = Kind(kind)
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()
	return txn, nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("id %q: %w", raw, ErrNotFound)
	}
	return id, nil
}

// mapPgError translates the PostgreSQL conditions the engine reacts to into
// ledger sentinels and leaves everything else untouched.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case sqlStateUniqueViolation:
		if pgErr.ConstraintName == idempotencyKeyConstraint {
			return ErrDuplicateIdempotencyKey
		}
	case sqlStateImmutableLine:
		return ErrImmutableLine
	}
	return err
}
