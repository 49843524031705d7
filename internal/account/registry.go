package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// Registry reads account records. Creating and updating accounts belongs to
// the account service.
type Registry interface {
	Get(ctx context.Context, id string) (Account, error)
	Exists(ctx context.Context, id string) (bool, error)
	GetByOwner(ctx context.Context, ownerID string) (Account, error)
}

// PostgresRegistry reads accounts from PostgreSQL.
type PostgresRegistry struct {
	db *pgxpool.Pool
}

// NewPostgresRegistry builds a registry backed by PostgreSQL.
func NewPostgresRegistry(db *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const accountColumns = `id, owner_id, name, currency, status, created_at`

// Get fetches account metadata by identifier.
func (r *PostgresRegistry) Get(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// Exists reports whether an account with id exists.
func (r *PostgresRegistry) Exists(ctx context.Context, id string) (bool, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

// GetByOwner returns the oldest account owned by ownerID.
func (r *PostgresRegistry) GetByOwner(ctx context.Context, ownerID string) (Account, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Account{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
        WHERE owner_id = $1 ORDER BY created_at LIMIT 1`, owner)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		id, owner uuid.UUID
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&id, &owner, &a.Name, &a.Currency, &status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.ID = id.String()
	a.OwnerID = owner.String()
	a.Status = Status(status)
	a.CreatedAt = createdAt.UTC()
	return a, nil
}
