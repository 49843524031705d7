package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusFrozen Status = "FROZEN"
	StatusClosed Status = "CLOSED"
)

// Account is the read-only view of an account record owned by the account service.
type Account struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name,omitempty"`
	Currency  string    `json:"currency"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsActive reports whether the account may send or receive funds.
func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

// Balance is the derived balance of an account at a point in time.
type Balance struct {
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	AsOf      time.Time       `json:"asOf"`
}
