package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus is returned when parsing an unknown status.
	ErrInvalidStatus = errors.New("invalid transaction status")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
)

// Status is the lifecycle state of a transaction.
//
//	PENDING   → COMPLETED | FAILED
//	COMPLETED → REVERSED
//	FAILED, REVERSED: terminal
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusReversed  Status = "REVERSED"
)

// ParseStatus validates and converts a raw status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// IsValid reports whether the status belongs to the lifecycle.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusReversed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusReversed
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		return next == StatusReversed
	default:
		return false
	}
}

// ValidateTransition returns ErrInvalidTransition when from → to is forbidden.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("from status: %w: %q", ErrInvalidStatus, from)
	}
	if !to.IsValid() {
		return fmt.Errorf("to status: %w: %q", ErrInvalidStatus, to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (s Status) String() string {
	return string(s)
}
