package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds means a debit would take a user below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidTransfer means a transfer request is malformed.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrInvalidAmount means an amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidKind means a transaction kind is not recognised.
	ErrInvalidKind = errors.New("unknown transaction kind")
)

// InsufficientFundsError carries the balance that failed the floor check.
type InsufficientFundsError struct {
	Account  string
	Balance  int64
	Required int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %d, requires %d", e.Account, e.Balance, e.Required)
}

// Unwrap lets errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
