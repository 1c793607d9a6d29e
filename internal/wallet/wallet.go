// Package wallet defines the gold ledger contract the auction engine
// settles against, plus a repository-backed implementation. The engine
// mutates balances through this contract but does not own them.
package wallet

import (
	"context"
	"errors"
)

// ErrInsufficientBalance is returned by Debit when the member's balance
// cannot cover the amount. The balance is left untouched.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Wallet is the currency ledger contract.
// Debit must be atomic: it either fully applies or fully fails.
type Wallet interface {
	Debit(ctx context.Context, memberID string, amount int, reason string) error
	Credit(ctx context.Context, memberID string, amount int, reason string) error
	// BalanceOf is advisory only; bid validation never consults it.
	BalanceOf(ctx context.Context, memberID string) (int, error)
}
