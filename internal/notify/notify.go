// Package notify delivers user-facing notification events. Delivery is
// fire-and-forget: a failed delivery never rolls back the settlement that
// produced it.
package notify

import "context"

// Kind identifies a notification event kind.
type Kind string

const (
	// AuctionWon tells the winning bidder the item is theirs.
	AuctionWon Kind = "auction.won"
	// ConfirmReceipt asks the holder to confirm the item transfer.
	ConfirmReceipt Kind = "auction.confirm_receipt"
	// BalanceHold tells the winner settlement is waiting on a recharge.
	BalanceHold Kind = "auction.balance_hold"
	// AuctionCancelled tells bidders the holder withdrew the auction.
	AuctionCancelled Kind = "auction.cancelled"
)

// Event is a single notification to one recipient.
type Event struct {
	Kind        Kind
	RecipientID string
	AuctionID   string
	ItemID      string
	Amount      int
}

// Notifier emits notification events.
type Notifier interface {
	Emit(ctx context.Context, e Event)
}
