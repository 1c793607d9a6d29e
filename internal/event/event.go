package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated            Type = "auction.created"
	AuctionBidPlaced          Type = "auction.bid_placed"
	AuctionCompleted          Type = "auction.completed"
	AuctionSettlementDeferred Type = "auction.settlement_deferred"
	AuctionSettled            Type = "auction.settled"
	AuctionCancelled          Type = "auction.cancelled"

	GoldDebited  Type = "gold.debited"
	GoldCredited Type = "gold.credited"

	MemberRegistered Type = "member.registered"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionCreatedData is the payload for AuctionCreated events.
type AuctionCreatedData struct {
	ItemID        string    `json:"item_id"`
	StartingPrice int       `json:"starting_price"`
	BuyoutPrice   int       `json:"buyout_price,omitempty"`
	EndTime       time.Time `json:"end_time"`
	CreatedBy     string    `json:"created_by"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	BidID    string    `json:"bid_id"`
	BidderID string    `json:"bidder_id"`
	Amount   int       `json:"amount"`
	PlacedAt time.Time `json:"placed_at"`
}

// AuctionCompletedData is the payload for AuctionCompleted events,
// recorded when the winner's debit succeeded.
type AuctionCompletedData struct {
	WinnerID string `json:"winner_id"`
	Amount   int    `json:"amount"`
	Buyout   bool   `json:"buyout,omitempty"`
}

// SettlementDeferredData is the payload for AuctionSettlementDeferred
// events, recorded when the winner's balance could not cover the debit.
type SettlementDeferredData struct {
	WinnerID string `json:"winner_id"`
	Amount   int    `json:"amount"`
}

// AuctionSettledData is the payload for AuctionSettled events.
type AuctionSettledData struct {
	ConfirmedBy string `json:"confirmed_by"`
}

// GoldChangeData is the payload for gold ledger events.
type GoldChangeData struct {
	MemberID string `json:"member_id"`
	Amount   int    `json:"amount"`
	Reason   string `json:"reason"`
}

// MemberRegisteredData is the payload for MemberRegistered events.
type MemberRegisteredData struct {
	DisplayName string `json:"display_name"`
}
