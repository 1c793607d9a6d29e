package store

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientGold is returned by conditional debits that would take a
// member's balance below zero. The row is left untouched.
var ErrInsufficientGold = errors.New("insufficient gold")

// Member represents a registered guild member.
type Member struct {
	ID          string    `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Gold        int       `db:"gold" json:"gold"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Auction represents an auction row mirroring the live aggregate for the
// read side. The event journal is the authoritative record.
type Auction struct {
	ID              string    `db:"id"`
	ItemID          string    `db:"item_id"`
	StartingPrice   int       `db:"starting_price"`
	CurrentPrice    int       `db:"current_price"`
	BuyoutPrice     int       `db:"buyout_price"`
	Status          string    `db:"status"`
	EndTime         time.Time `db:"end_time"`
	HighestBidderID *string   `db:"highest_bidder_id"`
	CreatedBy       string    `db:"created_by"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Bid represents an accepted bid row. Bids are insert-only.
type Bid struct {
	ID        string    `db:"id"`
	AuctionID string    `db:"auction_id"`
	BidderID  string    `db:"bidder_id"`
	Amount    int       `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// MemberRepository defines member persistence operations.
type MemberRepository interface {
	Create(ctx context.Context, m *Member) error
	GetByID(ctx context.Context, id string) (*Member, error)
	List(ctx context.Context) ([]Member, error)
	// AdjustGold applies an unconditional delta (awards, refunds).
	AdjustGold(ctx context.Context, id string, delta int) error
	// DebitGold subtracts amount only when the balance covers it,
	// returning ErrInsufficientGold otherwise. Single-statement, atomic.
	DebitGold(ctx context.Context, id string, amount int) error
}

// AuctionRepository defines auction row persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	UpdateBidState(ctx context.Context, id string, currentPrice int, highestBidderID string) error
	SetStatus(ctx context.Context, id string, status string) error
	ListByStatus(ctx context.Context, statuses ...string) ([]Auction, error)
}

// BidRepository defines bid row persistence operations.
type BidRepository interface {
	Insert(ctx context.Context, b *Bid) error
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
}
