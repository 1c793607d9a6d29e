package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildhall/auctioneer/internal/clock"
	"github.com/guildhall/auctioneer/internal/event"
)

var tracer = otel.Tracer("github.com/guildhall/auctioneer/internal/auction")

// Bid is an immutable fact: once accepted it is never mutated or deleted,
// not even when the auction is cancelled.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Auction is the aggregate root for a single item sale.
// All mutations on one auction are serialized by its own mutex; auctions
// never share a lock, so independent auctions proceed in parallel.
type Auction struct {
	mu sync.RWMutex

	ID              string
	ItemID          string
	StartingPrice   int
	CurrentPrice    int
	BuyoutPrice     int // 0 means no buyout
	Status          Status
	EndTime         time.Time
	HighestBidderID string
	CreatedBy       string
	Bids            []Bid
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int

	clock  clock.Clock
	events []event.Event
}

// Snapshot is a consistent read-only copy of an auction's state.
type Snapshot struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	StartingPrice   int       `json:"starting_price"`
	CurrentPrice    int       `json:"current_price"`
	BuyoutPrice     int       `json:"buyout_price,omitempty"`
	Status          Status    `json:"status"`
	EndTime         time.Time `json:"end_time"`
	HighestBidderID string    `json:"highest_bidder_id,omitempty"`
	CreatedBy       string    `json:"created_by"`
	BidCount        int       `json:"bid_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// New creates a new active auction and records a created event.
// The starting price must be non-negative and a buyout price, when set,
// must be at least the starting price.
func New(id, itemID string, startingPrice, buyoutPrice int, endTime time.Time, createdBy string, clk clock.Clock) (*Auction, error) {
	if startingPrice < 0 {
		return nil, fmt.Errorf("%w: starting price %d is negative", ErrInvalidPrice, startingPrice)
	}
	if buyoutPrice != 0 && buyoutPrice < startingPrice {
		return nil, fmt.Errorf("%w: buyout %d below starting price %d", ErrInvalidPrice, buyoutPrice, startingPrice)
	}

	now := clk.Now().UTC()
	a := &Auction{
		ID:            id,
		ItemID:        itemID,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		BuyoutPrice:   buyoutPrice,
		Status:        StatusActive,
		EndTime:       endTime,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		clock:         clk,
	}

	data, _ := json.Marshal(event.AuctionCreatedData{
		ItemID:        itemID,
		StartingPrice: startingPrice,
		BuyoutPrice:   buyoutPrice,
		EndTime:       endTime,
		CreatedBy:     createdBy,
	})
	a.recordEvent(event.AuctionCreated, data)
	return a, nil
}

// PlaceBid validates and appends a bid. Thread-safe: validation and append
// happen inside the same critical section, so a bid racing another is
// re-validated against the already-raised price and rejected if it no
// longer strictly exceeds it.
func (a *Auction) PlaceBid(ctx context.Context, bidderID string, amount int) (Bid, error) {
	ctx, span := tracer.Start(ctx, "Auction.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("bidder.id", bidderID),
			attribute.Int("bid.amount", amount),
		),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status != StatusActive {
		return Bid{}, ErrAuctionNotActive
	}

	now := a.clock.Now().UTC()
	if !now.Before(a.EndTime) || a.buyoutMet() {
		return Bid{}, ErrAuctionExpired
	}

	// Equality is rejected: a bid must strictly raise the price.
	if amount <= a.CurrentPrice {
		return Bid{}, fmt.Errorf("%w: current price is %d", ErrAmountNotGreater, a.CurrentPrice)
	}

	b := Bid{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	a.Bids = append(a.Bids, b)
	a.CurrentPrice = amount
	a.HighestBidderID = bidderID
	a.UpdatedAt = now

	data, _ := json.Marshal(event.BidPlacedData{
		BidID:    b.ID,
		BidderID: bidderID,
		Amount:   amount,
		PlacedAt: now,
	})
	a.recordEvent(event.AuctionBidPlaced, data)

	slog.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", a.ID),
		slog.String("bidder_id", bidderID),
		slog.Int("amount", amount),
	)
	return b, nil
}

// Cancel withdraws an active auction. Only the holder may cancel; existing
// bids are retained for audit.
func (a *Auction) Cancel(ctx context.Context, callerID string) error {
	_, span := tracer.Start(ctx, "Auction.Cancel",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if callerID != a.CreatedBy {
		return ErrNotAuthorized
	}
	if a.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if err := a.transition(StatusCancelled); err != nil {
		return err
	}
	a.recordEvent(event.AuctionCancelled, json.RawMessage(`{}`))
	return nil
}

// Confirm records the holder's confirmation of the item transfer, moving
// the auction from completed to settled. Repeated confirmations by the
// holder are a no-op success so duplicate client submissions are harmless.
func (a *Auction) Confirm(ctx context.Context, callerID string) error {
	_, span := tracer.Start(ctx, "Auction.Confirm",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if callerID != a.CreatedBy {
		return ErrNotAuthorized
	}
	if a.Status == StatusSettled {
		return nil
	}
	if a.Status != StatusCompleted {
		return ErrAuctionNotCompleted
	}
	if err := a.transition(StatusSettled); err != nil {
		return err
	}

	data, _ := json.Marshal(event.AuctionSettledData{ConfirmedBy: callerID})
	a.recordEvent(event.AuctionSettled, data)
	return nil
}

// Leader returns the current leading bidder and price (thread-safe).
// ok is false when no bid has been accepted.
func (a *Auction) Leader() (bidderID string, amount int, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.HighestBidderID == "" {
		return "", 0, false
	}
	return a.HighestBidderID, a.CurrentPrice, true
}

// History returns the ordered bid record (thread-safe copy).
func (a *Auction) History() []Bid {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Bid, len(a.Bids))
	copy(out, a.Bids)
	return out
}

// Snapshot returns a consistent copy of the auction's state.
func (a *Auction) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot()
}

func (a *Auction) snapshot() Snapshot {
	return Snapshot{
		ID:              a.ID,
		ItemID:          a.ItemID,
		StartingPrice:   a.StartingPrice,
		CurrentPrice:    a.CurrentPrice,
		BuyoutPrice:     a.BuyoutPrice,
		Status:          a.Status,
		EndTime:         a.EndTime,
		HighestBidderID: a.HighestBidderID,
		CreatedBy:       a.CreatedBy,
		BidCount:        len(a.Bids),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// BuyoutMet reports whether an accepted bid has met the buyout price
// (thread-safe).
func (a *Auction) BuyoutMet() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buyoutMet()
}

func (a *Auction) buyoutMet() bool {
	return a.BuyoutPrice > 0 && a.HighestBidderID != "" && a.CurrentPrice >= a.BuyoutPrice
}

// closeable reports whether the natural end condition is met: the deadline
// has elapsed or a bid satisfied the buyout.
func (a *Auction) closeable(now time.Time) bool {
	return !now.Before(a.EndTime) || a.buyoutMet()
}

// transition applies a status change, enforcing the transition table.
func (a *Auction) transition(next Status) error {
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (auction %s)", ErrIllegalTransition, a.Status, next, a.ID)
	}
	a.Status = next
	a.UpdatedAt = a.clock.Now().UTC()
	return nil
}

// PendingEvents returns uncommitted events and clears the buffer.
func (a *Auction) PendingEvents() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := a.events
	a.events = nil
	return events
}

func (a *Auction) recordEvent(t event.Type, data json.RawMessage) {
	a.Version++
	a.events = append(a.events, event.Event{
		AggregateID: a.ID,
		Type:        t,
		Data:        data,
		Version:     a.Version,
		CreatedAt:   a.clock.Now().UTC(),
	})
}

// Replay reconstructs an auction from its event history.
func Replay(events []event.Event, clk clock.Clock) (*Auction, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events to replay")
	}

	a := &Auction{clock: clk}
	for _, e := range events {
		switch e.Type {
		case event.AuctionCreated:
			var d event.AuctionCreatedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling created event: %w", err)
			}
			a.ID = e.AggregateID
			a.ItemID = d.ItemID
			a.StartingPrice = d.StartingPrice
			a.CurrentPrice = d.StartingPrice
			a.BuyoutPrice = d.BuyoutPrice
			a.EndTime = d.EndTime
			a.CreatedBy = d.CreatedBy
			a.Status = StatusActive
			a.CreatedAt = e.CreatedAt

		case event.AuctionBidPlaced:
			var d event.BidPlacedData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("unmarshalling bid event: %w", err)
			}
			a.Bids = append(a.Bids, Bid{
				ID:        d.BidID,
				AuctionID: e.AggregateID,
				BidderID:  d.BidderID,
				Amount:    d.Amount,
				CreatedAt: d.PlacedAt,
			})
			a.CurrentPrice = d.Amount
			a.HighestBidderID = d.BidderID

		case event.AuctionCompleted:
			a.Status = StatusCompleted

		case event.AuctionSettlementDeferred:
			a.Status = StatusPending

		case event.AuctionSettled:
			a.Status = StatusSettled

		case event.AuctionCancelled:
			a.Status = StatusCancelled
		}
		a.Version = e.Version
		a.UpdatedAt = e.CreatedAt
	}
	return a, nil
}
