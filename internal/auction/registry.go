package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildhall/auctioneer/internal/clock"
	"github.com/guildhall/auctioneer/internal/event"
	"github.com/guildhall/auctioneer/internal/notify"
	"github.com/guildhall/auctioneer/internal/store"
	"github.com/guildhall/auctioneer/internal/wallet"
)

// Registry owns the set of live auctions and is their serialization
// boundary. The registry mutex only guards the map; each auction carries
// its own lock, so mutations on different auctions never block each other.
type Registry struct {
	mu   sync.RWMutex
	live map[string]*Auction

	events   event.Store
	rows     store.AuctionRepository
	bidRows  store.BidRepository
	wallet   wallet.Wallet
	notifier notify.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock

	bidsAccepted metric.Int64Counter
	bidsRejected metric.Int64Counter
	settlements  metric.Int64Counter
}

// NewRegistry creates a new auction Registry.
func NewRegistry(events event.Store, rows store.AuctionRepository, bidRows store.BidRepository,
	w wallet.Wallet, n notify.Notifier, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Registry {

	meter := otel.Meter("github.com/guildhall/auctioneer/internal/auction")
	bidsAccepted, _ := meter.Int64Counter("auction.bids.accepted")
	bidsRejected, _ := meter.Int64Counter("auction.bids.rejected")
	settlements, _ := meter.Int64Counter("auction.settlements")

	return &Registry{
		live:         make(map[string]*Auction),
		events:       events,
		rows:         rows,
		bidRows:      bidRows,
		wallet:       w,
		notifier:     n,
		logger:       logger,
		tracer:       tp.Tracer("github.com/guildhall/auctioneer/internal/auction"),
		clock:        clk,
		bidsAccepted: bidsAccepted,
		bidsRejected: bidsRejected,
		settlements:  settlements,
	}
}

// CreateAuction creates and tracks a new active auction.
func (r *Registry) CreateAuction(ctx context.Context, itemID string, startingPrice, buyoutPrice int, endTime time.Time, createdBy string) (Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.CreateAuction",
		trace.WithAttributes(
			attribute.String("item.id", itemID),
			attribute.String("created_by", createdBy),
		),
	)
	defer span.End()

	a, err := New(uuid.NewString(), itemID, startingPrice, buyoutPrice, endTime, createdBy, r.clock)
	if err != nil {
		return Snapshot{}, err
	}

	// The event journal is authoritative; creation fails if it cannot be
	// recorded.
	if err := r.events.Append(ctx, a.PendingEvents()...); err != nil {
		return Snapshot{}, fmt.Errorf("persisting auction created event: %w", err)
	}
	r.mirrorCreate(ctx, a)

	r.mu.Lock()
	r.live[a.ID] = a
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("item_id", itemID),
		slog.Int("starting_price", startingPrice),
	)
	return a.Snapshot(), nil
}

// PlaceBid places a bid on an active auction and returns the updated
// snapshot. A bid that satisfies the buyout price triggers settlement
// immediately, independent of the deadline.
func (r *Registry) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int) (Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction.id", auctionID),
			attribute.String("bidder.id", bidderID),
			attribute.Int("bid.amount", amount),
		),
	)
	defer span.End()

	a, ok := r.lookup(auctionID)
	if !ok {
		return Snapshot{}, ErrAuctionNotFound
	}

	b, err := a.PlaceBid(ctx, bidderID, amount)
	if err != nil {
		r.bidsRejected.Add(ctx, 1)
		return Snapshot{}, err
	}
	r.bidsAccepted.Add(ctx, 1)

	r.persist(ctx, a)
	r.mirrorBid(ctx, a, b)

	if a.BuyoutMet() {
		if res, settleErr := r.Settle(ctx, auctionID); settleErr != nil {
			// The bid stands; the sweep retries settlement.
			r.logger.ErrorContext(ctx, "buyout settlement failed",
				slog.String("auction_id", auctionID),
				slog.Any("error", settleErr),
			)
		} else {
			r.logger.InfoContext(ctx, "buyout triggered settlement",
				slog.String("auction_id", auctionID),
				slog.String("result", string(res)),
			)
		}
	}

	return a.Snapshot(), nil
}

// CancelAuction withdraws an active auction on behalf of its holder.
func (r *Registry) CancelAuction(ctx context.Context, auctionID, callerID string) (Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.CancelAuction",
		trace.WithAttributes(attribute.String("auction.id", auctionID)),
	)
	defer span.End()

	a, ok := r.lookup(auctionID)
	if !ok {
		return Snapshot{}, ErrAuctionNotFound
	}

	if err := a.Cancel(ctx, callerID); err != nil {
		return Snapshot{}, err
	}

	r.persist(ctx, a)
	r.mirrorStatus(ctx, a)

	snap := a.Snapshot()
	if snap.HighestBidderID != "" {
		r.notifier.Emit(ctx, notify.Event{
			Kind:        notify.AuctionCancelled,
			RecipientID: snap.HighestBidderID,
			AuctionID:   snap.ID,
			ItemID:      snap.ItemID,
		})
	}

	r.logger.InfoContext(ctx, "auction cancelled", slog.String("auction_id", auctionID))
	return snap, nil
}

// ConfirmTransaction records the holder's confirmation that the item
// changed hands, moving a completed auction to settled.
func (r *Registry) ConfirmTransaction(ctx context.Context, auctionID, callerID string) (Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.ConfirmTransaction",
		trace.WithAttributes(attribute.String("auction.id", auctionID)),
	)
	defer span.End()

	a, ok := r.lookup(auctionID)
	if !ok {
		return Snapshot{}, ErrAuctionNotFound
	}

	if err := a.Confirm(ctx, callerID); err != nil {
		return Snapshot{}, err
	}

	r.persist(ctx, a)
	r.mirrorStatus(ctx, a)

	r.logger.InfoContext(ctx, "transaction confirmed",
		slog.String("auction_id", auctionID),
		slog.String("confirmed_by", callerID),
	)
	return a.Snapshot(), nil
}

// GetAuction returns a consistent snapshot of an auction, falling back to
// the event journal for auctions not held in memory.
func (r *Registry) GetAuction(ctx context.Context, auctionID string) (Snapshot, error) {
	if a, ok := r.lookup(auctionID); ok {
		return a.Snapshot(), nil
	}
	a, err := r.replay(ctx, auctionID)
	if err != nil {
		return Snapshot{}, err
	}
	return a.Snapshot(), nil
}

// BidHistory returns the ordered bid record for an auction.
func (r *Registry) BidHistory(ctx context.Context, auctionID string) ([]Bid, error) {
	if a, ok := r.lookup(auctionID); ok {
		return a.History(), nil
	}
	a, err := r.replay(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return a.History(), nil
}

// DueForSettlement returns the ids of auctions the sweep should settle:
// active auctions whose end condition is met with at least one bid, and
// pending auctions awaiting a retry.
func (r *Registry) DueForSettlement(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []string
	for id, a := range r.live {
		a.mu.RLock()
		eligible := (a.Status == StatusActive && a.closeable(now) && a.HighestBidderID != "") ||
			a.Status == StatusPending
		a.mu.RUnlock()
		if eligible {
			due = append(due, id)
		}
	}
	return due
}

// Recover replays all auctions from the event store and loads those that
// still need work (active, pending, or awaiting confirmation) into memory.
// Used on startup and leader failover.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.Recover")
	defer span.End()

	created, err := r.events.LoadByType(ctx, event.AuctionCreated)
	if err != nil {
		return 0, fmt.Errorf("loading auction created events: %w", err)
	}

	seen := make(map[string]struct{}, len(created))
	var ids []string
	for _, e := range created {
		if _, ok := seen[e.AggregateID]; !ok {
			seen[e.AggregateID] = struct{}{}
			ids = append(ids, e.AggregateID)
		}
	}

	recovered := 0
	for _, id := range ids {
		a, replayErr := r.replay(ctx, id)
		if replayErr != nil {
			r.logger.WarnContext(ctx, "failed to replay auction during recovery",
				slog.String("auction_id", id),
				slog.Any("error", replayErr),
			)
			continue
		}
		if a.Status.Terminal() {
			continue
		}

		r.mu.Lock()
		r.live[id] = a
		r.mu.Unlock()
		recovered++

		r.logger.InfoContext(ctx, "recovered auction",
			slog.String("auction_id", id),
			slog.String("status", string(a.Status)),
			slog.Int("bids", len(a.Bids)),
		)
	}

	r.logger.InfoContext(ctx, "auction recovery complete",
		slog.Int("total_created", len(ids)),
		slog.Int("recovered", recovered),
	)
	return recovered, nil
}

func (r *Registry) lookup(auctionID string) (*Auction, bool) {
	r.mu.RLock()
	a, ok := r.live[auctionID]
	r.mu.RUnlock()
	return a, ok
}

func (r *Registry) replay(ctx context.Context, auctionID string) (*Auction, error) {
	events, err := r.events.Load(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading events for auction %s: %w", auctionID, err)
	}
	if len(events) == 0 {
		return nil, ErrAuctionNotFound
	}
	return Replay(events, r.clock)
}

// persist appends an auction's pending events. Journal write failures
// after an accepted mutation are logged, not unwound; the in-memory
// aggregate remains authoritative for the running process.
func (r *Registry) persist(ctx context.Context, a *Auction) {
	events := a.PendingEvents()
	if len(events) == 0 {
		return
	}
	if err := r.events.Append(ctx, events...); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist auction events",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
	}
}

// mirrorCreate, mirrorBid and mirrorStatus keep the read-side rows in step
// with the aggregate. Best-effort: the journal is the source of truth.
func (r *Registry) mirrorCreate(ctx context.Context, a *Auction) {
	snap := a.Snapshot()
	row := &store.Auction{
		ID:            snap.ID,
		ItemID:        snap.ItemID,
		StartingPrice: snap.StartingPrice,
		CurrentPrice:  snap.CurrentPrice,
		BuyoutPrice:   snap.BuyoutPrice,
		Status:        string(snap.Status),
		EndTime:       snap.EndTime,
		CreatedBy:     snap.CreatedBy,
	}
	if err := r.rows.Create(ctx, row); err != nil {
		r.logger.ErrorContext(ctx, "failed to mirror auction row",
			slog.String("auction_id", a.ID), slog.Any("error", err))
	}
}

func (r *Registry) mirrorBid(ctx context.Context, a *Auction, b Bid) {
	if err := r.bidRows.Insert(ctx, &store.Bid{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt,
	}); err != nil {
		r.logger.ErrorContext(ctx, "failed to mirror bid row",
			slog.String("auction_id", a.ID), slog.Any("error", err))
	}
	if err := r.rows.UpdateBidState(ctx, a.ID, b.Amount, b.BidderID); err != nil {
		r.logger.ErrorContext(ctx, "failed to mirror auction bid state",
			slog.String("auction_id", a.ID), slog.Any("error", err))
	}
}

func (r *Registry) mirrorStatus(ctx context.Context, a *Auction) {
	snap := a.Snapshot()
	if err := r.rows.SetStatus(ctx, snap.ID, string(snap.Status)); err != nil {
		r.logger.ErrorContext(ctx, "failed to mirror auction status",
			slog.String("auction_id", snap.ID), slog.Any("error", err))
	}
}
