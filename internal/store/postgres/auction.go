package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/guildhall/auctioneer/internal/clock"
	"github.com/guildhall/auctioneer/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	now := r.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions (id, item_id, starting_price, current_price, buyout_price,
		                       status, end_time, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ItemID, a.StartingPrice, a.CurrentPrice, a.BuyoutPrice,
		a.Status, a.EndTime, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) UpdateBidState(ctx context.Context, id string, currentPrice int, highestBidderID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET current_price = $1, highest_bidder_id = $2, updated_at = $3
		 WHERE id = $4`,
		currentPrice, highestBidderID, r.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating auction bid state: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found", id)
	}
	return nil
}

func (r *AuctionRepo) SetStatus(ctx context.Context, id string, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1, updated_at = $2 WHERE id = $3`,
		status, r.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting auction status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction %s not found", id)
	}
	return nil
}

func (r *AuctionRepo) ListByStatus(ctx context.Context, statuses ...string) ([]store.Auction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = s
	}

	var auctions []store.Auction
	query := fmt.Sprintf(
		`SELECT * FROM auctions WHERE status IN (%s) ORDER BY created_at ASC`,
		strings.Join(placeholders, ", "),
	)
	if err := r.db.SelectContext(ctx, &auctions, query, args...); err != nil {
		return nil, fmt.Errorf("listing auctions by status: %w", err)
	}
	return auctions, nil
}
