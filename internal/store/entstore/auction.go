package entstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/guildhall/auctioneer/internal/clock"
	"github.com/guildhall/auctioneer/internal/store"
)

// AuctionRepo implements store.AuctionRepository using database/sql.
type AuctionRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sql.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

const auctionColumns = `id, item_id, starting_price, current_price, buyout_price,
	status, end_time, highest_bidder_id, created_by, created_at, updated_at`

func scanAuction(row interface{ Scan(...interface{}) error }, a *store.Auction) error {
	return row.Scan(&a.ID, &a.ItemID, &a.StartingPrice, &a.CurrentPrice, &a.BuyoutPrice,
		&a.Status, &a.EndTime, &a.HighestBidderID, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
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
	a := &store.Auction{}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	if err := scanAuction(row, a); err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return a, nil
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

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing auctions by status: %w", err)
	}
	defer rows.Close()

	var auctions []store.Auction
	for rows.Next() {
		var a store.Auction
		if err := scanAuction(rows, &a); err != nil {
			return nil, fmt.Errorf("scanning auction row: %w", err)
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}
