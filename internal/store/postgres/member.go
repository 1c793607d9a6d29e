package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/guildhall/auctioneer/internal/clock"
	"github.com/guildhall/auctioneer/internal/store"
)

// MemberRepo implements store.MemberRepository with sqlx.
type MemberRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewMemberRepo returns a new MemberRepo.
func NewMemberRepo(db *sqlx.DB, clk clock.Clock) *MemberRepo {
	return &MemberRepo{db: db, clock: clk}
}

func (r *MemberRepo) Create(ctx context.Context, m *store.Member) error {
	now := r.clock.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, display_name, gold, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.DisplayName, m.Gold, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating member: %w", err)
	}
	return nil
}

func (r *MemberRepo) GetByID(ctx context.Context, id string) (*store.Member, error) {
	var m store.Member
	err := r.db.GetContext(ctx, &m, `SELECT * FROM members WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return &m, nil
}

func (r *MemberRepo) List(ctx context.Context) ([]store.Member, error) {
	var members []store.Member
	err := r.db.SelectContext(ctx, &members, `SELECT * FROM members ORDER BY gold DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return members, nil
}

func (r *MemberRepo) AdjustGold(ctx context.Context, id string, delta int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members SET gold = gold + $1, updated_at = $2 WHERE id = $3`,
		delta, r.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("adjusting gold: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("member %s not found", id)
	}
	return nil
}

// DebitGold subtracts amount in a single conditional statement so the
// debit either fully applies or fully fails.
func (r *MemberRepo) DebitGold(ctx context.Context, id string, amount int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members SET gold = gold - $1, updated_at = $2
		 WHERE id = $3 AND gold >= $1`,
		amount, r.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("debiting gold: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Distinguish a missing member from an uncovered balance.
		var exists bool
		if err := r.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, id); err != nil {
			return fmt.Errorf("checking member %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("member %s not found", id)
		}
		return store.ErrInsufficientGold
	}
	return nil
}
