// Package sweep periodically settles auctions whose deadline has passed
// and retries auctions held on insufficient balance. It reuses the regular
// settlement entry point and inherits its idempotence, so overlapping
// invocations and manual settlements are harmless.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/guildhall/auctioneer/internal/auction"
	"github.com/guildhall/auctioneer/internal/clock"
)

// Sweeper drives periodic settlement of due auctions.
type Sweeper struct {
	registry *auction.Registry
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// New returns a Sweeper.
func New(registry *auction.Registry, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "settlement sweep started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep settles every due auction once.
func (s *Sweeper) Sweep(ctx context.Context) {
	due := s.registry.DueForSettlement(s.clock.Now().UTC())
	for _, id := range due {
		res, err := s.registry.Settle(ctx, id)
		if err != nil {
			// Dependency failure: status unchanged, retried next sweep.
			s.logger.ErrorContext(ctx, "sweep settlement failed",
				slog.String("auction_id", id),
				slog.Any("error", err),
			)
			continue
		}
		s.logger.InfoContext(ctx, "sweep settled auction",
			slog.String("auction_id", id),
			slog.String("result", string(res)),
		)
	}
}
