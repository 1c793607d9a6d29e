package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildhall/auctioneer/internal/event"
	"github.com/guildhall/auctioneer/internal/notify"
	"github.com/guildhall/auctioneer/internal/wallet"
)

// SettleResult is the outcome of a settlement attempt.
type SettleResult string

const (
	// ResultSettled means the winner's debit succeeded and the auction is
	// now completed, awaiting the holder's confirmation.
	ResultSettled SettleResult = "settled"
	// ResultInsufficientBalance means the winner cannot cover the price;
	// the auction is pending until settlement is re-invoked.
	ResultInsufficientBalance SettleResult = "insufficient_balance"
	// ResultNotEligible means the auction is not in a settleable state.
	ResultNotEligible SettleResult = "not_eligible"
	// ResultAlreadySettled means a prior settlement already succeeded;
	// the call had no side effects.
	ResultAlreadySettled SettleResult = "already_settled"
)

// settleOutcome carries winner details out of the critical section so
// notifications can be emitted without holding the auction lock.
type settleOutcome struct {
	winnerID string
	amount   int
	buyout   bool
}

// Settle resolves an auction whose end condition is met: it debits the
// winner through the wallet contract and advances the lifecycle. It is
// idempotent; re-invoking a completed or settled auction reports
// ResultAlreadySettled without touching the wallet. A wallet error that is
// not an insufficient balance leaves the status unchanged so the call can
// be safely retried.
func (r *Registry) Settle(ctx context.Context, auctionID string) (SettleResult, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.Settle",
		trace.WithAttributes(attribute.String("auction.id", auctionID)),
	)
	defer span.End()

	a, ok := r.lookup(auctionID)
	if !ok {
		return "", ErrAuctionNotFound
	}

	res, out, err := a.runSettlement(ctx, r.wallet)
	if err != nil {
		return "", fmt.Errorf("settling auction %s: %w", auctionID, err)
	}

	r.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(res))))
	r.persist(ctx, a)

	switch res {
	case ResultSettled:
		r.mirrorStatus(ctx, a)
		snap := a.Snapshot()
		r.notifier.Emit(ctx, notify.Event{
			Kind:        notify.AuctionWon,
			RecipientID: out.winnerID,
			AuctionID:   snap.ID,
			ItemID:      snap.ItemID,
			Amount:      out.amount,
		})
		r.notifier.Emit(ctx, notify.Event{
			Kind:        notify.ConfirmReceipt,
			RecipientID: snap.CreatedBy,
			AuctionID:   snap.ID,
			ItemID:      snap.ItemID,
			Amount:      out.amount,
		})
		r.logger.InfoContext(ctx, "auction settled",
			slog.String("auction_id", auctionID),
			slog.String("winner_id", out.winnerID),
			slog.Int("amount", out.amount),
			slog.Bool("buyout", out.buyout),
		)

	case ResultInsufficientBalance:
		r.mirrorStatus(ctx, a)
		snap := a.Snapshot()
		r.notifier.Emit(ctx, notify.Event{
			Kind:        notify.BalanceHold,
			RecipientID: out.winnerID,
			AuctionID:   snap.ID,
			ItemID:      snap.ItemID,
			Amount:      out.amount,
		})
		r.logger.InfoContext(ctx, "settlement deferred on insufficient balance",
			slog.String("auction_id", auctionID),
			slog.String("winner_id", out.winnerID),
			slog.Int("amount", out.amount),
		)
	}

	return res, nil
}

// runSettlement holds the auction lock for the whole eligibility check,
// debit and transition, so settlement is mutually exclusive with bids and
// cancellation on the same auction.
func (a *Auction) runSettlement(ctx context.Context, w wallet.Wallet) (SettleResult, settleOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.Status {
	case StatusCompleted, StatusSettled:
		return ResultAlreadySettled, settleOutcome{}, nil
	case StatusCancelled:
		return ResultNotEligible, settleOutcome{}, nil
	case StatusActive:
		if !a.closeable(a.clock.Now().UTC()) {
			return ResultNotEligible, settleOutcome{}, nil
		}
		if a.HighestBidderID == "" {
			// Closed with no bids: a no-op sale, eligible only for
			// cancellation.
			return ResultNotEligible, settleOutcome{}, nil
		}
	case StatusPending:
		// Retry path; the winner was fixed when the auction closed.
	}

	out := settleOutcome{
		winnerID: a.HighestBidderID,
		amount:   a.CurrentPrice,
		buyout:   a.buyoutMet(),
	}

	err := w.Debit(ctx, out.winnerID, out.amount, "auction "+a.ID)
	switch {
	case errors.Is(err, wallet.ErrInsufficientBalance):
		if a.Status == StatusActive {
			if terr := a.transition(StatusPending); terr != nil {
				return "", settleOutcome{}, terr
			}
		}
		data, _ := json.Marshal(event.SettlementDeferredData{
			WinnerID: out.winnerID,
			Amount:   out.amount,
		})
		a.recordEvent(event.AuctionSettlementDeferred, data)
		return ResultInsufficientBalance, out, nil

	case err != nil:
		// Ledger unreachable: status unchanged, caller may retry.
		return "", settleOutcome{}, err
	}

	if terr := a.transition(StatusCompleted); terr != nil {
		return "", settleOutcome{}, terr
	}
	data, _ := json.Marshal(event.AuctionCompletedData{
		WinnerID: out.winnerID,
		Amount:   out.amount,
		Buyout:   out.buyout,
	})
	a.recordEvent(event.AuctionCompleted, data)
	return ResultSettled, out, nil
}
