package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notification events to the structured log. It is the
// default backend and the fallback when no Discord channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Emit logs the event.
func (n *LogNotifier) Emit(ctx context.Context, e Event) {
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", string(e.Kind)),
		slog.String("recipient_id", e.RecipientID),
		slog.String("auction_id", e.AuctionID),
		slog.String("item_id", e.ItemID),
		slog.Int("amount", e.Amount),
	)
}
