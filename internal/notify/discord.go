package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/guildhall/auctioneer/internal/config"
)

// DiscordNotifier announces auction outcomes in a guild Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// NewDiscordNotifier opens a Discord session for the configured channel.
func NewDiscordNotifier(cfg config.DiscordConfig, logger *slog.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("opening discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: cfg.ChannelID,
		logger:    logger,
	}, nil
}

// Emit posts the event to the announcement channel. Errors are logged and
// swallowed; notification delivery never affects settlement.
func (n *DiscordNotifier) Emit(ctx context.Context, e Event) {
	msg := n.render(e)
	if msg == "" {
		return
	}
	if _, err := n.session.ChannelMessageSend(n.channelID, msg); err != nil {
		n.logger.ErrorContext(ctx, "discord notification failed",
			slog.String("kind", string(e.Kind)),
			slog.String("auction_id", e.AuctionID),
			slog.Any("error", err),
		)
	}
}

func (n *DiscordNotifier) render(e Event) string {
	switch e.Kind {
	case AuctionWon:
		return fmt.Sprintf("<@%s> won auction `%s` (item %s) for **%d gold**!", e.RecipientID, e.AuctionID, e.ItemID, e.Amount)
	case ConfirmReceipt:
		return fmt.Sprintf("<@%s> please confirm the item transfer for auction `%s`.", e.RecipientID, e.AuctionID)
	case BalanceHold:
		return fmt.Sprintf("<@%s> your balance cannot cover **%d gold** for auction `%s`; settlement is on hold until you recharge.", e.RecipientID, e.Amount, e.AuctionID)
	case AuctionCancelled:
		return fmt.Sprintf("Auction `%s` (item %s) was cancelled by the holder.", e.AuctionID, e.ItemID)
	}
	return ""
}

// Close shuts down the Discord session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
