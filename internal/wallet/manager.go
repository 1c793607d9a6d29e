package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildhall/auctioneer/internal/event"
	"github.com/guildhall/auctioneer/internal/store"
)

// Manager implements Wallet on top of the member repository.
type Manager struct {
	members store.MemberRepository
	events  event.Store
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewManager returns a new wallet Manager.
func NewManager(members store.MemberRepository, events event.Store, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		members: members,
		events:  events,
		logger:  logger,
		tracer:  tp.Tracer("github.com/guildhall/auctioneer/internal/wallet"),
	}
}

// RegisterMember registers a new guild member with a zero balance.
func (m *Manager) RegisterMember(ctx context.Context, displayName string) (*store.Member, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RegisterMember",
		trace.WithAttributes(attribute.String("member.name", displayName)),
	)
	defer span.End()

	member := &store.Member{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Gold:        0,
	}
	if err := m.members.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("creating member: %w", err)
	}

	data, _ := json.Marshal(event.MemberRegisteredData{DisplayName: displayName})
	evt := event.Event{
		AggregateID: member.ID,
		Type:        event.MemberRegistered,
		Data:        data,
		Version:     1,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append member registered event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "member registered",
		slog.String("member_id", member.ID),
		slog.String("name", displayName),
	)
	return member, nil
}

// Debit atomically subtracts gold from a member. It returns
// ErrInsufficientBalance and leaves the balance untouched when the member
// cannot cover the amount.
func (m *Manager) Debit(ctx context.Context, memberID string, amount int, reason string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Debit",
		trace.WithAttributes(
			attribute.String("member.id", memberID),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	if err := m.members.DebitGold(ctx, memberID, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientGold) {
			return fmt.Errorf("debiting member %s: %w", memberID, ErrInsufficientBalance)
		}
		return fmt.Errorf("debiting member %s: %w", memberID, err)
	}

	data, _ := json.Marshal(event.GoldChangeData{
		MemberID: memberID,
		Amount:   -amount,
		Reason:   reason,
	})
	evt := event.Event{
		AggregateID: memberID,
		Type:        event.GoldDebited,
		Data:        data,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append gold debited event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "gold debited",
		slog.String("member_id", memberID),
		slog.Int("amount", amount),
		slog.String("reason", reason),
	)
	return nil
}

// Credit adds gold to a member's balance.
func (m *Manager) Credit(ctx context.Context, memberID string, amount int, reason string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Credit",
		trace.WithAttributes(
			attribute.String("member.id", memberID),
			attribute.Int("amount", amount),
		),
	)
	defer span.End()

	if err := m.members.AdjustGold(ctx, memberID, amount); err != nil {
		return fmt.Errorf("crediting member %s: %w", memberID, err)
	}

	data, _ := json.Marshal(event.GoldChangeData{
		MemberID: memberID,
		Amount:   amount,
		Reason:   reason,
	})
	evt := event.Event{
		AggregateID: memberID,
		Type:        event.GoldCredited,
		Data:        data,
	}
	if err := m.events.Append(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "failed to append gold credited event", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "gold credited",
		slog.String("member_id", memberID),
		slog.Int("amount", amount),
		slog.String("reason", reason),
	)
	return nil
}

// BalanceOf returns a member's current balance. Advisory only.
func (m *Manager) BalanceOf(ctx context.Context, memberID string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.BalanceOf")
	defer span.End()

	member, err := m.members.GetByID(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("looking up member %s: %w", memberID, err)
	}
	return member.Gold, nil
}
