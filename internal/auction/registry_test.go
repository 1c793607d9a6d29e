package auction_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/guildhall/auctioneer/internal/auction"
	"github.com/guildhall/auctioneer/internal/event"
	"github.com/guildhall/auctioneer/internal/notify"
	"github.com/guildhall/auctioneer/internal/store"
	"github.com/guildhall/auctioneer/internal/wallet"
)

// --- mock helpers ---

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockEventStore struct {
	mu       sync.Mutex
	events   []event.Event
	appendFn func(events ...event.Event) error
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	if m.appendFn != nil {
		return m.appendFn(events...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Event
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

type mockAuctionRepo struct {
	mu       sync.Mutex
	rows     map[string]*store.Auction
	statuses map[string]string
}

func newMockAuctionRepo() *mockAuctionRepo {
	return &mockAuctionRepo{rows: make(map[string]*store.Auction), statuses: make(map[string]string)}
}

func (m *mockAuctionRepo) Create(_ context.Context, a *store.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = a
	m.statuses[a.ID] = a.Status
	return nil
}

func (m *mockAuctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("auction row %s not found", id)
	}
	return a, nil
}

func (m *mockAuctionRepo) UpdateBidState(_ context.Context, id string, currentPrice int, highestBidderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.rows[id]; ok {
		a.CurrentPrice = currentPrice
		a.HighestBidderID = &highestBidderID
	}
	return nil
}

func (m *mockAuctionRepo) SetStatus(_ context.Context, id string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func (m *mockAuctionRepo) ListByStatus(_ context.Context, statuses ...string) ([]store.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Auction
	for id, a := range m.rows {
		for _, s := range statuses {
			if m.statuses[id] == s {
				out = append(out, *a)
			}
		}
	}
	return out, nil
}

type mockBidRepo struct {
	mu   sync.Mutex
	bids []store.Bid
}

func (m *mockBidRepo) Insert(_ context.Context, b *store.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids = append(m.bids, *b)
	return nil
}

func (m *mockBidRepo) ListByAuction(_ context.Context, auctionID string) ([]store.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out, nil
}

type mockWallet struct {
	mu       sync.Mutex
	balances map[string]int
	debits   int
	err      error
}

func newMockWallet() *mockWallet {
	return &mockWallet{balances: make(map[string]int)}
}

func (m *mockWallet) Debit(_ context.Context, memberID string, amount int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.balances[memberID] < amount {
		return wallet.ErrInsufficientBalance
	}
	m.balances[memberID] -= amount
	m.debits++
	return nil
}

func (m *mockWallet) Credit(_ context.Context, memberID string, amount int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[memberID] += amount
	return nil
}

func (m *mockWallet) BalanceOf(_ context.Context, memberID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[memberID], nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (m *mockNotifier) Emit(_ context.Context, e notify.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *mockNotifier) kinds() []notify.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Kind, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	registry *auction.Registry
	events   *mockEventStore
	rows     *mockAuctionRepo
	wallet   *mockWallet
	notifier *mockNotifier
	clock    *stepClock
}

func newFixture() *fixture {
	es := &mockEventStore{}
	rows := newMockAuctionRepo()
	bids := &mockBidRepo{}
	w := newMockWallet()
	n := &mockNotifier{}
	clk := &stepClock{t: baseTime}

	r := auction.NewRegistry(es, rows, bids, w, n, slog.Default(), noop.NewTracerProvider(), clk)
	return &fixture{registry: r, events: es, rows: rows, wallet: w, notifier: n, clock: clk}
}

// --- tests ---

func TestRegistry_CreateAuction(t *testing.T) {
	f := newFixture()

	snap, err := f.registry.CreateAuction(context.Background(), "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if err != nil {
		t.Fatalf("CreateAuction() error = %v", err)
	}
	if snap.Status != auction.StatusActive {
		t.Errorf("status = %q, want %q", snap.Status, auction.StatusActive)
	}
	if snap.CurrentPrice != 100 {
		t.Errorf("current price = %d, want 100", snap.CurrentPrice)
	}
	if len(f.events.events) != 1 {
		t.Errorf("persisted events = %d, want 1", len(f.events.events))
	}
	if _, ok := f.rows.rows[snap.ID]; !ok {
		t.Error("expected auction row to be mirrored")
	}
}

func TestRegistry_CreateAuction_PersistError(t *testing.T) {
	f := newFixture()
	f.events.appendFn = func(...event.Event) error {
		return fmt.Errorf("journal write error")
	}

	if _, err := f.registry.CreateAuction(context.Background(), "item-1", 100, 0, baseTime.Add(time.Hour), "holder"); err == nil {
		t.Fatal("expected error when the event journal fails")
	}
}

func TestRegistry_CreateAuction_InvalidPrice(t *testing.T) {
	f := newFixture()
	_, err := f.registry.CreateAuction(context.Background(), "item-1", 100, 50, baseTime.Add(time.Hour), "holder")
	if !errors.Is(err, auction.ErrInvalidPrice) {
		t.Errorf("CreateAuction() error = %v, want ErrInvalidPrice", err)
	}
}

func TestRegistry_PlaceBid_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.registry.PlaceBid(context.Background(), "nonexistent", "m1", 100)
	if !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Errorf("PlaceBid() error = %v, want ErrAuctionNotFound", err)
	}
}

func TestRegistry_SettlementLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.wallet.balances["m2"] = 500

	snap, err := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if err != nil {
		t.Fatalf("CreateAuction() error = %v", err)
	}

	if _, err := f.registry.PlaceBid(ctx, snap.ID, "m1", 150); err != nil {
		t.Fatalf("PlaceBid(m1) error = %v", err)
	}
	if _, err := f.registry.PlaceBid(ctx, snap.ID, "m2", 200); err != nil {
		t.Fatalf("PlaceBid(m2) error = %v", err)
	}

	// Before the deadline settlement is not eligible.
	res, err := f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res != auction.ResultNotEligible {
		t.Errorf("Settle() before deadline = %q, want %q", res, auction.ResultNotEligible)
	}

	f.clock.Advance(2 * time.Hour)

	res, err = f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res != auction.ResultSettled {
		t.Fatalf("Settle() = %q, want %q", res, auction.ResultSettled)
	}

	if balance, _ := f.wallet.BalanceOf(ctx, "m2"); balance != 300 {
		t.Errorf("winner balance = %d, want 300", balance)
	}
	got, _ := f.registry.GetAuction(ctx, snap.ID)
	if got.Status != auction.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, auction.StatusCompleted)
	}

	kinds := f.notifier.kinds()
	if len(kinds) != 2 || kinds[0] != notify.AuctionWon || kinds[1] != notify.ConfirmReceipt {
		t.Errorf("notification kinds = %v, want [auction_won, confirm_receipt]", kinds)
	}

	// Settlement is idempotent: no second debit.
	res, err = f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("second Settle() error = %v", err)
	}
	if res != auction.ResultAlreadySettled {
		t.Errorf("second Settle() = %q, want %q", res, auction.ResultAlreadySettled)
	}
	if f.wallet.debits != 1 {
		t.Errorf("debits = %d, want 1", f.wallet.debits)
	}

	// The holder confirms the transfer, reaching the terminal state.
	confirmed, err := f.registry.ConfirmTransaction(ctx, snap.ID, "holder")
	if err != nil {
		t.Fatalf("ConfirmTransaction() error = %v", err)
	}
	if confirmed.Status != auction.StatusSettled {
		t.Errorf("status after confirm = %q, want %q", confirmed.Status, auction.StatusSettled)
	}

	// Duplicate confirmation is a no-op success.
	confirmed, err = f.registry.ConfirmTransaction(ctx, snap.ID, "holder")
	if err != nil {
		t.Fatalf("duplicate ConfirmTransaction() error = %v", err)
	}
	if confirmed.Status != auction.StatusSettled {
		t.Errorf("status after duplicate confirm = %q, want %q", confirmed.Status, auction.StatusSettled)
	}
}

func TestRegistry_Settle_InsufficientBalanceThenRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.wallet.balances["m1"] = 100

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.PlaceBid(ctx, snap.ID, "m1", 200); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	res, err := f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res != auction.ResultInsufficientBalance {
		t.Fatalf("Settle() = %q, want %q", res, auction.ResultInsufficientBalance)
	}

	got, _ := f.registry.GetAuction(ctx, snap.ID)
	if got.Status != auction.StatusPending {
		t.Errorf("status = %q, want %q", got.Status, auction.StatusPending)
	}
	// The balance is untouched on a failed debit.
	if balance, _ := f.wallet.BalanceOf(ctx, "m1"); balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.BalanceHold {
		t.Errorf("notification kinds = %v, want [balance_hold]", kinds)
	}

	// After a recharge the retry completes at the original winning price.
	if err := f.wallet.Credit(ctx, "m1", 500, "raid payout"); err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	res, err = f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("retry Settle() error = %v", err)
	}
	if res != auction.ResultSettled {
		t.Fatalf("retry Settle() = %q, want %q", res, auction.ResultSettled)
	}
	got, _ = f.registry.GetAuction(ctx, snap.ID)
	if got.Status != auction.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, auction.StatusCompleted)
	}
	if balance, _ := f.wallet.BalanceOf(ctx, "m1"); balance != 400 {
		t.Errorf("balance after retry = %d, want 400", balance)
	}
}

func TestRegistry_Settle_WalletError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.PlaceBid(ctx, snap.ID, "m1", 200); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	f.wallet.err = fmt.Errorf("ledger unreachable")

	if _, err := f.registry.Settle(ctx, snap.ID); err == nil {
		t.Fatal("expected error when the wallet is unreachable")
	}

	// Status unchanged so the call can be retried.
	got, _ := f.registry.GetAuction(ctx, snap.ID)
	if got.Status != auction.StatusActive {
		t.Errorf("status = %q, want %q", got.Status, auction.StatusActive)
	}

	f.wallet.err = nil
	f.wallet.balances["m1"] = 500
	res, err := f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("retry Settle() error = %v", err)
	}
	if res != auction.ResultSettled {
		t.Errorf("retry Settle() = %q, want %q", res, auction.ResultSettled)
	}
}

func TestRegistry_Settle_NoBids(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	f.clock.Advance(2 * time.Hour)

	res, err := f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res != auction.ResultNotEligible {
		t.Errorf("Settle() = %q, want %q", res, auction.ResultNotEligible)
	}
	if f.wallet.debits != 0 {
		t.Errorf("debits = %d, want 0", f.wallet.debits)
	}
}

func TestRegistry_Settle_CancelledAuction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.CancelAuction(ctx, snap.ID, "holder"); err != nil {
		t.Fatalf("CancelAuction() error = %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	res, err := f.registry.Settle(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res != auction.ResultNotEligible {
		t.Errorf("Settle() = %q, want %q", res, auction.ResultNotEligible)
	}
}

func TestRegistry_Settle_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.registry.Settle(context.Background(), "nonexistent"); !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Errorf("Settle() error = %v, want ErrAuctionNotFound", err)
	}
}

func TestRegistry_PlaceBid_BuyoutTriggersSettlement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.wallet.balances["m1"] = 1000

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 300, baseTime.Add(time.Hour), "holder")

	got, err := f.registry.PlaceBid(ctx, snap.ID, "m1", 300)
	if err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if got.Status != auction.StatusCompleted {
		t.Errorf("status after buyout = %q, want %q", got.Status, auction.StatusCompleted)
	}
	if balance, _ := f.wallet.BalanceOf(ctx, "m1"); balance != 700 {
		t.Errorf("balance = %d, want 700", balance)
	}
}

func TestRegistry_CancelAuction_NotifiesHighestBidder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.PlaceBid(ctx, snap.ID, "m1", 150); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	got, err := f.registry.CancelAuction(ctx, snap.ID, "holder")
	if err != nil {
		t.Fatalf("CancelAuction() error = %v", err)
	}
	if got.Status != auction.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, auction.StatusCancelled)
	}

	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.AuctionCancelled {
		t.Errorf("notification kinds = %v, want [auction_cancelled]", kinds)
	}
	if f.notifier.events[0].RecipientID != "m1" {
		t.Errorf("recipient = %q, want m1", f.notifier.events[0].RecipientID)
	}
}

func TestRegistry_GetAuction_ReplayFallback(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.wallet.balances["m1"] = 500

	snap, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.PlaceBid(ctx, snap.ID, "m1", 150); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	// A second registry sharing the journal has nothing in memory and must
	// replay from events.
	other := auction.NewRegistry(f.events, newMockAuctionRepo(), &mockBidRepo{},
		f.wallet, f.notifier, slog.Default(), noop.NewTracerProvider(), f.clock)

	got, err := other.GetAuction(ctx, snap.ID)
	if err != nil {
		t.Fatalf("GetAuction() error = %v", err)
	}
	if got.CurrentPrice != 150 || got.HighestBidderID != "m1" {
		t.Errorf("replayed price/leader = %d/%q, want 150/m1", got.CurrentPrice, got.HighestBidderID)
	}

	bids, err := other.BidHistory(ctx, snap.ID)
	if err != nil {
		t.Fatalf("BidHistory() error = %v", err)
	}
	if len(bids) != 1 {
		t.Errorf("bids = %d, want 1", len(bids))
	}
}

func TestRegistry_GetAuction_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.registry.GetAuction(context.Background(), "nonexistent"); !errors.Is(err, auction.ErrAuctionNotFound) {
		t.Errorf("GetAuction() error = %v, want ErrAuctionNotFound", err)
	}
}

func TestRegistry_DueForSettlement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.wallet.balances["m1"] = 0

	// Past deadline with a bid: due.
	withBid, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.PlaceBid(ctx, withBid.ID, "m1", 150); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	// Past deadline without bids: not due.
	_, _ = f.registry.CreateAuction(ctx, "item-2", 100, 0, baseTime.Add(time.Hour), "holder")

	// Still running: not due.
	_, _ = f.registry.CreateAuction(ctx, "item-3", 100, 0, baseTime.Add(24*time.Hour), "holder")

	f.clock.Advance(2 * time.Hour)

	due := f.registry.DueForSettlement(f.clock.Now())
	if len(due) != 1 || due[0] != withBid.ID {
		t.Fatalf("DueForSettlement() = %v, want [%s]", due, withBid.ID)
	}

	// A failed debit parks the auction in pending; it stays due for retry.
	if res, err := f.registry.Settle(ctx, withBid.ID); err != nil || res != auction.ResultInsufficientBalance {
		t.Fatalf("Settle() = %q, %v", res, err)
	}
	due = f.registry.DueForSettlement(f.clock.Now())
	if len(due) != 1 || due[0] != withBid.ID {
		t.Errorf("DueForSettlement() after deferral = %v, want [%s]", due, withBid.ID)
	}
}

func TestRegistry_Recover(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.wallet.balances["m1"] = 500

	active, _ := f.registry.CreateAuction(ctx, "item-1", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.PlaceBid(ctx, active.ID, "m1", 150); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	cancelled, _ := f.registry.CreateAuction(ctx, "item-2", 100, 0, baseTime.Add(time.Hour), "holder")
	if _, err := f.registry.CancelAuction(ctx, cancelled.ID, "holder"); err != nil {
		t.Fatalf("CancelAuction() error = %v", err)
	}

	// A fresh registry over the same journal recovers only non-terminal
	// auctions.
	recovered := auction.NewRegistry(f.events, newMockAuctionRepo(), &mockBidRepo{},
		f.wallet, f.notifier, slog.Default(), noop.NewTracerProvider(), f.clock)

	n, err := recovered.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Recover() = %d, want 1", n)
	}

	// The recovered auction keeps working: deadline passes, sweep settles it.
	f.clock.Advance(2 * time.Hour)
	res, err := recovered.Settle(ctx, active.ID)
	if err != nil {
		t.Fatalf("Settle() after recovery error = %v", err)
	}
	if res != auction.ResultSettled {
		t.Errorf("Settle() after recovery = %q, want %q", res, auction.ResultSettled)
	}
}

func TestRegistry_ConcurrentBidsAcrossAuctions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a1, _ := f.registry.CreateAuction(ctx, "item-1", 0, 0, baseTime.Add(time.Hour), "holder")
	a2, _ := f.registry.CreateAuction(ctx, "item-2", 0, 0, baseTime.Add(time.Hour), "holder")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := a1.ID
			if idx%2 == 0 {
				id = a2.ID
			}
			_, _ = f.registry.PlaceBid(ctx, id, fmt.Sprintf("member-%d", idx), idx+1)
		}(i)
	}
	wg.Wait()

	for _, id := range []string{a1.ID, a2.ID} {
		bids, err := f.registry.BidHistory(ctx, id)
		if err != nil {
			t.Fatalf("BidHistory(%s) error = %v", id, err)
		}
		for i := 1; i < len(bids); i++ {
			if bids[i].Amount <= bids[i-1].Amount {
				t.Errorf("auction %s: bid %d amount %d does not exceed previous %d", id, i, bids[i].Amount, bids[i-1].Amount)
			}
		}
	}
}
