package auction_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/auctionerrors"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/event"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/ledger/ledgertest"
	"github.com/jensholdgaard/auctiond/internal/ledger/memory"
)

type fixture struct {
	store   *memory.Store
	clk     *clock.Manual
	mgr     *auction.Manager
	seller  ledger.User
	bidder  ledger.User
	rival   ledger.User
	cat     ledger.Category
	item    ledger.Item
	auction ledger.Auction
}

func setup(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(now)
	s := memory.New(clk)
	f := &fixture{
		store:  s,
		clk:    clk,
		mgr:    auction.NewManager(s, nil, slog.Default(), noop.NewTracerProvider(), clk),
		seller: ledgertest.User(t, s, "seller", 0),
		bidder: ledgertest.User(t, s, "bidder", 100),
		rival:  ledgertest.User(t, s, "rival", 100),
		cat:    ledgertest.Category(t, s, "books"),
	}
	f.item, f.auction = ledgertest.Listing(t, s, f.seller.ID, f.cat.ID, 10, now.Add(-time.Hour), now.Add(time.Hour))
	return f
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestManager_SubmitBid(t *testing.T) {
	tests := []struct {
		name    string
		prior   []int64
		itemID  func(f *fixture) int64
		bidder  func(f *fixture) int64
		amount  decimal.Decimal
		wantErr error
	}{
		{name: "opening bid at minimum", amount: dec(10)},
		{name: "opening bid below minimum", amount: dec(9), wantErr: auctionerrors.ErrBidTooLow},
		{name: "outbids highest", prior: []int64{20}, amount: dec(21)},
		{name: "equal to highest", prior: []int64{20}, amount: dec(20), wantErr: auctionerrors.ErrBidTooLow},
		{name: "below highest", prior: []int64{20}, amount: dec(15), wantErr: auctionerrors.ErrBidTooLow},
		{name: "zero amount", amount: decimal.Zero, wantErr: auctionerrors.ErrInvalidAmount},
		{name: "negative amount", amount: dec(-5), wantErr: auctionerrors.ErrInvalidAmount},
		{
			name:    "unknown item",
			itemID:  func(*fixture) int64 { return 999 },
			amount:  dec(50),
			wantErr: auctionerrors.ErrItemNotFound,
		},
		{
			name:    "unknown bidder",
			bidder:  func(*fixture) int64 { return 999 },
			amount:  dec(50),
			wantErr: auctionerrors.ErrBidderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			for _, p := range tt.prior {
				ledgertest.Bid(t, f.store, f.auction, f.rival.ID, p, now)
			}
			itemID, bidderID := f.item.ID, f.bidder.ID
			if tt.itemID != nil {
				itemID = tt.itemID(f)
			}
			if tt.bidder != nil {
				bidderID = tt.bidder(f)
			}

			bid, err := f.mgr.SubmitBid(context.Background(), itemID, bidderID, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SubmitBid err = %v, want %v", err, tt.wantErr)
			}

			bids := ledgertest.Bids(t, f.store, f.item.ID)
			if tt.wantErr != nil {
				if len(bids) != len(tt.prior) {
					t.Errorf("rejected bid persisted: %d bids, want %d", len(bids), len(tt.prior))
				}
				return
			}
			if bids[0].ID != bid.ID || !bids[0].Amount.Equal(tt.amount) {
				t.Errorf("highest = %+v, want the new bid %+v", bids[0], bid)
			}
			if bid.IsWon {
				t.Error("new bid must not be marked won")
			}
			if !bid.BidTime.Equal(now) {
				t.Errorf("BidTime = %v, want %v", bid.BidTime, now)
			}
		})
	}
}

func TestManager_SubmitBidOutsideWindow(t *testing.T) {
	tests := []struct {
		name  string
		start time.Duration
		end   time.Duration
	}{
		{"not started", time.Hour, 2 * time.Hour},
		{"ended", -2 * time.Hour, -time.Hour},
		{"ends exactly now", -time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			it, _ := ledgertest.Listing(t, f.store, f.seller.ID, f.cat.ID, 1, now.Add(tt.start), now.Add(tt.end))

			_, err := f.mgr.SubmitBid(context.Background(), it.ID, f.bidder.ID, dec(50))
			if !errors.Is(err, auctionerrors.ErrAuctionNotOpen) {
				t.Fatalf("err = %v, want ErrAuctionNotOpen", err)
			}
			if bids := ledgertest.Bids(t, f.store, it.ID); len(bids) != 0 {
				t.Errorf("got %d bids, want none", len(bids))
			}
		})
	}
}

func TestManager_SubmitBidNoAuction(t *testing.T) {
	f := setup(t)
	var orphan ledger.Item
	err := f.store.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		orphan = ledger.Item{CategoryID: f.cat.ID, SellerID: f.seller.ID, Name: "orphan"}
		return tx.Items().Create(ctx, &orphan)
	})
	if err != nil {
		t.Fatalf("creating item: %v", err)
	}

	_, err = f.mgr.SubmitBid(context.Background(), orphan.ID, f.bidder.ID, dec(5))
	if !errors.Is(err, auctionerrors.ErrAuctionNotFound) {
		t.Fatalf("err = %v, want ErrAuctionNotFound", err)
	}
}

func TestManager_SubmitBidDoesNotTouchFunds(t *testing.T) {
	f := setup(t)
	if _, err := f.mgr.SubmitBid(context.Background(), f.item.ID, f.bidder.ID, dec(80)); err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if got := ledgertest.Funds(t, f.store, f.bidder.ID); !got.Equal(dec(100)) {
		t.Errorf("bidder funds = %s, want 100", got)
	}
}

func TestManager_ConcurrentBidsStrictlyIncrease(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	accepted := make(chan *ledger.Bid, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			bid, err := f.mgr.SubmitBid(ctx, f.item.ID, f.bidder.ID, dec(amount))
			if err == nil {
				accepted <- bid
			} else if !errors.Is(err, auctionerrors.ErrBidTooLow) {
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(10 + i%25))
	}
	wg.Wait()
	close(accepted)

	n := 0
	for range accepted {
		n++
	}
	bids := ledgertest.Bids(t, f.store, f.item.ID)
	if len(bids) != n {
		t.Fatalf("stored %d bids, accepted %d", len(bids), n)
	}
	if n == 0 {
		t.Fatal("no bid accepted")
	}
	// Admission order is id order; amounts must rise with it.
	for i := 1; i < len(bids); i++ {
		if bids[i-1].ID < bids[i].ID {
			t.Errorf("ranking %v above %v contradicts admission order", bids[i-1], bids[i])
		}
		if !bids[i-1].Amount.GreaterThan(bids[i].Amount) {
			t.Errorf("amounts not strictly increasing: %s then %s", bids[i].Amount, bids[i-1].Amount)
		}
	}
}

func TestManager_SubmitBidRecordsEvent(t *testing.T) {
	f := setup(t)
	bid, err := f.mgr.SubmitBid(context.Background(), f.item.ID, f.bidder.ID, dec(12))
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}

	events, err := f.mgr.History(context.Background(), f.item.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 1 || events[0].Type != event.BidAccepted {
		t.Fatalf("events = %+v, want one bid.accepted", events)
	}
	if events[0].AggregateID != event.ItemAggregate(f.item.ID) {
		t.Errorf("AggregateID = %q", events[0].AggregateID)
	}
	var data event.BidAcceptedData
	if err := json.Unmarshal(events[0].Data, &data); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if data.BidID != bid.ID || !data.Amount.Equal(dec(12)) {
		t.Errorf("payload = %+v", data)
	}
}

func TestManager_ListItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	valid := auction.Listing{
		CategoryID:   f.cat.ID,
		Name:         "lamp",
		MinBidAmount: dec(5),
		StartTime:    now.Add(time.Hour),
		EndTime:      now.Add(48 * time.Hour),
	}

	item, a, err := f.mgr.ListItem(ctx, f.seller.ID, valid)
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}
	if item.SellerID != f.seller.ID || item.Condition != ledger.ConditionUsed {
		t.Errorf("item = %+v", item)
	}
	if a.ItemID != item.ID || !a.IsOpen {
		t.Errorf("auction = %+v", a)
	}

	events, err := f.mgr.History(ctx, item.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 1 || events[0].Type != event.ItemListed {
		t.Errorf("events = %+v, want one item.listed", events)
	}

	tests := []struct {
		name    string
		mutate  func(l *auction.Listing)
		seller  int64
		wantErr error
	}{
		{"empty name", func(l *auction.Listing) { l.Name = " " }, f.seller.ID, auctionerrors.ErrInvalidListing},
		{"negative minimum", func(l *auction.Listing) { l.MinBidAmount = dec(-1) }, f.seller.ID, auctionerrors.ErrInvalidListing},
		{"end before start", func(l *auction.Listing) { l.EndTime = l.StartTime.Add(-time.Minute) }, f.seller.ID, auctionerrors.ErrInvalidListing},
		{"missing times", func(l *auction.Listing) { l.StartTime = time.Time{} }, f.seller.ID, auctionerrors.ErrInvalidListing},
		{"bad condition", func(l *auction.Listing) { l.Condition = "mint" }, f.seller.ID, auctionerrors.ErrInvalidListing},
		{"unknown category", func(l *auction.Listing) { l.CategoryID = 999 }, f.seller.ID, auctionerrors.ErrCategoryNotFound},
		{"unknown seller", func(*auction.Listing) {}, 999, auctionerrors.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid
			tt.mutate(&l)
			if _, _, err := f.mgr.ListItem(ctx, tt.seller, l); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_AddCategory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.mgr.AddCategory(ctx, "  lamps ")
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	if c.Name != "lamps" || c.ID == 0 {
		t.Errorf("category = %+v", c)
	}
	if _, err := f.mgr.AddCategory(ctx, "lamps"); !errors.Is(err, auctionerrors.ErrInvalidListing) {
		t.Errorf("duplicate err = %v, want ErrInvalidListing", err)
	}
	if _, err := f.mgr.AddCategory(ctx, ""); !errors.Is(err, auctionerrors.ErrInvalidListing) {
		t.Errorf("empty err = %v, want ErrInvalidListing", err)
	}

	cats, err := f.mgr.Categories(ctx)
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "books" || cats[1].Name != "lamps" {
		t.Errorf("categories = %+v", cats)
	}
}

func TestManager_Queries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ledgertest.Bid(t, f.store, f.auction, f.bidder.ID, 15, now)
	top := ledgertest.Bid(t, f.store, f.auction, f.rival.ID, 25, now)
	upcoming, _ := ledgertest.Listing(t, f.store, f.seller.ID, f.cat.ID, 1, now.Add(time.Hour), now.Add(2*time.Hour))
	ledgertest.Listing(t, f.store, f.seller.ID, f.cat.ID, 1, now.Add(-3*time.Hour), now.Add(-time.Hour))

	d, err := f.mgr.AuctionDetails(ctx, f.item.ID)
	if err != nil {
		t.Fatalf("AuctionDetails: %v", err)
	}
	if d.Phase != auction.PhaseOpen || d.Highest == nil || d.Highest.ID != top.ID {
		t.Errorf("details = %+v", d)
	}

	highest, err := f.mgr.HighestBid(ctx, f.item.ID)
	if err != nil || highest.ID != top.ID {
		t.Errorf("HighestBid = %+v, %v", highest, err)
	}
	if _, err := f.mgr.HighestBid(ctx, upcoming.ID); !errors.Is(err, auctionerrors.ErrNoBidsRecorded) {
		t.Errorf("HighestBid without bids err = %v", err)
	}

	bids, err := f.mgr.Bids(ctx, f.item.ID)
	if err != nil || len(bids) != 2 || bids[0].ID != top.ID {
		t.Errorf("Bids = %+v, %v", bids, err)
	}
	if _, err := f.mgr.Bids(ctx, 999); !errors.Is(err, auctionerrors.ErrItemNotFound) {
		t.Errorf("Bids unknown item err = %v", err)
	}

	list, err := f.mgr.UpcomingAuctions(ctx)
	if err != nil {
		t.Fatalf("UpcomingAuctions: %v", err)
	}
	if len(list) != 2 || list[0].ItemID != f.item.ID || list[1].ItemID != upcoming.ID {
		t.Errorf("UpcomingAuctions = %+v", list)
	}

	items, err := f.mgr.ItemsBySeller(ctx, f.seller.ID)
	if err != nil || len(items) != 3 {
		t.Errorf("ItemsBySeller = %d items, %v", len(items), err)
	}
	if _, err := f.mgr.ItemsBySeller(ctx, 999); !errors.Is(err, auctionerrors.ErrUserNotFound) {
		t.Errorf("ItemsBySeller unknown err = %v", err)
	}
}

func TestManager_OnBidAccepted(t *testing.T) {
	f := setup(t)
	var got []ledger.Bid
	f.mgr.OnBidAccepted(func(_ context.Context, b ledger.Bid) { got = append(got, b) })

	if _, err := f.mgr.SubmitBid(context.Background(), f.item.ID, f.bidder.ID, dec(15)); err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if _, err := f.mgr.SubmitBid(context.Background(), f.item.ID, f.rival.ID, dec(15)); err == nil {
		t.Fatal("expected equal bid to be rejected")
	}

	if len(got) != 1 {
		t.Fatalf("listener called %d times, want 1", len(got))
	}
	if got[0].BidderID != f.bidder.ID || !got[0].Amount.Equal(dec(15)) {
		t.Errorf("listener got %+v", got[0])
	}
}
