// Package ledgertest seeds ledger stores for tests. Helpers write straight
// through the repositories and fail the test on error.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/ledger"
)

// User creates a user with an account holding funds.
func User(t testing.TB, s ledger.Store, name string, funds int64) ledger.User {
	t.Helper()
	u := ledger.User{Name: name}
	atomic(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Users().Create(ctx, &u); err != nil {
			return err
		}
		return tx.Accounts().Create(ctx, &ledger.Account{UserID: u.ID, Funds: decimal.NewFromInt(funds)})
	})
	return u
}

// Category creates a category.
func Category(t testing.TB, s ledger.Store, name string) ledger.Category {
	t.Helper()
	c := ledger.Category{Name: name}
	atomic(t, s, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Categories().Create(ctx, &c)
	})
	return c
}

// Listing creates an item and its open auction running from start to end.
func Listing(t testing.TB, s ledger.Store, sellerID, categoryID int64, minBid int64, start, end time.Time) (ledger.Item, ledger.Auction) {
	t.Helper()
	it := ledger.Item{
		CategoryID:   categoryID,
		SellerID:     sellerID,
		Name:         "item",
		Condition:    ledger.ConditionUsed,
		MinBidAmount: decimal.NewFromInt(minBid),
	}
	var a ledger.Auction
	atomic(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Items().Create(ctx, &it); err != nil {
			return err
		}
		a = ledger.Auction{ItemID: it.ID, SellerID: sellerID, StartTime: start, EndTime: end, IsOpen: true}
		return tx.Auctions().Create(ctx, &a)
	})
	return it, a
}

// Bid records a bid without admission checks.
func Bid(t testing.TB, s ledger.Store, a ledger.Auction, bidderID int64, amount int64, at time.Time) ledger.Bid {
	t.Helper()
	b := ledger.Bid{
		AuctionID: a.ID,
		ItemID:    a.ItemID,
		BidderID:  bidderID,
		Amount:    decimal.NewFromInt(amount),
		BidTime:   at,
	}
	atomic(t, s, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Bids().Create(ctx, &b)
	})
	return b
}

// Funds returns the user's current balance.
func Funds(t testing.TB, s ledger.Store, userID int64) decimal.Decimal {
	t.Helper()
	var funds decimal.Decimal
	view(t, s, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.Accounts().Get(ctx, userID)
		if err != nil {
			return err
		}
		funds = a.Funds
		return nil
	})
	return funds
}

// Bids returns the item's bids, highest first.
func Bids(t testing.TB, s ledger.Store, itemID int64) []ledger.Bid {
	t.Helper()
	var bids []ledger.Bid
	view(t, s, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		bids, err = tx.Bids().ListByItem(ctx, itemID)
		return err
	})
	return bids
}

// Item returns the item as stored.
func Item(t testing.TB, s ledger.Store, itemID int64) ledger.Item {
	t.Helper()
	var it ledger.Item
	view(t, s, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.Items().GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		it = *got
		return nil
	})
	return it
}

// Auction returns the item's auction as stored.
func Auction(t testing.TB, s ledger.Store, itemID int64) ledger.Auction {
	t.Helper()
	var a ledger.Auction
	view(t, s, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.Auctions().GetByItemID(ctx, itemID)
		if err != nil {
			return err
		}
		a = *got
		return nil
	})
	return a
}

func atomic(t testing.TB, s ledger.Store, fn func(ctx context.Context, tx ledger.Tx) error) {
	t.Helper()
	if err := s.Atomic(context.Background(), fn); err != nil {
		t.Fatalf("seeding ledger: %v", err)
	}
}

func view(t testing.TB, s ledger.Store, fn func(ctx context.Context, tx ledger.Tx) error) {
	t.Helper()
	if err := s.View(context.Background(), fn); err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
}
