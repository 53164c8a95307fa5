// Package ledger holds the auction data model and the unit-of-work
// contract that storage drivers implement. Entities reference each other
// by id only; related records are fetched explicitly through a Tx.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a marketplace participant. Every user owns exactly one Account.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Premium   bool      `db:"premium" json:"premium"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Account holds a user's spendable funds.
type Account struct {
	UserID    int64           `db:"user_id" json:"user_id"`
	Funds     decimal.Decimal `db:"funds" json:"funds"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Category groups items for browsing and suggestions.
type Category struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Condition describes the physical state of a listed item.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionLikeNew     Condition = "like_new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionUsed, ConditionRefurbished:
		return true
	}
	return false
}

// Item is a listed good. BuyerID and SellingAmount are written once, by
// settlement.
type Item struct {
	ID            int64               `db:"id" json:"id"`
	CategoryID    int64               `db:"category_id" json:"category_id"`
	SellerID      int64               `db:"seller_id" json:"seller_id"`
	BuyerID       *int64              `db:"buyer_id" json:"buyer_id,omitempty"`
	Name          string              `db:"name" json:"name"`
	Maker         string              `db:"maker" json:"maker"`
	Description   string              `db:"description" json:"description"`
	Condition     Condition           `db:"condition" json:"condition"`
	MinBidAmount  decimal.Decimal     `db:"min_bid_amount" json:"min_bid_amount"`
	SellingAmount decimal.NullDecimal `db:"selling_amount" json:"selling_amount"`
	PricePaid     decimal.NullDecimal `db:"price_paid" json:"price_paid"`
	Currency      string              `db:"currency" json:"currency"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// Auction is the time-bounded sale of exactly one item. IsOpen starts true
// and flips to false once, when the auction is settled or closed unsold.
type Auction struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	SellerID  int64     `db:"seller_id" json:"seller_id"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	IsOpen    bool      `db:"is_open" json:"is_open"`
}

// UpcomingOrOpen reports whether the auction has not started yet, or is
// open and has not reached its end time.
func (a Auction) UpcomingOrOpen(now time.Time) bool {
	return a.StartTime.After(now) || (a.IsOpen && a.EndTime.After(now))
}

// Due reports whether the auction is still open although its end time has
// passed, making it eligible for settlement.
func (a Auction) Due(now time.Time) bool {
	return a.IsOpen && !a.EndTime.After(now)
}

// Bid is an offer on an item. Bids are immutable apart from IsWon, which
// settlement sets on the single highest bid of an item.
type Bid struct {
	ID        int64           `db:"id" json:"id"`
	AuctionID int64           `db:"auction_id" json:"auction_id"`
	ItemID    int64           `db:"item_id" json:"item_id"`
	BidderID  int64           `db:"bidder_id" json:"bidder_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	BidTime   time.Time       `db:"bid_time" json:"bid_time"`
	IsWon     bool            `db:"is_won" json:"is_won"`
}

// Outranks reports whether b sorts ahead of o in an item's bid order:
// higher amount first, earlier insertion on ties.
func (b Bid) Outranks(o Bid) bool {
	if c := b.Amount.Cmp(o.Amount); c != 0 {
		return c > 0
	}
	return b.ID < o.ID
}
