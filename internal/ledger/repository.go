package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Lookups that find no row return the matching auctionerrors sentinel
// (ErrUserNotFound, ErrItemNotFound, ...). Conditional writes that find
// nothing left to change return auctionerrors.ErrAlreadySettled.

// UserRepository defines user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	SetPremium(ctx context.Context, id int64, premium bool) error
}

// AccountRepository defines account persistence operations.
type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, userID int64) (*Account, error)
	// Lock returns the account and holds it exclusively until the
	// transaction ends.
	Lock(ctx context.Context, userID int64) (*Account, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) (*Account, error)
	// Debit fails with ErrInsufficientFunds instead of driving funds negative.
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (*Account, error)
}

// CategoryRepository defines category persistence operations.
type CategoryRepository interface {
	Create(ctx context.Context, c *Category) error
	GetByID(ctx context.Context, id int64) (*Category, error)
	GetByName(ctx context.Context, name string) (*Category, error)
	List(ctx context.Context) ([]Category, error)
}

// ItemRepository defines item persistence operations.
type ItemRepository interface {
	Create(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, id int64) (*Item, error)
	// Lock returns the item and holds it exclusively until the transaction
	// ends. Bid admission and settlement for one item serialize on it.
	Lock(ctx context.Context, id int64) (*Item, error)
	MarkSold(ctx context.Context, id, buyerID int64, amount decimal.Decimal) error
	ListBySeller(ctx context.Context, sellerID int64) ([]Item, error)
	// ListSuggestable returns items in any of categoryIDs that userID
	// neither sells nor has bid on, ordered by id.
	ListSuggestable(ctx context.Context, categoryIDs []int64, userID int64) ([]Item, error)
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByItemID(ctx context.Context, itemID int64) (*Auction, error)
	// Close flips IsOpen to false. It fails with ErrAlreadySettled when the
	// auction is already closed.
	Close(ctx context.Context, id int64) error
	// ListUpcomingOrOpen returns auctions that start after now, or are open
	// and end after now.
	ListUpcomingOrOpen(ctx context.Context, now time.Time) ([]Auction, error)
	// ListDue returns open auctions whose end time is not after now.
	ListDue(ctx context.Context, now time.Time) ([]Auction, error)
	ListByItemIDs(ctx context.Context, itemIDs []int64) ([]Auction, error)
}

// BidRepository defines bid persistence operations.
type BidRepository interface {
	Create(ctx context.Context, b *Bid) error
	// Highest returns the top ranked bid for the item, or ErrNoBidsRecorded.
	Highest(ctx context.Context, itemID int64) (*Bid, error)
	// ListByItem returns an item's bids, highest first.
	ListByItem(ctx context.Context, itemID int64) ([]Bid, error)
	// MarkWon sets IsWon. It fails with ErrAlreadySettled when already set.
	MarkWon(ctx context.Context, bidID int64) error
	// CategoryIDsByBidder returns the distinct categories of items the
	// bidder has bid on.
	CategoryIDsByBidder(ctx context.Context, bidderID int64) ([]int64, error)
}
